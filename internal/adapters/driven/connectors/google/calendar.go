package google

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/tessera-labs/semdex/internal/core/domain"
	"github.com/tessera-labs/semdex/internal/core/ports/driven"
)

const (
	calendarMaxResults = 250

	// calendarWindow is how far ahead the harvest looks.
	calendarWindow = 30 * 24 * time.Hour
)

var _ driven.Connector = (*CalendarConnector)(nil)

// CalendarConnector fetches upcoming events from the primary calendar.
type CalendarConnector struct {
	svc    *calendar.Service
	logger *slog.Logger

	// now is overridable for tests
	now func() time.Time
}

// NewCalendarConnector creates a connector over an authenticated Calendar service.
func NewCalendarConnector(svc *calendar.Service, logger *slog.Logger) *CalendarConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &CalendarConnector{
		svc:    svc,
		logger: logger.With("connector", "calendar"),
		now:    time.Now,
	}
}

// Kind identifies the documents this connector produces.
func (c *CalendarConnector) Kind() domain.SourceKind {
	return domain.SourceKindEvent
}

// Fetch lists single events in the next thirty days, ordered by start time.
func (c *CalendarConnector) Fetch(ctx context.Context) ([]*domain.Document, error) {
	now := c.now()
	list, err := c.svc.Events.List("primary").
		TimeMin(now.Format(time.RFC3339)).
		TimeMax(now.Add(calendarWindow).Format(time.RFC3339)).
		MaxResults(calendarMaxResults).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	docs := make([]*domain.Document, 0, len(list.Items))
	for _, ev := range list.Items {
		docs = append(docs, eventToDocument(ev))
	}
	return docs, nil
}

func eventToDocument(ev *calendar.Event) *domain.Document {
	title := ev.Summary
	if title == "" {
		title = "No Title"
	}

	occurredAt := parseEventTime(ev.Start)
	var endsAt *time.Time
	if t := parseEventTime(ev.End); !t.IsZero() {
		endsAt = &t
	}

	attendees := make([]string, 0, len(ev.Attendees))
	for _, a := range ev.Attendees {
		if a.Email != "" {
			attendees = append(attendees, a.Email)
		}
	}

	organizer := ""
	if ev.Organizer != nil {
		organizer = ev.Organizer.Email
	}

	return &domain.Document{
		DocumentID:  ev.Id,
		SourceKind:  domain.SourceKindEvent,
		Title:       title,
		Body:        ev.Description,
		ChunkIndex:  0,
		TotalChunks: 1,
		OccurredAt:  occurredAt,
		Attributes: domain.SourceAttributes{
			Event: &domain.EventAttributes{
				Location:  ev.Location,
				Attendees: attendees,
				Organizer: organizer,
				EndsAt:    endsAt,
				Status:    ev.Status,
			},
		},
	}
}

// parseEventTime handles both timed events (DateTime) and all-day events (Date).
func parseEventTime(edt *calendar.EventDateTime) time.Time {
	if edt == nil {
		return time.Time{}
	}
	if edt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, edt.DateTime); err == nil {
			return t
		}
	}
	if edt.Date != "" {
		if t, err := time.Parse("2006-01-02", edt.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}
