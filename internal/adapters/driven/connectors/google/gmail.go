package google

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"

	"github.com/tessera-labs/semdex/internal/core/domain"
	"github.com/tessera-labs/semdex/internal/core/ports/driven"
)

const (
	// gmailMaxResults caps one harvest pass. Conservative for quota units.
	gmailMaxResults = 50

	// gmailRequestDelay spaces out the per-message metadata fetches.
	gmailRequestDelay = 100 * time.Millisecond
)

var _ driven.Connector = (*GmailConnector)(nil)

// GmailConnector fetches recent mail metadata and maps each message to a
// Document. Message bodies are not downloaded; the snippet is enough for
// embedding and keeps quota usage low.
type GmailConnector struct {
	svc     *gmail.Service
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewGmailConnector creates a connector over an authenticated Gmail service.
func NewGmailConnector(svc *gmail.Service, logger *slog.Logger) *GmailConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &GmailConnector{
		svc:     svc,
		limiter: rate.NewLimiter(rate.Every(gmailRequestDelay), 1),
		logger:  logger.With("connector", "gmail"),
	}
}

// Kind identifies the documents this connector produces.
func (c *GmailConnector) Kind() domain.SourceKind {
	return domain.SourceKindMail
}

// Fetch lists recent messages and resolves their Subject/From/Date headers.
// A single unfetchable message is skipped, not fatal.
func (c *GmailConnector) Fetch(ctx context.Context) ([]*domain.Document, error) {
	list, err := c.svc.Users.Messages.List("me").
		MaxResults(gmailMaxResults).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	docs := make([]*domain.Document, 0, len(list.Messages))
	for _, ref := range list.Messages {
		if err := c.limiter.Wait(ctx); err != nil {
			return docs, err
		}

		msg, err := c.svc.Users.Messages.Get("me", ref.Id).
			Format("metadata").
			MetadataHeaders("Subject", "From", "Date").
			Context(ctx).Do()
		if err != nil {
			c.logger.Warn("skipping unfetchable message", "message_id", ref.Id, "error", err)
			continue
		}

		docs = append(docs, messageToDocument(msg))
	}

	return docs, nil
}

func messageToDocument(msg *gmail.Message) *domain.Document {
	subject := "No Subject"
	from := "Unknown"
	var occurredAt time.Time

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "Subject":
				if h.Value != "" {
					subject = h.Value
				}
			case "From":
				if h.Value != "" {
					from = h.Value
				}
			case "Date":
				if t, err := mail.ParseDate(h.Value); err == nil {
					occurredAt = t
				}
			}
		}
	}
	if occurredAt.IsZero() && msg.InternalDate > 0 {
		occurredAt = time.UnixMilli(msg.InternalDate)
	}

	return &domain.Document{
		DocumentID:  msg.Id,
		SourceKind:  domain.SourceKindMail,
		Title:       subject,
		Body:        msg.Snippet,
		ChunkIndex:  0,
		TotalChunks: 1,
		OccurredAt:  occurredAt,
		Attributes: domain.SourceAttributes{
			Mail: &domain.MailAttributes{
				From:     from,
				ThreadID: msg.ThreadId,
			},
		},
	}
}
