package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SourceKind identifies the system a document came from
type SourceKind string

const (
	SourceKindMail  SourceKind = "mail"
	SourceKindFile  SourceKind = "file"
	SourceKindEvent SourceKind = "event"
)

// Valid reports whether the kind is one of the known source kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceKindMail, SourceKindFile, SourceKindEvent:
		return true
	}
	return false
}

// Document is the producer-supplied record for one ingestion job.
// DocumentID is stable across re-ingestion of the same source item, which is
// what makes the upsert idempotent.
type Document struct {
	DocumentID  string           `json:"document_id"`
	SourceKind  SourceKind       `json:"source_kind"`
	Title       string           `json:"title"`
	Body        string           `json:"body"`
	ChunkIndex  int              `json:"chunk_index"`
	TotalChunks int              `json:"total_chunks"`
	OccurredAt  time.Time        `json:"occurred_at"`
	Attributes  SourceAttributes `json:"attributes"`
}

// SourceAttributes holds kind-specific fields as a tagged union.
// Exactly one variant is set, matching the document's SourceKind; the
// generic map form exists only at the vector-store payload boundary.
type SourceAttributes struct {
	Mail  *MailAttributes  `json:"mail,omitempty"`
	File  *FileAttributes  `json:"file,omitempty"`
	Event *EventAttributes `json:"event,omitempty"`
}

// MailAttributes carries mail-specific fields
type MailAttributes struct {
	From     string `json:"from"`
	ThreadID string `json:"thread_id,omitempty"`
}

// FileAttributes carries file-specific fields
type FileAttributes struct {
	MimeType string   `json:"mime_type"`
	Size     int64    `json:"size,omitempty"`
	WebLink  string   `json:"web_link,omitempty"`
	Owners   []string `json:"owners,omitempty"`
}

// EventAttributes carries calendar-event-specific fields
type EventAttributes struct {
	Location  string     `json:"location,omitempty"`
	Attendees []string   `json:"attendees,omitempty"`
	Organizer string     `json:"organizer,omitempty"`
	EndsAt    *time.Time `json:"ends_at,omitempty"`
	Status    string     `json:"status,omitempty"`
}

// Validate checks that the document can be embedded.
// A document with empty title AND empty body is a producer bug and is
// rejected before it ever reaches the embedding service.
func (d *Document) Validate() error {
	if d.DocumentID == "" {
		return fmt.Errorf("%w: document_id is required", ErrInvalidInput)
	}
	if !d.SourceKind.Valid() {
		return fmt.Errorf("%w: unknown source kind %q", ErrInvalidInput, d.SourceKind)
	}
	if strings.TrimSpace(d.Title) == "" && strings.TrimSpace(d.Body) == "" {
		return fmt.Errorf("%w: document %s has empty title and body", ErrInvalidInput, d.DocumentID)
	}
	if d.ChunkIndex < 0 {
		return fmt.Errorf("%w: chunk_index must be >= 0", ErrInvalidInput)
	}
	if d.TotalChunks < 1 {
		return fmt.Errorf("%w: total_chunks must be >= 1", ErrInvalidInput)
	}
	if d.ChunkIndex >= d.TotalChunks {
		return fmt.Errorf("%w: chunk_index %d out of range for %d chunks", ErrInvalidInput, d.ChunkIndex, d.TotalChunks)
	}
	return nil
}

// EmbeddableText builds the text sent to the embedding service:
// title and body joined with a space, whitespace-trimmed.
func (d *Document) EmbeddableText() string {
	return strings.TrimSpace(d.Title + " " + d.Body)
}

// Flatten converts the attribute union to the flat string map stored in the
// vector-store payload.
func (a SourceAttributes) Flatten() map[string]string {
	out := make(map[string]string)
	switch {
	case a.Mail != nil:
		out["from"] = a.Mail.From
		if a.Mail.ThreadID != "" {
			out["thread_id"] = a.Mail.ThreadID
		}
	case a.File != nil:
		out["mime_type"] = a.File.MimeType
		if a.File.Size > 0 {
			out["size"] = strconv.FormatInt(a.File.Size, 10)
		}
		if a.File.WebLink != "" {
			out["web_link"] = a.File.WebLink
		}
		if len(a.File.Owners) > 0 {
			out["owners"] = strings.Join(a.File.Owners, ",")
		}
	case a.Event != nil:
		if a.Event.Location != "" {
			out["location"] = a.Event.Location
		}
		if len(a.Event.Attendees) > 0 {
			out["attendees"] = strings.Join(a.Event.Attendees, ",")
		}
		if a.Event.Organizer != "" {
			out["organizer"] = a.Event.Organizer
		}
		if a.Event.EndsAt != nil {
			out["ends_at"] = a.Event.EndsAt.Format(time.RFC3339)
		}
		if a.Event.Status != "" {
			out["status"] = a.Event.Status
		}
	}
	return out
}

// ExpandAttributes rebuilds the attribute union from a flattened payload map.
// Unknown keys are ignored; the kind decides which variant is populated.
func ExpandAttributes(kind SourceKind, m map[string]string) SourceAttributes {
	if len(m) == 0 {
		return SourceAttributes{}
	}
	switch kind {
	case SourceKindMail:
		return SourceAttributes{Mail: &MailAttributes{
			From:     m["from"],
			ThreadID: m["thread_id"],
		}}
	case SourceKindFile:
		f := &FileAttributes{
			MimeType: m["mime_type"],
			WebLink:  m["web_link"],
		}
		if s, err := strconv.ParseInt(m["size"], 10, 64); err == nil {
			f.Size = s
		}
		if m["owners"] != "" {
			f.Owners = strings.Split(m["owners"], ",")
		}
		return SourceAttributes{File: f}
	case SourceKindEvent:
		e := &EventAttributes{
			Location:  m["location"],
			Organizer: m["organizer"],
			Status:    m["status"],
		}
		if m["attendees"] != "" {
			e.Attendees = strings.Split(m["attendees"], ",")
		}
		if t, err := time.Parse(time.RFC3339, m["ends_at"]); err == nil {
			e.EndsAt = &t
		}
		return SourceAttributes{Event: e}
	}
	return SourceAttributes{}
}
