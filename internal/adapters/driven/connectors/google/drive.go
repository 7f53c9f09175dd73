package google

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/drive/v3"

	"github.com/tessera-labs/semdex/internal/core/domain"
	"github.com/tessera-labs/semdex/internal/core/ports/driven"
)

const driveMaxResults = 100

var _ driven.Connector = (*DriveConnector)(nil)

// DriveConnector lists the most recently modified files and maps each to a
// Document. File contents are never downloaded; name and MIME type are the
// searchable surface.
type DriveConnector struct {
	svc    *drive.Service
	logger *slog.Logger
}

// NewDriveConnector creates a connector over an authenticated Drive service.
func NewDriveConnector(svc *drive.Service, logger *slog.Logger) *DriveConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &DriveConnector{
		svc:    svc,
		logger: logger.With("connector", "drive"),
	}
}

// Kind identifies the documents this connector produces.
func (c *DriveConnector) Kind() domain.SourceKind {
	return domain.SourceKindFile
}

// Fetch lists files ordered by modification time, newest first.
func (c *DriveConnector) Fetch(ctx context.Context) ([]*domain.Document, error) {
	list, err := c.svc.Files.List().
		PageSize(driveMaxResults).
		Fields("nextPageToken, files(id, name, mimeType, createdTime, modifiedTime, size, webViewLink, owners)").
		OrderBy("modifiedTime desc").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	docs := make([]*domain.Document, 0, len(list.Files))
	for _, f := range list.Files {
		docs = append(docs, fileToDocument(f))
	}
	return docs, nil
}

func fileToDocument(f *drive.File) *domain.Document {
	var occurredAt time.Time
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		occurredAt = t
	} else if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
		occurredAt = t
	}

	owners := make([]string, 0, len(f.Owners))
	for _, o := range f.Owners {
		if o.EmailAddress != "" {
			owners = append(owners, o.EmailAddress)
		}
	}

	return &domain.Document{
		DocumentID:  f.Id,
		SourceKind:  domain.SourceKindFile,
		Title:       f.Name,
		Body:        "File type: " + f.MimeType,
		ChunkIndex:  0,
		TotalChunks: 1,
		OccurredAt:  occurredAt,
		Attributes: domain.SourceAttributes{
			File: &domain.FileAttributes{
				MimeType: f.MimeType,
				Size:     f.Size,
				WebLink:  f.WebViewLink,
				Owners:   owners,
			},
		},
	}
}
