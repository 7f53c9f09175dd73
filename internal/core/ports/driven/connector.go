package driven

import (
	"context"

	"github.com/tessera-labs/semdex/internal/core/domain"
)

// Connector fetches raw documents from a source system.
// Connectors own pagination and rate limiting against their upstream API;
// the harvester only sees the resulting documents.
type Connector interface {
	// Kind returns the source kind this connector produces.
	Kind() domain.SourceKind

	// Fetch retrieves recent documents from the source.
	// Partial results with a nil error are acceptable when individual
	// items fail; connectors log and skip those.
	Fetch(ctx context.Context) ([]*domain.Document, error)
}
