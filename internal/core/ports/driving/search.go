package driving

import (
	"context"

	"github.com/tessera-labs/semdex/internal/core/domain"
)

// SearchService answers natural-language queries against the index.
type SearchService interface {
	// Search embeds the query, runs a filtered similarity search, re-ranks
	// the candidates with a lexical signal and returns results ordered by
	// combined score. An empty result set is a valid outcome, not an error.
	Search(ctx context.Context, query string, opts domain.SearchOptions) ([]*domain.SearchResult, error)

	// SimilarByID finds documents similar to an already-indexed document.
	// Returns ErrNotFound when the document has no point in the store.
	SimilarByID(ctx context.Context, documentID string, opts domain.SearchOptions) ([]*domain.SearchResult, error)
}
