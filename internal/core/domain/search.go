package domain

import (
	"strings"
	"time"
)

// SearchOptions configures a retrieval request
type SearchOptions struct {
	// Limit is the maximum number of results to return (default 10)
	Limit int `json:"limit"`

	// ScoreThreshold is the minimum vector similarity considered at the
	// store. Hybrid re-ranking does not re-apply it.
	ScoreThreshold float64 `json:"score_threshold"`

	// SourceKind restricts results to one source when set
	SourceKind SourceKind `json:"source_kind,omitempty"`

	// VectorWeight and KeywordWeight tune the hybrid combination.
	// They are not required to sum to 1.
	VectorWeight  float64 `json:"vector_weight"`
	KeywordWeight float64 `json:"keyword_weight"`
}

// DefaultSearchOptions returns sensible defaults
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Limit:          10,
		ScoreThreshold: 0.5,
		VectorWeight:   0.7,
		KeywordWeight:  0.3,
	}
}

// Normalize fills zero-valued options with defaults and clamps the limit.
func (o *SearchOptions) Normalize() {
	def := DefaultSearchOptions()
	if o.Limit <= 0 {
		o.Limit = def.Limit
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.ScoreThreshold <= 0 {
		o.ScoreThreshold = def.ScoreThreshold
	}
	if o.VectorWeight == 0 && o.KeywordWeight == 0 {
		o.VectorWeight = def.VectorWeight
		o.KeywordWeight = def.KeywordWeight
	}
}

// SearchResult is one retrieval hit, ordered by combined score descending.
type SearchResult struct {
	DocumentID   string            `json:"document_id"`
	Score        float64           `json:"score"`
	VectorScore  float64           `json:"vector_score"`
	KeywordScore float64           `json:"keyword_score"`
	Title        string            `json:"title"`
	Body         string            `json:"body,omitempty"`
	SourceKind   SourceKind        `json:"source_kind"`
	OccurredAt   time.Time         `json:"occurred_at"`
	Attributes   SourceAttributes  `json:"attributes"`
	RawPayload   map[string]string `json:"-"`
}

// QueryTokens tokenizes a query for lexical scoring: lowercase words
// longer than two characters, punctuation trimmed.
func QueryTokens(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:'\"-()[]{}")
		if len(w) > 2 {
			tokens = append(tokens, w)
		}
	}
	return tokens
}

// KeywordScore computes the fraction of query tokens contained in the text.
// A containment ratio, not TF-IDF: it is a cheap re-ranking signal layered
// on top of the vector search, not the retrieval mechanism itself.
func KeywordScore(tokens []string, text string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, tok := range tokens {
		if strings.Contains(lower, tok) {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens))
}
