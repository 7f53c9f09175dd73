package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tessera-labs/semdex/internal/core/domain"
	"github.com/tessera-labs/semdex/internal/core/ports/driven"
	"github.com/tessera-labs/semdex/internal/core/ports/driving"
)

// Ensure searchService implements SearchService
var _ driving.SearchService = (*searchService)(nil)

const (
	// candidateFactor widens the store-side fetch beyond the caller's
	// limit so lexical re-ranking has candidates to promote.
	candidateFactor = 2

	// thresholdRelax loosens the store-side score threshold; the hybrid
	// combination decides the final order, and thresholding is applied
	// only at this stage, never after re-ranking.
	thresholdRelax = 0.8

	// similarByIDThreshold is the default anchor-similarity cutoff.
	similarByIDThreshold = 0.8
)

// searchService implements hybrid retrieval: dense similarity from the
// vector store re-ranked with a cheap lexical containment signal.
type searchService struct {
	embedder   driven.EmbeddingService
	store      driven.VectorStore
	collection string
	logger     *slog.Logger
}

// NewSearchService creates a new SearchService.
func NewSearchService(embedder driven.EmbeddingService, store driven.VectorStore, collection string, logger *slog.Logger) driving.SearchService {
	if logger == nil {
		logger = slog.Default()
	}
	return &searchService{
		embedder:   embedder,
		store:      store,
		collection: collection,
		logger:     logger,
	}
}

// Search answers a natural-language query.
func (s *searchService) Search(ctx context.Context, query string, opts domain.SearchOptions) ([]*domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}
	opts.Normalize()

	start := time.Now()

	// Query mode, not passage mode: the encoder is asymmetric and the two
	// sides must stay distinct.
	vector, err := s.embedder.Embed(ctx, query, driven.EmbedModeQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := s.store.Search(ctx, s.collection, driven.VectorQuery{
		Vector:         vector,
		Limit:          opts.Limit * candidateFactor,
		ScoreThreshold: opts.ScoreThreshold * thresholdRelax,
		SourceKind:     opts.SourceKind,
		WithPayload:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := s.rank(query, candidates, opts)

	s.logger.Debug("search completed",
		"query", query,
		"candidates", len(candidates),
		"results", len(results),
		"took", time.Since(start),
	)
	return results, nil
}

// SimilarByID finds neighbours of an already-indexed document using its
// stored vector as the query.
func (s *searchService) SimilarByID(ctx context.Context, documentID string, opts domain.SearchOptions) ([]*domain.SearchResult, error) {
	if documentID == "" {
		return nil, fmt.Errorf("%w: document_id is required", domain.ErrInvalidInput)
	}
	opts.Normalize()
	if opts.ScoreThreshold == domain.DefaultSearchOptions().ScoreThreshold {
		opts.ScoreThreshold = similarByIDThreshold
	}

	anchorID := domain.PointID(documentID, 0, 1)
	anchors, err := s.store.Retrieve(ctx, s.collection, []string{anchorID}, true)
	if err != nil {
		return nil, fmt.Errorf("retrieve anchor point: %w", err)
	}
	if len(anchors) == 0 {
		return nil, fmt.Errorf("%w: document %s has no indexed point", domain.ErrNotFound, documentID)
	}

	candidates, err := s.store.Search(ctx, s.collection, driven.VectorQuery{
		Vector:         anchors[0].Vector,
		Limit:          opts.Limit + 1, // +1 absorbs the anchor itself
		ScoreThreshold: opts.ScoreThreshold,
		SourceKind:     opts.SourceKind,
		ExcludeIDs:     []string{anchorID},
		WithPayload:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]*domain.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		r := resultFromPoint(c)
		if r.DocumentID == documentID {
			continue
		}
		r.Score = c.Score
		r.VectorScore = c.Score
		results = append(results, r)
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// rank applies the hybrid combination: lexical containment of the query
// tokens in title+body, weighted against the vector score, sorted
// descending and truncated. Candidates below the caller's threshold after
// combination are still returned.
func (s *searchService) rank(query string, candidates []driven.ScoredPoint, opts domain.SearchOptions) []*domain.SearchResult {
	tokens := domain.QueryTokens(query)

	results := make([]*domain.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		r := resultFromPoint(c)
		r.VectorScore = c.Score
		r.KeywordScore = domain.KeywordScore(tokens, r.Title+" "+r.Body)
		r.Score = r.VectorScore*opts.VectorWeight + r.KeywordScore*opts.KeywordWeight
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}

// resultFromPoint rebuilds a SearchResult from a point payload.
func resultFromPoint(p driven.ScoredPoint) *domain.SearchResult {
	r := &domain.SearchResult{}

	attrs := make(map[string]string)
	for k, v := range p.Payload {
		switch k {
		case domain.PayloadDocumentID:
			r.DocumentID, _ = v.(string)
		case domain.PayloadTitle:
			r.Title, _ = v.(string)
		case domain.PayloadBody:
			r.Body, _ = v.(string)
		case domain.PayloadSourceKind:
			kind, _ := v.(string)
			r.SourceKind = domain.SourceKind(kind)
		case domain.PayloadOccurredAt:
			if ts, ok := v.(string); ok {
				if t, err := time.Parse(time.RFC3339, ts); err == nil {
					r.OccurredAt = t
				}
			}
		case domain.PayloadChunkIndex, domain.PayloadTotalChunks, domain.PayloadIngestedAt:
			// Ingestion bookkeeping, not a source attribute
		default:
			attrs[k] = payloadString(v)
		}
	}

	r.RawPayload = attrs
	r.Attributes = domain.ExpandAttributes(r.SourceKind, attrs)
	return r
}

func payloadString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
