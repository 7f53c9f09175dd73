// Package qdrant implements the VectorStore port against Qdrant's REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tessera-labs/semdex/internal/core/domain"
	"github.com/tessera-labs/semdex/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorStore = (*Store)(nil)

// Store implements driven.VectorStore using Qdrant
type Store struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config holds Qdrant connection configuration
type Config struct {
	// BaseURL is the Qdrant endpoint (e.g. http://localhost:6333)
	BaseURL string

	// APIKey is optional; sent as the api-key header when set
	APIKey string

	// Timeout for HTTP requests
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// NewStore creates a new Qdrant-backed VectorStore
func NewStore(cfg Config) *Store {
	return &Store{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// collectionInfoResponse is Qdrant's GET /collections/{name} response
type collectionInfoResponse struct {
	Result struct {
		Status      string `json:"status"`
		PointsCount int64  `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
	Status string `json:"status"`
}

// EnsureCollection creates the collection if missing and verifies the vector
// size if present. Two processes racing on creation both succeed: the loser's
// conflict response is resolved by re-reading the collection info.
func (s *Store) EnsureCollection(ctx context.Context, name string, vectorSize int, distance driven.DistanceMetric) error {
	info, err := s.GetCollectionInfo(ctx, name)
	switch {
	case err == nil:
		if info.VectorSize != vectorSize {
			return fmt.Errorf("%w: collection %s has vector size %d, configured size is %d",
				domain.ErrConfigMismatch, name, info.VectorSize, vectorSize)
		}
		return nil
	case !isNotFound(err):
		return err
	}

	// Indexing parameters tuned for moderate write volume: two segments,
	// payload-level HNSW links only. Matches the collection layout the
	// retrieval path expects.
	createBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": string(distance),
		},
		"optimizers_config": map[string]any{
			"default_segment_number": 2,
		},
		"hnsw_config": map[string]any{
			"payload_m": 16,
			"m":         0,
		},
	}

	status, body, err := s.doRequest(ctx, http.MethodPut, "/collections/"+name, createBody)
	if err != nil {
		return err
	}
	if status == http.StatusConflict || bytes.Contains(body, []byte("already exists")) {
		// Lost a creation race; verify the winner's configuration.
		info, err := s.GetCollectionInfo(ctx, name)
		if err != nil {
			return err
		}
		if info.VectorSize != vectorSize {
			return fmt.Errorf("%w: collection %s has vector size %d, configured size is %d",
				domain.ErrConfigMismatch, name, info.VectorSize, vectorSize)
		}
		return nil
	}
	if status >= 400 {
		return fmt.Errorf("%w: create collection failed with status %d: %s",
			domain.ErrVectorStoreUnavailable, status, string(body))
	}

	// Keyword index on source_kind so the equality filter stays cheap.
	indexBody := map[string]any{
		"field_name":   domain.PayloadSourceKind,
		"field_schema": "keyword",
	}
	status, body, err = s.doRequest(ctx, http.MethodPut, "/collections/"+name+"/index", indexBody)
	if err != nil {
		return err
	}
	if status >= 400 && status != http.StatusConflict {
		return fmt.Errorf("%w: create payload index failed with status %d: %s",
			domain.ErrVectorStoreUnavailable, status, string(body))
	}

	return nil
}

// GetCollectionInfo fetches collection configuration.
func (s *Store) GetCollectionInfo(ctx context.Context, name string) (*driven.CollectionInfo, error) {
	status, body, err := s.doRequest(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: collection %s", domain.ErrNotFound, name)
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: get collection failed with status %d: %s",
			domain.ErrVectorStoreUnavailable, status, string(body))
	}

	var resp collectionInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse collection info: %v", domain.ErrVectorStoreUnavailable, err)
	}

	return &driven.CollectionInfo{
		Name:        name,
		VectorSize:  resp.Result.Config.Params.Vectors.Size,
		Distance:    driven.DistanceMetric(resp.Result.Config.Params.Vectors.Distance),
		PointsCount: resp.Result.PointsCount,
	}, nil
}

// qdrantPoint is a point in Qdrant wire format
type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Upsert writes points, optionally waiting for the write to be durable.
func (s *Store) Upsert(ctx context.Context, collection string, points []*domain.VectorPoint, wait bool) error {
	if len(points) == 0 {
		return nil
	}

	wire := make([]qdrantPoint, 0, len(points))
	for _, p := range points {
		wire = append(wire, qdrantPoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload})
	}

	path := fmt.Sprintf("/collections/%s/points?wait=%t", collection, wait)
	status, body, err := s.doRequest(ctx, http.MethodPut, path, map[string]any{"points": wire})
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("%w: upsert failed with status %d: %s",
			domain.ErrVectorStoreUnavailable, status, string(body))
	}
	return nil
}

// searchResponse is Qdrant's points/search response
type searchResponse struct {
	Result []struct {
		ID      string         `json:"id"`
		Score   float64        `json:"score"`
		Vector  []float32      `json:"vector,omitempty"`
		Payload map[string]any `json:"payload,omitempty"`
	} `json:"result"`
}

// Search runs a filtered similarity search.
func (s *Store) Search(ctx context.Context, collection string, query driven.VectorQuery) ([]driven.ScoredPoint, error) {
	reqBody := map[string]any{
		"vector":       query.Vector,
		"limit":        query.Limit,
		"with_payload": query.WithPayload,
		"with_vector":  query.WithVector,
	}
	if query.ScoreThreshold > 0 {
		reqBody["score_threshold"] = query.ScoreThreshold
	}
	if filter := buildFilter(query); filter != nil {
		reqBody["filter"] = filter
	}

	status, body, err := s.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points/search", reqBody)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: search failed with status %d: %s",
			domain.ErrVectorStoreUnavailable, status, string(body))
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse search response: %v", domain.ErrVectorStoreUnavailable, err)
	}

	hits := make([]driven.ScoredPoint, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, driven.ScoredPoint{
			ID:      r.ID,
			Score:   r.Score,
			Vector:  r.Vector,
			Payload: r.Payload,
		})
	}
	return hits, nil
}

// buildFilter translates the query's predicates to Qdrant filter clauses.
func buildFilter(query driven.VectorQuery) map[string]any {
	filter := map[string]any{}

	if query.SourceKind != "" {
		filter["must"] = []map[string]any{
			{
				"key":   domain.PayloadSourceKind,
				"match": map[string]any{"value": string(query.SourceKind)},
			},
		}
	}
	if len(query.ExcludeIDs) > 0 {
		filter["must_not"] = []map[string]any{
			{"has_id": query.ExcludeIDs},
		}
	}

	if len(filter) == 0 {
		return nil
	}
	return filter
}

// Retrieve fetches specific points by ID.
func (s *Store) Retrieve(ctx context.Context, collection string, ids []string, withVector bool) ([]driven.ScoredPoint, error) {
	reqBody := map[string]any{
		"ids":          ids,
		"with_payload": true,
		"with_vector":  withVector,
	}

	status, body, err := s.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points", reqBody)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: collection %s", domain.ErrNotFound, collection)
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: retrieve failed with status %d: %s",
			domain.ErrVectorStoreUnavailable, status, string(body))
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse retrieve response: %v", domain.ErrVectorStoreUnavailable, err)
	}

	points := make([]driven.ScoredPoint, 0, len(resp.Result))
	for _, r := range resp.Result {
		points = append(points, driven.ScoredPoint{
			ID:      r.ID,
			Vector:  r.Vector,
			Payload: r.Payload,
		})
	}
	return points, nil
}

// DeletePoints removes points by ID, waiting for completion.
func (s *Store) DeletePoints(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	path := "/collections/" + collection + "/points/delete?wait=true"
	status, body, err := s.doRequest(ctx, http.MethodPost, path, map[string]any{"points": ids})
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("%w: delete failed with status %d: %s",
			domain.ErrVectorStoreUnavailable, status, string(body))
	}
	return nil
}

// HealthCheck verifies the store is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	status, body, err := s.doRequest(ctx, http.MethodGet, "/collections", nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("%w: status %d: %s", domain.ErrVectorStoreUnavailable, status, string(body))
	}
	return nil
}

// doRequest performs one request against the Qdrant API.
// Transport errors map to ErrVectorStoreUnavailable; HTTP status handling
// is left to the caller since not-found is meaningful on some paths.
func (s *Store) doRequest(ctx context.Context, method, path string, reqBody any) (int, []byte, error) {
	var reader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", domain.ErrVectorStoreUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %v", domain.ErrVectorStoreUnavailable, err)
	}

	return resp.StatusCode, body, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
