package driven

import (
	"context"

	"github.com/tessera-labs/semdex/internal/core/domain"
)

// DistanceMetric is the similarity function configured on a collection.
type DistanceMetric string

const (
	DistanceCosine DistanceMetric = "Cosine"
	DistanceDot    DistanceMetric = "Dot"
	DistanceEuclid DistanceMetric = "Euclid"
)

// CollectionInfo describes an existing collection's configuration.
type CollectionInfo struct {
	Name        string
	VectorSize  int
	Distance    DistanceMetric
	PointsCount int64
}

// VectorQuery is a filtered similarity search request.
type VectorQuery struct {
	Vector         []float32
	Limit          int
	ScoreThreshold float64

	// SourceKind, when set, is pushed down as an equality predicate so the
	// store never returns candidates from other sources.
	SourceKind domain.SourceKind

	// ExcludeIDs removes specific point IDs from the result (used by
	// similar-by-id to drop the anchor point).
	ExcludeIDs []string

	WithPayload bool
	WithVector  bool
}

// ScoredPoint is one similarity-search hit.
type ScoredPoint struct {
	ID      string
	Score   float64
	Vector  []float32
	Payload map[string]any
}

// VectorStore wraps the vector database's collection and point APIs.
// Implementations are stateless beyond a connection handle and safe for
// concurrent use by all workers.
type VectorStore interface {
	// EnsureCollection creates the collection if missing. If it exists,
	// the configured vector size must match or ErrConfigMismatch is
	// returned. Safe to call concurrently from multiple processes:
	// "already exists" is success, not an error.
	EnsureCollection(ctx context.Context, name string, vectorSize int, distance DistanceMetric) error

	// GetCollectionInfo fetches collection configuration.
	// Returns ErrNotFound when the collection does not exist.
	GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)

	// Upsert writes points with last-write-wins semantics. With wait set,
	// the call returns only after the write is durable, so a caller can
	// acknowledge a job knowing the vector is flushed.
	Upsert(ctx context.Context, collection string, points []*domain.VectorPoint, wait bool) error

	// Search runs a filtered similarity search.
	Search(ctx context.Context, collection string, query VectorQuery) ([]ScoredPoint, error)

	// Retrieve fetches specific points by ID.
	Retrieve(ctx context.Context, collection string, ids []string, withVector bool) ([]ScoredPoint, error)

	// DeletePoints removes points by ID, waiting for completion.
	DeletePoints(ctx context.Context, collection string, ids []string) error

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}
