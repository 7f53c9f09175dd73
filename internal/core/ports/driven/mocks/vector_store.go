package mocks

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/tessera-labs/semdex/internal/core/domain"
	"github.com/tessera-labs/semdex/internal/core/ports/driven"
)

// MockVectorStore is an in-memory VectorStore for testing.
// Search scores candidates by cosine similarity so ranking behaves like the
// real store.
type MockVectorStore struct {
	mu          sync.RWMutex
	collections map[string]*driven.CollectionInfo
	points      map[string]map[string]*domain.VectorPoint // collection -> id -> point

	// FailWith, when set, is returned by every call
	FailWith error

	// UpsertWaits records the wait flag of each Upsert call
	UpsertWaits []bool
}

// NewMockVectorStore creates a new MockVectorStore
func NewMockVectorStore() *MockVectorStore {
	return &MockVectorStore{
		collections: make(map[string]*driven.CollectionInfo),
		points:      make(map[string]map[string]*domain.VectorPoint),
	}
}

func (m *MockVectorStore) EnsureCollection(ctx context.Context, name string, vectorSize int, distance driven.DistanceMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	if info, ok := m.collections[name]; ok {
		if info.VectorSize != vectorSize {
			return fmt.Errorf("%w: collection %s has size %d, want %d",
				domain.ErrConfigMismatch, name, info.VectorSize, vectorSize)
		}
		return nil
	}

	m.collections[name] = &driven.CollectionInfo{
		Name:       name,
		VectorSize: vectorSize,
		Distance:   distance,
	}
	m.points[name] = make(map[string]*domain.VectorPoint)
	return nil
}

func (m *MockVectorStore) GetCollectionInfo(ctx context.Context, name string) (*driven.CollectionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	info, ok := m.collections[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *info
	out.PointsCount = int64(len(m.points[name]))
	return &out, nil
}

func (m *MockVectorStore) Upsert(ctx context.Context, collection string, points []*domain.VectorPoint, wait bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	m.UpsertWaits = append(m.UpsertWaits, wait)

	if _, ok := m.points[collection]; !ok {
		m.points[collection] = make(map[string]*domain.VectorPoint)
	}
	for _, p := range points {
		m.points[collection][p.ID] = p
	}
	return nil
}

func (m *MockVectorStore) Search(ctx context.Context, collection string, query driven.VectorQuery) ([]driven.ScoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	excluded := make(map[string]bool, len(query.ExcludeIDs))
	for _, id := range query.ExcludeIDs {
		excluded[id] = true
	}

	var hits []driven.ScoredPoint
	for _, p := range m.points[collection] {
		if excluded[p.ID] {
			continue
		}
		if query.SourceKind != "" {
			kind, _ := p.Payload[domain.PayloadSourceKind].(string)
			if kind != string(query.SourceKind) {
				continue
			}
		}

		score := cosine(query.Vector, p.Vector)
		if score < query.ScoreThreshold {
			continue
		}

		hit := driven.ScoredPoint{ID: p.ID, Score: score}
		if query.WithPayload {
			hit.Payload = p.Payload
		}
		if query.WithVector {
			hit.Vector = p.Vector
		}
		hits = append(hits, hit)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if query.Limit > 0 && len(hits) > query.Limit {
		hits = hits[:query.Limit]
	}
	return hits, nil
}

func (m *MockVectorStore) Retrieve(ctx context.Context, collection string, ids []string, withVector bool) ([]driven.ScoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	var out []driven.ScoredPoint
	for _, id := range ids {
		p, ok := m.points[collection][id]
		if !ok {
			continue
		}
		hit := driven.ScoredPoint{ID: p.ID, Payload: p.Payload}
		if withVector {
			hit.Vector = p.Vector
		}
		out = append(out, hit)
	}
	return out, nil
}

func (m *MockVectorStore) DeletePoints(ctx context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	for _, id := range ids {
		delete(m.points[collection], id)
	}
	return nil
}

func (m *MockVectorStore) HealthCheck(ctx context.Context) error {
	return m.FailWith
}

// PointCount returns how many points a collection holds
func (m *MockVectorStore) PointCount(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points[collection])
}

// GetPoint returns a stored point by ID
func (m *MockVectorStore) GetPoint(collection, id string) *domain.VectorPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.points[collection][id]
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
