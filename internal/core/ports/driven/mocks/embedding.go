package mocks

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/tessera-labs/semdex/internal/core/domain"
	"github.com/tessera-labs/semdex/internal/core/ports/driven"
)

// MockEmbeddingService is a mock implementation of EmbeddingService for testing
type MockEmbeddingService struct {
	mu         sync.Mutex
	dimensions int

	// FailWith, when set, is returned by every Embed call
	FailWith error

	// Calls records the text and mode of each Embed call
	Calls []EmbedCall
}

// EmbedCall records one invocation of Embed
type EmbedCall struct {
	Text string
	Mode driven.EmbedMode
}

// NewMockEmbeddingService creates a new MockEmbeddingService
func NewMockEmbeddingService() *MockEmbeddingService {
	return &MockEmbeddingService{dimensions: 8}
}

func (m *MockEmbeddingService) Embed(ctx context.Context, text string, mode driven.EmbedMode) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", domain.ErrInvalidInput)
	}

	m.Calls = append(m.Calls, EmbedCall{Text: text, Mode: mode})

	if m.FailWith != nil {
		return nil, m.FailWith
	}
	return m.generate(text), nil
}

func (m *MockEmbeddingService) Dimensions() int {
	return m.dimensions
}

func (m *MockEmbeddingService) HealthCheck(ctx context.Context) error {
	return nil
}

func (m *MockEmbeddingService) Close() error {
	return nil
}

// CallCount returns how many Embed calls were made
func (m *MockEmbeddingService) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// generate produces a deterministic unit-ish vector from the text hash so
// identical texts embed identically across the whole test.
func (m *MockEmbeddingService) generate(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(text)))
	seed := h.Sum64()

	vec := make([]float32, m.dimensions)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(seed%2000)/1000.0 - 1.0
	}
	return vec
}
