package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tessera-labs/semdex/internal/core/ports/driven"
)

// CollectionManager ensures the target collection exists with the right
// dimensionality before any read or write. It runs once at process start
// and blocks readiness; a dimensionality conflict is a configuration error
// the caller must treat as fatal, not retry.
type CollectionManager struct {
	store  driven.VectorStore
	logger *slog.Logger
}

// NewCollectionManager creates a CollectionManager.
func NewCollectionManager(store driven.VectorStore, logger *slog.Logger) *CollectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollectionManager{store: store, logger: logger}
}

// Ensure creates the collection if missing and verifies its vector size if
// present. Safe to call redundantly from multiple processes: a lost
// creation race resolves to the verify path.
func (m *CollectionManager) Ensure(ctx context.Context, name string, vectorSize int, distance driven.DistanceMetric) error {
	if err := m.store.EnsureCollection(ctx, name, vectorSize, distance); err != nil {
		return fmt.Errorf("ensure collection %s: %w", name, err)
	}

	info, err := m.store.GetCollectionInfo(ctx, name)
	if err != nil {
		return fmt.Errorf("verify collection %s: %w", name, err)
	}

	m.logger.Info("collection ready",
		"collection", name,
		"vector_size", info.VectorSize,
		"distance", info.Distance,
		"points", info.PointsCount,
	)
	return nil
}
