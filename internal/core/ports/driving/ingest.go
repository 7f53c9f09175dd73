package driving

import (
	"context"

	"github.com/tessera-labs/semdex/internal/core/domain"
)

// IngestService materializes documents into vector-store points.
type IngestService interface {
	// ProcessJob runs the full pipeline for one job: validate, embed in
	// passage mode, build the deterministic point and upsert it with a
	// wait-for-completion write. The returned error classifies the
	// failure: ErrInvalidInput is permanent, transient errors are
	// retryable by the caller.
	ProcessJob(ctx context.Context, job *domain.IngestionJob) error

	// Delete removes every point belonging to a document.
	Delete(ctx context.Context, documentID string, totalChunks int) error
}

// Harvester pulls documents from configured connectors and enqueues one
// ingestion job per document.
type Harvester interface {
	// HarvestAll runs every connector concurrently and enqueues the fetched
	// documents. Connector failures are collected, not fatal: sources that
	// succeed are still ingested.
	HarvestAll(ctx context.Context) (*domain.HarvestSummary, error)
}
