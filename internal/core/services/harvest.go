package services

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tessera-labs/semdex/internal/core/domain"
	"github.com/tessera-labs/semdex/internal/core/ports/driven"
	"github.com/tessera-labs/semdex/internal/core/ports/driving"
)

// Ensure harvester implements Harvester
var _ driving.Harvester = (*harvester)(nil)

// harvester fans out over all configured connectors concurrently and
// enqueues one ingestion job per fetched document. One failing source does
// not abort the run; its error is reported in the summary.
type harvester struct {
	connectors []driven.Connector
	queue      driven.JobQueue
	logger     *slog.Logger
}

// NewHarvester creates a new Harvester.
func NewHarvester(connectors []driven.Connector, queue driven.JobQueue, logger *slog.Logger) driving.Harvester {
	if logger == nil {
		logger = slog.Default()
	}
	return &harvester{
		connectors: connectors,
		queue:      queue,
		logger:     logger,
	}
}

// HarvestAll runs every connector and enqueues the fetched documents.
func (h *harvester) HarvestAll(ctx context.Context) (*domain.HarvestSummary, error) {
	summary := &domain.HarvestSummary{
		Enqueued: make(map[domain.SourceKind]int),
		Errors:   make(map[domain.SourceKind]string),
	}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, conn := range h.connectors {
		g.Go(func() error {
			kind := conn.Kind()
			docs, err := conn.Fetch(ctx)
			if err != nil {
				h.logger.Error("connector fetch failed", "source_kind", kind, "error", err)
				mu.Lock()
				summary.Errors[kind] = err.Error()
				mu.Unlock()
				return nil // other sources still ingest
			}

			jobs := make([]*domain.IngestionJob, 0, len(docs))
			for _, doc := range docs {
				jobs = append(jobs, domain.NewIngestionJob(*doc))
			}
			if err := h.queue.EnqueueBatch(ctx, jobs); err != nil {
				mu.Lock()
				summary.Errors[kind] = err.Error()
				mu.Unlock()
				return nil
			}

			h.logger.Info("source harvested", "source_kind", kind, "documents", len(docs))
			mu.Lock()
			summary.Enqueued[kind] = len(docs)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, err
	}
	if len(summary.Errors) == 0 {
		summary.Errors = nil
	}
	return summary, nil
}
