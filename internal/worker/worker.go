// Package worker runs the ingestion processing loop.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tessera-labs/semdex/internal/core/domain"
	"github.com/tessera-labs/semdex/internal/core/ports/driven"
	"github.com/tessera-labs/semdex/internal/core/ports/driving"
)

// Worker consumes ingestion jobs from the queue and runs each through the
// ingest service. Failure classification drives the queue's retry decision:
// invalid documents are nacked permanently, everything else is retryable.
type Worker struct {
	queue    driven.JobQueue
	ingestor driving.IngestService
	logger   *slog.Logger

	// Configuration
	concurrency    int
	dequeueTimeout int // seconds

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Config holds configuration for the worker.
type Config struct {
	Queue          driven.JobQueue
	Ingestor       driving.IngestService
	Logger         *slog.Logger
	Concurrency    int // Number of concurrent job processors
	DequeueTimeout int // Seconds to wait for a job before checking again
}

// New creates a new ingestion worker.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5
	}

	return &Worker{
		queue:          cfg.Queue,
		ingestor:       cfg.Ingestor,
		logger:         logger,
		concurrency:    concurrency,
		dequeueTimeout: dequeueTimeout,
	}
}

// Start begins the worker loop.
// It runs until Stop is called or the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"dequeue_timeout", w.dequeueTimeout,
	)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.processLoop(ctx, workerID)
		}(i)
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop gracefully stops the worker. In-flight jobs run to completion.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	<-w.doneCh
}

// processLoop is the main processing loop for a worker goroutine.
func (w *Worker) processLoop(ctx context.Context, workerID int) {
	logger := w.logger.With("worker_id", workerID)
	logger.Info("worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker context cancelled")
			return
		case <-w.stopCh:
			logger.Info("worker stop signal received")
			return
		default:
		}

		job, err := w.queue.DequeueWithTimeout(ctx, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue job", "error", err)
			time.Sleep(time.Second) // Back off on error
			continue
		}

		if job == nil {
			continue
		}

		w.processJob(ctx, job, logger)
	}
}

// processJob runs one job and translates the outcome into an ack or nack.
func (w *Worker) processJob(ctx context.Context, job *domain.IngestionJob, logger *slog.Logger) {
	logger = logger.With(
		"job_id", job.ID,
		"document_id", job.Document.DocumentID,
		"source_kind", job.Document.SourceKind,
		"attempt", job.Attempts,
	)
	logger.Info("processing job")

	startTime := time.Now()
	err := w.ingestor.ProcessJob(ctx, job)
	duration := time.Since(startTime)

	if err == nil {
		logger.Info("job completed", "duration", duration)
		if ackErr := w.queue.Ack(ctx, job.ID); ackErr != nil {
			logger.Error("failed to ack job", "ack_error", ackErr)
		}
		return
	}

	permanent := errors.Is(err, domain.ErrInvalidInput)
	lastAttempt := !permanent && !job.CanRetry()

	switch {
	case permanent:
		logger.Error("job rejected, document invalid",
			"duration", duration,
			"error", err,
		)
	case lastAttempt:
		logger.Error("job exhausted retries, dead-lettering",
			"duration", duration,
			"max_attempts", job.MaxAttempts,
			"dead_letter", true,
			"error", err,
		)
	default:
		logger.Warn("job failed, will retry",
			"duration", duration,
			"retry_in", job.Backoff(),
			"error", err,
		)
	}

	if nackErr := w.queue.Nack(ctx, job.ID, err.Error(), permanent); nackErr != nil {
		logger.Error("failed to nack job", "nack_error", nackErr)
	}
}

// Health reports worker liveness and queue reachability.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{
		Running: running,
	}

	if err := w.queue.Ping(ctx); err != nil {
		health.QueueHealth = false
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}

	return health
}
