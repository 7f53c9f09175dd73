package driven

import (
	"context"

	"github.com/tessera-labs/semdex/internal/core/domain"
)

// JobQueue is the durable at-least-once transport for ingestion jobs.
// Implementations can use Redis Streams (preferred) or Postgres (fallback).
// Retry delays are scheduled by the queue itself so backoff survives a
// worker restart.
type JobQueue interface {
	// Enqueue adds a job to the queue for processing.
	Enqueue(ctx context.Context, job *domain.IngestionJob) error

	// EnqueueBatch adds multiple jobs to the queue.
	EnqueueBatch(ctx context.Context, jobs []*domain.IngestionJob) error

	// DequeueWithTimeout retrieves the next deliverable job, waiting up to
	// timeout seconds. The job is marked active and withheld from other
	// consumers. Returns nil, nil when nothing is available.
	DequeueWithTimeout(ctx context.Context, timeout int) (*domain.IngestionJob, error)

	// Ack acknowledges successful completion of a job.
	Ack(ctx context.Context, jobID string) error

	// Nack reports a failure. Non-permanent failures re-queue the job with
	// the job's computed backoff until the attempt cap, after which the job
	// is dead-lettered. Permanent failures (invalid documents) go straight
	// to the failed state with no retry.
	Nack(ctx context.Context, jobID string, reason string, permanent bool) error

	// GetJob retrieves a job by ID. Returns nil, nil when unknown.
	GetJob(ctx context.Context, jobID string) (*domain.IngestionJob, error)

	// ListDead returns the IDs of dead-lettered jobs for inspection.
	ListDead(ctx context.Context) ([]string, error)

	// ReplayDead resets a dead job's attempt budget and re-enqueues it.
	ReplayDead(ctx context.Context, jobID string) error

	// Stats returns queue statistics.
	Stats(ctx context.Context) (*QueueStats, error)

	// PurgeFinished removes completed and failed jobs older than the given
	// age in seconds, returning how many were removed.
	PurgeFinished(ctx context.Context, olderThanSeconds int) (int, error)

	// Ping checks if the queue backend is healthy.
	Ping(ctx context.Context) error

	// Close cleans up resources.
	Close() error
}

// QueueStats contains queue statistics
type QueueStats struct {
	QueuedCount    int64 `json:"queued_count"`
	ActiveCount    int64 `json:"active_count"`
	CompletedCount int64 `json:"completed_count"`
	FailedCount    int64 `json:"failed_count"`
	DeadCount      int64 `json:"dead_count"`
}
