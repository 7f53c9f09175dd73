// Package postgres implements the JobQueue port on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tessera-labs/semdex/internal/core/domain"
	"github.com/tessera-labs/semdex/internal/core/ports/driven"
)

// Ensure Queue implements JobQueue
var _ driven.JobQueue = (*Queue)(nil)

// Queue implements JobQueue using PostgreSQL with SKIP LOCKED.
// This is the fallback queue when Redis is not available.
type Queue struct {
	db *sql.DB
}

// NewQueue creates a new PostgreSQL-backed job queue.
// Assumes the ingestion_jobs table has been created via InitSchema.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// InitSchema creates the jobs table and its indexes if they do not exist.
func (q *Queue) InitSchema(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, createJobsTableSQL); err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	return nil
}

// Enqueue adds a job to the queue
func (q *Queue) Enqueue(ctx context.Context, job *domain.IngestionJob) error {
	document, err := json.Marshal(job.Document)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	query := `
		INSERT INTO ingestion_jobs (
			id, document, status, attempts, max_attempts, error,
			created_at, updated_at, scheduled_for
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = q.db.ExecContext(ctx, query,
		job.ID,
		document,
		job.Status,
		job.Attempts,
		job.MaxAttempts,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
		job.ScheduledFor,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

// EnqueueBatch adds multiple jobs atomically
func (q *Queue) EnqueueBatch(ctx context.Context, jobs []*domain.IngestionJob) error {
	if len(jobs) == 0 {
		return nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO ingestion_jobs (
			id, document, status, attempts, max_attempts, error,
			created_at, updated_at, scheduled_for
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, job := range jobs {
		document, err := json.Marshal(job.Document)
		if err != nil {
			return fmt.Errorf("marshal document for job %s: %w", job.ID, err)
		}

		_, err = stmt.ExecContext(ctx,
			job.ID,
			document,
			job.Status,
			job.Attempts,
			job.MaxAttempts,
			job.Error,
			job.CreatedAt,
			job.UpdatedAt,
			job.ScheduledFor,
		)
		if err != nil {
			return fmt.Errorf("insert job %s: %w", job.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// DequeueWithTimeout retrieves the next deliverable job using
// SELECT FOR UPDATE SKIP LOCKED, so concurrent workers never receive
// the same row. Waits up to timeout seconds when the queue is empty.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.IngestionJob, error) {
	return q.dequeue(ctx, timeout)
}

func (q *Queue) dequeue(ctx context.Context, timeoutSeconds int) (*domain.IngestionJob, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	selectQuery := `
		SELECT id, document, status, attempts, max_attempts, error,
			   created_at, updated_at, started_at, completed_at, scheduled_for
		FROM ingestion_jobs
		WHERE status = $1
		  AND scheduled_for <= NOW()
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	job, err := scanJob(tx.QueryRowContext(ctx, selectQuery, domain.JobStatusQueued))
	if err == sql.ErrNoRows {
		_ = tx.Rollback()

		if timeoutSeconds > 0 {
			select {
			case <-ctx.Done():
				return nil, nil
			case <-time.After(time.Duration(timeoutSeconds) * time.Second):
				return q.dequeue(ctx, 0)
			}
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}

	now := time.Now()
	updateQuery := `
		UPDATE ingestion_jobs
		SET status = $1, started_at = $2, updated_at = $3, attempts = attempts + 1
		WHERE id = $4
	`
	if _, err := tx.ExecContext(ctx, updateQuery, domain.JobStatusActive, now, now, job.ID); err != nil {
		return nil, fmt.Errorf("update job status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	job.Status = domain.JobStatusActive
	job.StartedAt = &now
	job.UpdatedAt = now
	job.Attempts++

	return job, nil
}

// Ack marks a job as completed
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	now := time.Now()
	query := `
		UPDATE ingestion_jobs
		SET status = $1, completed_at = $2, updated_at = $3, error = ''
		WHERE id = $4
	`

	result, err := q.db.ExecContext(ctx, query, domain.JobStatusCompleted, now, now, jobID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, jobID)
	}

	return nil
}

// Nack reports a failure. Transient failures re-queue with backoff until
// the attempt cap, then the job goes dead. Permanent failures are final.
func (q *Queue) Nack(ctx context.Context, jobID string, reason string, permanent bool) error {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, jobID)
	}

	now := time.Now()

	switch {
	case permanent:
		query := `
			UPDATE ingestion_jobs
			SET status = $1, error = $2, updated_at = $3
			WHERE id = $4
		`
		_, err = q.db.ExecContext(ctx, query, domain.JobStatusFailed, reason, now, jobID)
	case job.CanRetry():
		query := `
			UPDATE ingestion_jobs
			SET status = $1, error = $2, updated_at = $3, scheduled_for = $4
			WHERE id = $5
		`
		_, err = q.db.ExecContext(ctx, query,
			domain.JobStatusQueued, reason, now, now.Add(job.Backoff()), jobID)
	default:
		query := `
			UPDATE ingestion_jobs
			SET status = $1, error = $2, updated_at = $3
			WHERE id = $4
		`
		_, err = q.db.ExecContext(ctx, query, domain.JobStatusDead, reason, now, jobID)
	}

	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID. Returns nil, nil when unknown.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*domain.IngestionJob, error) {
	query := `
		SELECT id, document, status, attempts, max_attempts, error,
			   created_at, updated_at, started_at, completed_at, scheduled_for
		FROM ingestion_jobs
		WHERE id = $1
	`

	job, err := scanJob(q.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

// ListDead returns the IDs of dead jobs, oldest first.
func (q *Queue) ListDead(ctx context.Context) ([]string, error) {
	query := `
		SELECT id FROM ingestion_jobs
		WHERE status = $1
		ORDER BY updated_at ASC
	`

	rows, err := q.db.QueryContext(ctx, query, domain.JobStatusDead)
	if err != nil {
		return nil, fmt.Errorf("query dead jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan dead job: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead jobs: %w", err)
	}

	return ids, nil
}

// ReplayDead resets a dead job's attempt budget and re-queues it.
func (q *Queue) ReplayDead(ctx context.Context, jobID string) error {
	now := time.Now()
	query := `
		UPDATE ingestion_jobs
		SET status = $1, attempts = 0, error = '', updated_at = $2, scheduled_for = $3
		WHERE id = $4 AND status = $5
	`

	result, err := q.db.ExecContext(ctx, query,
		domain.JobStatusQueued, now, now, jobID, domain.JobStatusDead)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: job %s is not dead-lettered", domain.ErrNotFound, jobID)
	}

	return nil
}

// Stats returns queue statistics
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	stats := &driven.QueueStats{}

	query := `
		SELECT status, COUNT(*) FROM ingestion_jobs GROUP BY status
	`
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}

		switch domain.JobStatus(status) {
		case domain.JobStatusQueued:
			stats.QueuedCount = count
		case domain.JobStatusActive:
			stats.ActiveCount = count
		case domain.JobStatusCompleted:
			stats.CompletedCount = count
		case domain.JobStatusFailed:
			stats.FailedCount = count
		case domain.JobStatusDead:
			stats.DeadCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}

	return stats, nil
}

// PurgeFinished removes old completed/failed jobs. Dead jobs are kept for
// manual replay.
func (q *Queue) PurgeFinished(ctx context.Context, olderThanSeconds int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(olderThanSeconds) * time.Second)

	query := `
		DELETE FROM ingestion_jobs
		WHERE status IN ($1, $2)
		  AND updated_at < $3
	`

	result, err := q.db.ExecContext(ctx, query,
		domain.JobStatusCompleted,
		domain.JobStatusFailed,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete jobs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return int(rows), nil
}

// Ping checks database connectivity
func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Close is a no-op for the Postgres queue (db connection managed externally)
func (q *Queue) Close() error {
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanJob.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.IngestionJob, error) {
	var job domain.IngestionJob
	var document []byte
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&document,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&completedAt,
		&job.ScheduledFor,
	)
	if err != nil {
		return nil, err
	}

	if len(document) > 0 {
		if err := json.Unmarshal(document, &job.Document); err != nil {
			return nil, fmt.Errorf("unmarshal document: %w", err)
		}
	}

	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return &job, nil
}

const createJobsTableSQL = `
CREATE TABLE IF NOT EXISTS ingestion_jobs (
    id VARCHAR(36) PRIMARY KEY,
    document JSONB NOT NULL DEFAULT '{}',
    status VARCHAR(20) NOT NULL DEFAULT 'queued',
    attempts INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL DEFAULT 5,
    error TEXT DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    started_at TIMESTAMP WITH TIME ZONE,
    completed_at TIMESTAMP WITH TIME ZONE,
    scheduled_for TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_ingestion_jobs_deliverable
    ON ingestion_jobs (status, scheduled_for) WHERE status = 'queued';
CREATE INDEX IF NOT EXISTS idx_ingestion_jobs_dead
    ON ingestion_jobs (updated_at) WHERE status = 'dead';
`
