package domain

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

// GenerateID creates a unique random ID.
func GenerateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// JobStatus represents the current state of an ingestion job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	// JobStatusDead is terminal: the job exhausted its retry budget and is
	// kept for inspection and manual replay, never retried automatically.
	JobStatusDead JobStatus = "dead"
)

const (
	// DefaultMaxAttempts is the retry cap before a job is dead-lettered.
	DefaultMaxAttempts = 5

	backoffBase = time.Second
	backoffCap  = 5 * time.Minute
)

// IngestionJob wraps exactly one Document for queued processing.
// Lifecycle: queued -> active -> (completed | failed | dead). Failed jobs
// are re-queued with backoff until the attempt cap is reached.
type IngestionJob struct {
	ID       string   `json:"id"`
	Document Document `json:"document"`

	Status      JobStatus `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`

	// Error contains the last failure message, if any
	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ScheduledFor is when the job becomes eligible for delivery.
	// Retries push this forward so backoff survives worker restarts.
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewIngestionJob creates a queued job for the given document.
func NewIngestionJob(doc Document) *IngestionJob {
	now := time.Now()
	return &IngestionJob{
		ID:           GenerateID(),
		Document:     doc,
		Status:       JobStatusQueued,
		Attempts:     0,
		MaxAttempts:  DefaultMaxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
}

// CanRetry returns true if the job has retry budget left.
func (j *IngestionJob) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// Backoff returns the redelivery delay for the current attempt count:
// 1s, 2s, 4s, ... capped at five minutes.
func (j *IngestionJob) Backoff() time.Duration {
	d := backoffBase << j.Attempts
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	return d
}

// MarkActive transitions the job to active and counts the attempt.
func (j *IngestionJob) MarkActive() {
	now := time.Now()
	j.Status = JobStatusActive
	j.StartedAt = &now
	j.UpdatedAt = now
	j.Attempts++
}

// MarkCompleted transitions the job to completed.
func (j *IngestionJob) MarkCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.Error = ""
}

// MarkFailed records a permanent failure. The job is not retried.
func (j *IngestionJob) MarkFailed(reason string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.UpdatedAt = now
	j.Error = reason
}

// MarkDead records retry-budget exhaustion.
func (j *IngestionJob) MarkDead(reason string) {
	now := time.Now()
	j.Status = JobStatusDead
	j.UpdatedAt = now
	j.Error = reason
}

// ScheduleRetry resets the job for redelivery with exponential backoff.
func (j *IngestionJob) ScheduleRetry(reason string) {
	now := time.Now()
	j.Status = JobStatusQueued
	j.UpdatedAt = now
	j.Error = reason
	j.ScheduledFor = now.Add(j.Backoff())
}

// ResetForReplay clears retry accounting so a dead job can be re-enqueued.
func (j *IngestionJob) ResetForReplay() {
	now := time.Now()
	j.Status = JobStatusQueued
	j.Attempts = 0
	j.Error = ""
	j.UpdatedAt = now
	j.ScheduledFor = now
}
