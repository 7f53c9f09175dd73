package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/tessera-labs/semdex/internal/core/domain"
	"github.com/tessera-labs/semdex/internal/core/ports/driven"
)

// MockJobQueue is an in-memory JobQueue for testing.
// It honours ScheduledFor so backoff-driven redelivery can be exercised
// without a broker.
type MockJobQueue struct {
	mu   sync.Mutex
	jobs map[string]*domain.IngestionJob
	// ready holds IDs eligible (or scheduled) for delivery, FIFO
	ready []string
	dead  []string

	// Now can be overridden so scheduled jobs become due without sleeping
	Now func() time.Time
}

// NewMockJobQueue creates a new MockJobQueue
func NewMockJobQueue() *MockJobQueue {
	return &MockJobQueue{
		jobs: make(map[string]*domain.IngestionJob),
		Now:  time.Now,
	}
}

func (m *MockJobQueue) Enqueue(ctx context.Context, job *domain.IngestionJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	m.ready = append(m.ready, job.ID)
	return nil
}

func (m *MockJobQueue) EnqueueBatch(ctx context.Context, jobs []*domain.IngestionJob) error {
	for _, j := range jobs {
		if err := m.Enqueue(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockJobQueue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.IngestionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	for i, id := range m.ready {
		job := m.jobs[id]
		if job == nil || job.ScheduledFor.After(now) {
			continue
		}
		m.ready = append(m.ready[:i], m.ready[i+1:]...)
		job.MarkActive()
		return job, nil
	}
	return nil, nil
}

func (m *MockJobQueue) Ack(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		job.MarkCompleted()
	}
	return nil
}

func (m *MockJobQueue) Nack(ctx context.Context, jobID string, reason string, permanent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}

	switch {
	case permanent:
		job.MarkFailed(reason)
	case job.CanRetry():
		job.ScheduleRetry(reason)
		m.ready = append(m.ready, job.ID)
	default:
		job.MarkDead(reason)
		m.dead = append(m.dead, job.ID)
	}
	return nil
}

func (m *MockJobQueue) GetJob(ctx context.Context, jobID string) (*domain.IngestionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[jobID], nil
}

func (m *MockJobQueue) ListDead(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.dead))
	copy(out, m.dead)
	return out, nil
}

func (m *MockJobQueue) ReplayDead(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.Status != domain.JobStatusDead {
		return domain.ErrNotFound
	}
	job.ResetForReplay()
	for i, id := range m.dead {
		if id == jobID {
			m.dead = append(m.dead[:i], m.dead[i+1:]...)
			break
		}
	}
	m.ready = append(m.ready, jobID)
	return nil
}

func (m *MockJobQueue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &driven.QueueStats{}
	for _, job := range m.jobs {
		switch job.Status {
		case domain.JobStatusQueued:
			stats.QueuedCount++
		case domain.JobStatusActive:
			stats.ActiveCount++
		case domain.JobStatusCompleted:
			stats.CompletedCount++
		case domain.JobStatusFailed:
			stats.FailedCount++
		case domain.JobStatusDead:
			stats.DeadCount++
		}
	}
	return stats, nil
}

func (m *MockJobQueue) PurgeFinished(ctx context.Context, olderThanSeconds int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.Now().Add(-time.Duration(olderThanSeconds) * time.Second)
	purged := 0
	for id, job := range m.jobs {
		if (job.Status == domain.JobStatusCompleted || job.Status == domain.JobStatusFailed) &&
			job.UpdatedAt.Before(cutoff) {
			delete(m.jobs, id)
			purged++
		}
	}
	return purged, nil
}

func (m *MockJobQueue) Ping(ctx context.Context) error {
	return nil
}

func (m *MockJobQueue) Close() error {
	return nil
}
