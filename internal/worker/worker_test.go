package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tessera-labs/semdex/internal/core/domain"
	"github.com/tessera-labs/semdex/internal/core/ports/driven/mocks"
)

// fakeIngestor scripts ProcessJob outcomes per call.
type fakeIngestor struct {
	mu      sync.Mutex
	calls   int
	process func(call int, job *domain.IngestionJob) error
}

func (f *fakeIngestor) ProcessJob(ctx context.Context, job *domain.IngestionJob) error {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.process == nil {
		return nil
	}
	return f.process(call, job)
}

func (f *fakeIngestor) Delete(ctx context.Context, documentID string, totalChunks int) error {
	return nil
}

func (f *fakeIngestor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestWorker(queue *mocks.MockJobQueue, ingestor *fakeIngestor) *Worker {
	return New(Config{
		Queue:          queue,
		Ingestor:       ingestor,
		Concurrency:    1,
		DequeueTimeout: 1,
	})
}

func testJob(documentID string) *domain.IngestionJob {
	return domain.NewIngestionJob(domain.Document{
		DocumentID:  documentID,
		SourceKind:  domain.SourceKindMail,
		Title:       "Invoice",
		Body:        "Payment due March 1",
		TotalChunks: 1,
	})
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWorkerProcessesJobToCompletion(t *testing.T) {
	queue := mocks.NewMockJobQueue()
	ingestor := &fakeIngestor{}
	w := newTestWorker(queue, ingestor)

	job := testJob("mail-1")
	if err := queue.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	waitFor(t, func() bool {
		stored, _ := queue.GetJob(context.Background(), job.ID)
		return stored != nil && stored.Status == domain.JobStatusCompleted
	})

	if got := ingestor.callCount(); got != 1 {
		t.Errorf("process calls = %d, want 1", got)
	}
}

func TestWorkerNacksInvalidDocumentPermanently(t *testing.T) {
	queue := mocks.NewMockJobQueue()
	ingestor := &fakeIngestor{
		process: func(call int, job *domain.IngestionJob) error {
			return fmt.Errorf("validate: %w", domain.ErrInvalidInput)
		},
	}
	w := newTestWorker(queue, ingestor)

	job := testJob("mail-1")
	if err := queue.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	waitFor(t, func() bool {
		stored, _ := queue.GetJob(context.Background(), job.ID)
		return stored != nil && stored.Status == domain.JobStatusFailed
	})

	// Permanent failures burn exactly one attempt
	if got := ingestor.callCount(); got != 1 {
		t.Errorf("process calls = %d, want 1", got)
	}
	dead, _ := queue.ListDead(context.Background())
	if len(dead) != 0 {
		t.Errorf("dead = %v, want empty for permanent failure", dead)
	}
}

func TestWorkerRetriesTransientFailureThenSucceeds(t *testing.T) {
	queue := mocks.NewMockJobQueue()
	// Scheduled retries become due immediately
	queue.Now = func() time.Time { return time.Now().Add(time.Hour) }

	ingestor := &fakeIngestor{
		process: func(call int, job *domain.IngestionJob) error {
			if call == 1 {
				return fmt.Errorf("embed: %w", domain.ErrEmbeddingUnavailable)
			}
			return nil
		},
	}
	w := newTestWorker(queue, ingestor)

	job := testJob("mail-1")
	if err := queue.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	waitFor(t, func() bool {
		stored, _ := queue.GetJob(context.Background(), job.ID)
		return stored != nil && stored.Status == domain.JobStatusCompleted
	})

	if got := ingestor.callCount(); got != 2 {
		t.Errorf("process calls = %d, want 2", got)
	}
}

func TestWorkerDeadLettersAfterAttemptCap(t *testing.T) {
	queue := mocks.NewMockJobQueue()
	queue.Now = func() time.Time { return time.Now().Add(time.Hour) }

	ingestor := &fakeIngestor{
		process: func(call int, job *domain.IngestionJob) error {
			return fmt.Errorf("upsert: %w", domain.ErrVectorStoreUnavailable)
		},
	}
	w := newTestWorker(queue, ingestor)

	job := testJob("mail-1")
	job.MaxAttempts = 2
	if err := queue.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	waitFor(t, func() bool {
		stored, _ := queue.GetJob(context.Background(), job.ID)
		return stored != nil && stored.Status == domain.JobStatusDead
	})

	if got := ingestor.callCount(); got != 2 {
		t.Errorf("process calls = %d, want 2", got)
	}
	dead, _ := queue.ListDead(context.Background())
	if len(dead) != 1 || dead[0] != job.ID {
		t.Errorf("dead = %v, want [%s]", dead, job.ID)
	}
}

func TestWorkerStopIsIdempotent(t *testing.T) {
	queue := mocks.NewMockJobQueue()
	w := newTestWorker(queue, &fakeIngestor{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	w.Stop()
	w.Stop() // second call must not panic or block
}

func TestWorkerStartTwiceIsNoop(t *testing.T) {
	queue := mocks.NewMockJobQueue()
	w := newTestWorker(queue, &fakeIngestor{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	w.Stop()
}

func TestWorkerHealth(t *testing.T) {
	queue := mocks.NewMockJobQueue()
	w := newTestWorker(queue, &fakeIngestor{})

	health := w.Health(context.Background())
	if health.Running {
		t.Error("worker should not report running before Start")
	}
	if !health.QueueHealth {
		t.Error("queue should be healthy")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	health = w.Health(context.Background())
	if !health.Running {
		t.Error("worker should report running after Start")
	}
}
