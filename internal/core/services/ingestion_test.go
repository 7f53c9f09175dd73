package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tessera-labs/semdex/internal/core/domain"
	"github.com/tessera-labs/semdex/internal/core/ports/driven"
	"github.com/tessera-labs/semdex/internal/core/ports/driven/mocks"
)

const testCollection = "semdex-test"

func newTestIngestor(t *testing.T) (*Ingestor, *mocks.MockEmbeddingService, *mocks.MockVectorStore) {
	t.Helper()
	embedder := mocks.NewMockEmbeddingService()
	store := mocks.NewMockVectorStore()
	if err := store.EnsureCollection(context.Background(), testCollection, embedder.Dimensions(), driven.DistanceCosine); err != nil {
		t.Fatalf("ensure collection: %v", err)
	}

	ing := NewIngestor(IngestorConfig{
		Embedder:   embedder,
		Store:      store,
		Collection: testCollection,
		VectorSize: embedder.Dimensions(),
	})
	return ing, embedder, store
}

func mailDoc(id, title, body string) domain.Document {
	return domain.Document{
		DocumentID:  id,
		SourceKind:  domain.SourceKindMail,
		Title:       title,
		Body:        body,
		ChunkIndex:  0,
		TotalChunks: 1,
		OccurredAt:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestIngestor_ProcessJob(t *testing.T) {
	ing, _, store := newTestIngestor(t)

	job := domain.NewIngestionJob(mailDoc("d1", "Invoice", "Payment due March 1"))
	if err := ing.ProcessJob(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.PointCount(testCollection) != 1 {
		t.Fatalf("expected 1 point, got %d", store.PointCount(testCollection))
	}

	point := store.GetPoint(testCollection, domain.PointID("d1", 0, 1))
	if point == nil {
		t.Fatal("point not stored under deterministic ID")
	}
	if point.Payload[domain.PayloadTitle] != "Invoice" {
		t.Errorf("unexpected payload title: %v", point.Payload[domain.PayloadTitle])
	}

	// Upsert must wait for completion before the job can be acked
	if len(store.UpsertWaits) != 1 || !store.UpsertWaits[0] {
		t.Error("expected wait-for-completion upsert")
	}
}

func TestIngestor_ProcessJob_Idempotent(t *testing.T) {
	ing, _, store := newTestIngestor(t)
	ctx := context.Background()

	first := domain.NewIngestionJob(mailDoc("d1", "Invoice", "Payment due March 1"))
	if err := ing.ProcessJob(ctx, first); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	second := domain.NewIngestionJob(mailDoc("d1", "Invoice (updated)", "Payment due March 15"))
	if err := ing.ProcessJob(ctx, second); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	if store.PointCount(testCollection) != 1 {
		t.Fatalf("re-ingestion duplicated the point: %d points", store.PointCount(testCollection))
	}

	point := store.GetPoint(testCollection, domain.PointID("d1", 0, 1))
	if point.Payload[domain.PayloadTitle] != "Invoice (updated)" {
		t.Errorf("expected second ingestion's payload, got %v", point.Payload[domain.PayloadTitle])
	}
}

func TestIngestor_ProcessJob_EmptyDocumentNeverEmbedded(t *testing.T) {
	ing, embedder, store := newTestIngestor(t)

	job := domain.NewIngestionJob(mailDoc("d1", "", ""))
	err := ing.ProcessJob(context.Background(), job)

	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if embedder.CallCount() != 0 {
		t.Errorf("empty document reached the embedder: %d calls", embedder.CallCount())
	}
	if store.PointCount(testCollection) != 0 {
		t.Error("empty document reached the store")
	}
}

func TestIngestor_ProcessJob_DimensionMismatchRejected(t *testing.T) {
	embedder := mocks.NewMockEmbeddingService() // emits 8-dim vectors
	store := mocks.NewMockVectorStore()

	ing := NewIngestor(IngestorConfig{
		Embedder:   embedder,
		Store:      store,
		Collection: testCollection,
		VectorSize: 1024, // collection configured wider than the embedder
	})

	job := domain.NewIngestionJob(mailDoc("d1", "Invoice", "Payment due"))
	err := ing.ProcessJob(context.Background(), job)

	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if len(store.UpsertWaits) != 0 {
		t.Error("mismatched vector reached the store")
	}
}

func TestIngestor_ProcessJob_PassageMode(t *testing.T) {
	ing, embedder, _ := newTestIngestor(t)

	job := domain.NewIngestionJob(mailDoc("d1", "Invoice", "Payment due"))
	if err := ing.ProcessJob(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(embedder.Calls) != 1 || embedder.Calls[0].Mode != driven.EmbedModePassage {
		t.Errorf("expected one passage-mode embed call, got %+v", embedder.Calls)
	}
}

func TestIngestor_ProcessJob_TransientEmbedFailure(t *testing.T) {
	ing, embedder, _ := newTestIngestor(t)
	embedder.FailWith = domain.ErrEmbeddingUnavailable

	job := domain.NewIngestionJob(mailDoc("d1", "Invoice", "Payment due"))
	err := ing.ProcessJob(context.Background(), job)

	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if !domain.IsTransient(err) {
		t.Error("embed failure should classify as transient")
	}
}

func TestIngestor_Delete_AllChunks(t *testing.T) {
	ing, _, store := newTestIngestor(t)
	ctx := context.Background()

	for chunk := 0; chunk < 3; chunk++ {
		doc := mailDoc("d1", "Report", "Quarterly numbers")
		doc.ChunkIndex = chunk
		doc.TotalChunks = 3
		if err := ing.ProcessJob(ctx, domain.NewIngestionJob(doc)); err != nil {
			t.Fatalf("ingest chunk %d: %v", chunk, err)
		}
	}
	if store.PointCount(testCollection) != 3 {
		t.Fatalf("expected 3 points, got %d", store.PointCount(testCollection))
	}

	if err := ing.Delete(ctx, "d1", 3); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if store.PointCount(testCollection) != 0 {
		t.Errorf("expected all chunks deleted, %d remain", store.PointCount(testCollection))
	}
}

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	var km keyedMutex
	var active, maxActive int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.lock("d1")
			defer unlock()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("expected mutual exclusion per key, saw %d concurrent holders", maxActive)
	}
}
