package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tessera-labs/semdex/internal/core/domain"
	"github.com/tessera-labs/semdex/internal/core/ports/driven"
	"github.com/tessera-labs/semdex/internal/core/ports/driving"
)

// Ensure Ingestor implements IngestService
var _ driving.IngestService = (*Ingestor)(nil)

// Ingestor turns a validated document into exactly one vector-store point
// per chunk. Delivery from the broker is at-least-once; the deterministic
// point ID plus wait-for-completion upserts make the store-side effect
// idempotent.
type Ingestor struct {
	embedder   driven.EmbeddingService
	store      driven.VectorStore
	collection string
	vectorSize int
	logger     *slog.Logger

	// locks serializes jobs for the same document. The broker gives no
	// ordering guarantee, and two concurrent re-ingestions of one document
	// would otherwise race on the payload timestamp.
	locks keyedMutex
}

// IngestorConfig holds dependencies for Ingestor.
type IngestorConfig struct {
	Embedder   driven.EmbeddingService
	Store      driven.VectorStore
	Collection string
	VectorSize int
	Logger     *slog.Logger
}

// NewIngestor creates a new Ingestor.
func NewIngestor(cfg IngestorConfig) *Ingestor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		embedder:   cfg.Embedder,
		store:      cfg.Store,
		collection: cfg.Collection,
		vectorSize: cfg.VectorSize,
		logger:     logger,
	}
}

// ProcessJob runs the ingestion pipeline for one job.
// Invalid documents fail permanently before any network call; embedding and
// store failures surface as transient errors for the worker's retry policy.
func (i *Ingestor) ProcessJob(ctx context.Context, job *domain.IngestionJob) error {
	doc := &job.Document

	if err := doc.Validate(); err != nil {
		return err
	}

	text := doc.EmbeddableText()
	if text == "" {
		return fmt.Errorf("%w: document %s collapses to empty text", domain.ErrInvalidInput, doc.DocumentID)
	}

	unlock := i.locks.lock(doc.DocumentID)
	defer unlock()

	vector, err := i.embedder.Embed(ctx, text, driven.EmbedModePassage)
	if err != nil {
		return fmt.Errorf("embed document %s: %w", doc.DocumentID, err)
	}

	if len(vector) != i.vectorSize {
		// Rejected before the store call: a wrong-sized vector must never
		// be truncated into the collection.
		return fmt.Errorf("%w: got %d, collection expects %d",
			domain.ErrDimensionMismatch, len(vector), i.vectorSize)
	}

	point := domain.NewVectorPoint(doc, vector, time.Now())

	if err := i.store.Upsert(ctx, i.collection, []*domain.VectorPoint{point}, true); err != nil {
		return fmt.Errorf("upsert point %s: %w", point.ID, err)
	}

	i.logger.Debug("document ingested",
		"document_id", doc.DocumentID,
		"point_id", point.ID,
		"source_kind", doc.SourceKind,
		"chunk", doc.ChunkIndex,
	)
	return nil
}

// Delete removes all points belonging to a document.
func (i *Ingestor) Delete(ctx context.Context, documentID string, totalChunks int) error {
	if documentID == "" {
		return fmt.Errorf("%w: document_id is required", domain.ErrInvalidInput)
	}
	if totalChunks < 1 {
		totalChunks = 1
	}

	ids := make([]string, 0, totalChunks)
	for chunk := 0; chunk < totalChunks; chunk++ {
		ids = append(ids, domain.PointID(documentID, chunk, totalChunks))
	}

	if err := i.store.DeletePoints(ctx, i.collection, ids); err != nil {
		return fmt.Errorf("delete points for %s: %w", documentID, err)
	}
	return nil
}

// keyedMutex provides one mutex per key. Entries are reference counted and
// removed when the last holder unlocks, so the map does not grow with the
// document corpus.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedMutexEntry
}

type keyedMutexEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = make(map[string]*keyedMutexEntry)
	}
	e, ok := k.entries[key]
	if !ok {
		e = &keyedMutexEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
