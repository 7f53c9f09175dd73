package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Payload field names shared by the writer and the search path.
const (
	PayloadDocumentID  = "document_id"
	PayloadSourceKind  = "source_kind"
	PayloadTitle       = "title"
	PayloadBody        = "body"
	PayloadChunkIndex  = "chunk_index"
	PayloadTotalChunks = "total_chunks"
	PayloadOccurredAt  = "occurred_at"
	PayloadIngestedAt  = "ingested_at"
)

// VectorPoint is what the ingestion pipeline writes to the vector store:
// a deterministic ID, the passage embedding, and a denormalized payload.
type VectorPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// PointID derives the vector-store point ID from the document identity.
// UUIDv5 over the URL namespace keeps re-ingestion of the same
// document+chunk landing on the same point, so upserts overwrite instead
// of duplicating. Single-chunk documents hash the bare document ID so the
// common case stays compatible with producers that never chunk.
func PointID(documentID string, chunkIndex, totalChunks int) string {
	name := documentID
	if totalChunks > 1 {
		name = fmt.Sprintf("%s#%d", documentID, chunkIndex)
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// NewVectorPoint assembles the point for a validated document.
// The ingestion timestamp lets readers detect stale payloads under
// last-write-wins concurrency.
func NewVectorPoint(doc *Document, vector []float32, ingestedAt time.Time) *VectorPoint {
	payload := map[string]any{
		PayloadDocumentID:  doc.DocumentID,
		PayloadSourceKind:  string(doc.SourceKind),
		PayloadTitle:       doc.Title,
		PayloadBody:        doc.Body,
		PayloadChunkIndex:  doc.ChunkIndex,
		PayloadTotalChunks: doc.TotalChunks,
		PayloadOccurredAt:  doc.OccurredAt.UTC().Format(time.RFC3339),
		PayloadIngestedAt:  ingestedAt.UTC().Format(time.RFC3339),
	}
	for k, v := range doc.Attributes.Flatten() {
		payload[k] = v
	}

	return &VectorPoint{
		ID:      PointID(doc.DocumentID, doc.ChunkIndex, doc.TotalChunks),
		Vector:  vector,
		Payload: payload,
	}
}
