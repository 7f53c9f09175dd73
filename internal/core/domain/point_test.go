package domain

import (
	"testing"
	"time"
)

func TestPointID_Deterministic(t *testing.T) {
	a := PointID("d1", 0, 1)
	b := PointID("d1", 0, 1)
	if a != b {
		t.Errorf("expected stable point ID, got %s and %s", a, b)
	}
	if a == PointID("d2", 0, 1) {
		t.Error("expected different documents to produce different point IDs")
	}
}

func TestPointID_ChunkSensitivity(t *testing.T) {
	// Chunked documents get one point per chunk
	c0 := PointID("d1", 0, 3)
	c1 := PointID("d1", 1, 3)
	if c0 == c1 {
		t.Error("expected distinct point IDs per chunk")
	}

	// Single-chunk ID ignores the chunk index entirely
	if PointID("d1", 0, 1) != PointID("d1", 0, 1) {
		t.Error("single-chunk point ID not stable")
	}
}

func TestNewVectorPoint_Payload(t *testing.T) {
	doc := validDoc()
	ingested := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	point := NewVectorPoint(&doc, []float32{0.1, 0.2}, ingested)

	if point.ID != PointID(doc.DocumentID, 0, 1) {
		t.Errorf("unexpected point ID %s", point.ID)
	}
	if got := point.Payload[PayloadDocumentID]; got != "mail-123" {
		t.Errorf("expected document_id in payload, got %v", got)
	}
	if got := point.Payload[PayloadSourceKind]; got != "mail" {
		t.Errorf("expected source_kind mail, got %v", got)
	}
	if got := point.Payload[PayloadIngestedAt]; got != "2024-03-02T10:00:00Z" {
		t.Errorf("unexpected ingested_at: %v", got)
	}
	if got := point.Payload["from"]; got != "billing@example.com" {
		t.Errorf("expected flattened mail attributes, got %v", got)
	}
}
