package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tessera-labs/semdex/internal/core/domain"
	"github.com/tessera-labs/semdex/internal/core/ports/driven"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) (*Store, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewStore(DefaultConfig(server.URL)), server
}

func collectionInfoBody(size int, points int64) string {
	return `{"status":"ok","result":{"status":"green","points_count":` +
		jsonInt(points) + `,"config":{"params":{"vectors":{"size":` + jsonInt(int64(size)) + `,"distance":"Cosine"}}}}}`
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestEnsureCollectionCreatesWhenMissing(t *testing.T) {
	var mu sync.Mutex
	var created, indexed bool

	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/docs":
			if !created {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write([]byte(collectionInfoBody(1024, 0)))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			vectors := body["vectors"].(map[string]any)
			if vectors["size"].(float64) != 1024 {
				t.Errorf("vector size = %v, want 1024", vectors["size"])
			}
			if vectors["distance"].(string) != "Cosine" {
				t.Errorf("distance = %v, want Cosine", vectors["distance"])
			}
			if _, ok := body["hnsw_config"]; !ok {
				t.Error("create body missing hnsw_config")
			}
			created = true
			w.Write([]byte(`{"status":"ok","result":true}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs/index":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if body["field_name"] != domain.PayloadSourceKind {
				t.Errorf("index field = %v, want %s", body["field_name"], domain.PayloadSourceKind)
			}
			indexed = true
			w.Write([]byte(`{"status":"ok","result":true}`))
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	if err := store.EnsureCollection(context.Background(), "docs", 1024, driven.DistanceCosine); err != nil {
		t.Fatalf("EnsureCollection() error = %v", err)
	}
	if !created || !indexed {
		t.Errorf("created = %v, indexed = %v, want both true", created, indexed)
	}
}

func TestEnsureCollectionExistingMatchingSize(t *testing.T) {
	var createCalled bool
	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			createCalled = true
		}
		w.Write([]byte(collectionInfoBody(1024, 42)))
	})

	if err := store.EnsureCollection(context.Background(), "docs", 1024, driven.DistanceCosine); err != nil {
		t.Fatalf("EnsureCollection() error = %v", err)
	}
	if createCalled {
		t.Error("existing collection should not be recreated")
	}
}

func TestEnsureCollectionSizeMismatch(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(collectionInfoBody(768, 0)))
	})

	err := store.EnsureCollection(context.Background(), "docs", 1024, driven.DistanceCosine)
	if !errors.Is(err, domain.ErrConfigMismatch) {
		t.Errorf("error = %v, want ErrConfigMismatch", err)
	}
}

func TestEnsureCollectionCreationRace(t *testing.T) {
	var gets int
	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			gets++
			if gets == 1 {
				// First check sees no collection; a concurrent creator
				// wins the subsequent PUT.
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write([]byte(collectionInfoBody(1024, 0)))
		case http.MethodPut:
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"status":{"error":"collection docs already exists"}}`))
		}
	})

	if err := store.EnsureCollection(context.Background(), "docs", 1024, driven.DistanceCosine); err != nil {
		t.Fatalf("EnsureCollection() error = %v", err)
	}
}

func TestGetCollectionInfoNotFound(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := store.GetCollectionInfo(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestUpsertSendsWaitFlag(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/docs/points" {
			t.Errorf("path = %s, want /collections/docs/points", r.URL.Path)
		}
		if r.URL.Query().Get("wait") != "true" {
			t.Errorf("wait = %q, want true", r.URL.Query().Get("wait"))
		}
		var body struct {
			Points []qdrantPoint `json:"points"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.Points) != 1 {
			t.Fatalf("points = %d, want 1", len(body.Points))
		}
		if body.Points[0].Payload[domain.PayloadDocumentID] != "mail-1" {
			t.Errorf("payload document_id = %v", body.Points[0].Payload[domain.PayloadDocumentID])
		}
		w.Write([]byte(`{"status":"ok","result":{"operation_id":1,"status":"completed"}}`))
	})

	doc := &domain.Document{
		DocumentID: "mail-1",
		SourceKind: domain.SourceKindMail,
		Title:      "Invoice",
		Body:       "Payment due",
	}
	point := domain.NewVectorPoint(doc, []float32{0.1, 0.2}, time.Now())

	if err := store.Upsert(context.Background(), "docs", []*domain.VectorPoint{point}, true); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty upsert")
	})

	if err := store.Upsert(context.Background(), "docs", nil, true); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
}

func TestSearchBuildsFilter(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/docs/points/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["limit"].(float64) != 20 {
			t.Errorf("limit = %v, want 20", body["limit"])
		}
		if body["score_threshold"].(float64) != 0.4 {
			t.Errorf("score_threshold = %v, want 0.4", body["score_threshold"])
		}
		filter := body["filter"].(map[string]any)
		must := filter["must"].([]any)[0].(map[string]any)
		if must["key"] != domain.PayloadSourceKind {
			t.Errorf("filter key = %v", must["key"])
		}
		mustNot := filter["must_not"].([]any)[0].(map[string]any)
		excluded := mustNot["has_id"].([]any)
		if len(excluded) != 1 || excluded[0] != "anchor-id" {
			t.Errorf("has_id = %v, want [anchor-id]", excluded)
		}
		w.Write([]byte(`{"result":[{"id":"p1","score":0.91,"payload":{"document_id":"mail-1"}}]}`))
	})

	hits, err := store.Search(context.Background(), "docs", driven.VectorQuery{
		Vector:         []float32{0.1, 0.2},
		Limit:          20,
		ScoreThreshold: 0.4,
		SourceKind:     domain.SourceKindMail,
		ExcludeIDs:     []string{"anchor-id"},
		WithPayload:    true,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	if hits[0].ID != "p1" || hits[0].Score != 0.91 {
		t.Errorf("hit = %+v", hits[0])
	}
	if hits[0].Payload[domain.PayloadDocumentID] != "mail-1" {
		t.Errorf("payload = %v", hits[0].Payload)
	}
}

func TestSearchOmitsFilterAndThresholdWhenUnset(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["filter"]; ok {
			t.Error("filter should be omitted for unfiltered queries")
		}
		if _, ok := body["score_threshold"]; ok {
			t.Error("score_threshold should be omitted when zero")
		}
		w.Write([]byte(`{"result":[]}`))
	})

	hits, err := store.Search(context.Background(), "docs", driven.VectorQuery{
		Vector: []float32{0.1},
		Limit:  10,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %d, want 0", len(hits))
	}
}

func TestSearchServerError(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := store.Search(context.Background(), "docs", driven.VectorQuery{Vector: []float32{0.1}, Limit: 5})
	if !errors.Is(err, domain.ErrVectorStoreUnavailable) {
		t.Errorf("error = %v, want ErrVectorStoreUnavailable", err)
	}
}

func TestSearchUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	store := NewStore(DefaultConfig(server.URL))

	_, err := store.Search(context.Background(), "docs", driven.VectorQuery{Vector: []float32{0.1}, Limit: 5})
	if !errors.Is(err, domain.ErrVectorStoreUnavailable) {
		t.Errorf("error = %v, want ErrVectorStoreUnavailable", err)
	}
}

func TestRetrieveReturnsVectors(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/collections/docs/points" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		ids := body["ids"].([]any)
		if len(ids) != 1 || ids[0] != "p1" {
			t.Errorf("ids = %v", ids)
		}
		if body["with_vector"] != true {
			t.Error("with_vector should be true")
		}
		w.Write([]byte(`{"result":[{"id":"p1","vector":[0.5,0.5],"payload":{"title":"Invoice"}}]}`))
	})

	points, err := store.Retrieve(context.Background(), "docs", []string{"p1"}, true)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("points = %d, want 1", len(points))
	}
	if len(points[0].Vector) != 2 {
		t.Errorf("vector = %v", points[0].Vector)
	}
}

func TestDeletePoints(t *testing.T) {
	var deleted []any
	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/docs/points/delete" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("wait") != "true" {
			t.Error("delete should wait")
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		deleted = body["points"].([]any)
		w.Write([]byte(`{"status":"ok","result":{"operation_id":2,"status":"completed"}}`))
	})

	if err := store.DeletePoints(context.Background(), "docs", []string{"p1", "p2"}); err != nil {
		t.Fatalf("DeletePoints() error = %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("deleted = %v, want 2 ids", deleted)
	}
}

func TestAPIKeyHeader(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "secret" {
			t.Errorf("api-key header = %q, want secret", r.Header.Get("api-key"))
		}
		w.Write([]byte(`{"result":{"collections":[]}}`))
	})
	store.apiKey = "secret"

	if err := store.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
}
