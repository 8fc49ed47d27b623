package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/embedstore/internal/config"
	"github.com/hyperjump/embedstore/internal/embedding"
	"github.com/hyperjump/embedstore/internal/engine"
	"github.com/hyperjump/embedstore/internal/indexer"
	"github.com/hyperjump/embedstore/internal/models"
	"github.com/hyperjump/embedstore/internal/search"
	"github.com/hyperjump/embedstore/internal/storage"
)

func testServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFileStorage(root)
	if err != nil {
		t.Fatal(err)
	}
	client := embedding.NewClient(embedding.NewMockProvider(4), embedding.ClientConfig{})
	eng, err := engine.New(engine.Config{Root: root, FailureThreshold: 3}, store, client)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	srv := NewServer(
		eng,
		search.NewEngine(eng, &config.SearchConfig{}),
		indexer.NewIndexer(eng, &config.IndexerConfig{}),
		&config.ServerConfig{Host: "localhost", Port: 0},
		zap.NewNop(),
	)
	return srv, eng
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	srv, _ := testServer(t)
	rec := do(t, srv.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.EmbeddingOK || resp.CircuitOpen || resp.FailureThreshold != 3 {
		t.Errorf("unexpected health: %+v", resp)
	}
}

func TestHandleStoreVectorsAndSearch(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/namespaces/docs/vectors", storeVectorsRequest{Items: []vectorItem{
		{ID: "a", Vector: []float32{1, 0, 0, 0}},
		{ID: "nested/b", Vector: []float32{0.9, 0.1, 0, 0}},
		{ID: "c", Vector: []float32{0, 1, 0, 0}},
	}})
	if rec.Code != http.StatusOK {
		t.Fatalf("store status = %d, body %s", rec.Code, rec.Body.String())
	}
	var batch models.BatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &batch); err != nil {
		t.Fatal(err)
	}
	if len(batch.Stored) != 3 {
		t.Fatalf("stored = %v", batch.Stored)
	}

	zero := 0.0
	rec = do(t, h, http.MethodPost, "/api/v1/search", models.SimilarityQuery{
		Vector: []float32{1, 0, 0, 0}, Limit: 3, MinSimilarity: &zero,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp models.SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 3 || resp.Results[0].ID != "a" || resp.Results[1].ID != "nested/b" {
		t.Errorf("unexpected results: %+v", resp.Results)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/namespaces/docs/embeddings/nested/b", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got embeddingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "nested/b" || len(got.Vector) != 4 {
		t.Errorf("unexpected embedding: %+v", got)
	}

	rec = do(t, h, http.MethodDelete, "/api/v1/namespaces/docs/embeddings/nested/b", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = do(t, h, http.MethodDelete, "/api/v1/namespaces/docs/embeddings/nested/b", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestHandleStoreVectors_criticalBatch(t *testing.T) {
	srv, eng := testServer(t)
	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/namespaces/docs/vectors", storeVectorsRequest{Items: []vectorItem{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "a", Vector: []float32{0, 1}},
	}})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var batch models.BatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &batch); err != nil {
		t.Fatal(err)
	}
	if !batch.Aborted {
		t.Error("batch should be aborted")
	}
	if len(eng.Namespaces()) != 0 {
		t.Error("aborted batch must not create the namespace")
	}
}

func TestHandleIndexTexts(t *testing.T) {
	srv, eng := testServer(t)
	h := srv.Handler()
	rec := do(t, h, http.MethodPost, "/api/v1/namespaces/notes/embeddings", indexTextsRequest{Items: []textItem{
		{ID: "n1", Text: "remember the milk"},
		{ID: "n2", Text: "water the plants", Metadata: &models.EmbeddingMetadata{Type: "todo"}},
	}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	meta, ok := eng.GetMetadata("notes", "n2")
	if !ok || meta.Type != "todo" || meta.Content != "water the plants" {
		t.Errorf("unexpected metadata: %+v", meta)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/search", models.SimilarityQuery{Text: "remember the milk", Limit: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d", rec.Code)
	}
	var resp models.SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "n1" {
		t.Errorf("unexpected results: %+v", resp.Results)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/namespaces/notes/embeddings", indexTextsRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty items status = %d, want 400", rec.Code)
	}
}

func TestHandleSearch_badRequests(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.Handler()
	rec := do(t, h, http.MethodPost, "/api/v1/search", models.SimilarityQuery{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d, want 400", rec.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid body status = %d, want 400", rr.Code)
	}
}

func TestHandleStatsNamespacesAndRebuild(t *testing.T) {
	srv, eng := testServer(t)
	h := srv.Handler()
	if !eng.StoreEmbedding(context.Background(), "x", []float32{1, 2}, nil, "alpha") {
		t.Fatal("store failed")
	}

	rec := do(t, h, http.MethodGet, "/api/v1/namespaces", nil)
	var nss []models.Namespace
	if err := json.Unmarshal(rec.Body.Bytes(), &nss); err != nil {
		t.Fatal(err)
	}
	if len(nss) != 1 || nss[0].Name != "alpha" || nss[0].Dimension != 2 {
		t.Errorf("unexpected namespaces: %+v", nss)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/stats", nil)
	var stats struct {
		Namespaces   []models.NamespaceStats `json:"namespaces"`
		TotalVectors int64                   `json:"total_vectors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalVectors != 1 || len(stats.Namespaces) != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/namespaces/alpha/rebuild", nil); rec.Code != http.StatusOK {
		t.Errorf("rebuild status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/namespaces/missing/rebuild", nil); rec.Code != http.StatusNotFound {
		t.Errorf("rebuild missing status = %d, want 404", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/v1/failures", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "[]\n" {
		t.Errorf("failures = %d %q", rec.Code, rec.Body.String())
	}
}
