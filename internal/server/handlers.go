package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/embedstore/internal/engine"
	"github.com/hyperjump/embedstore/internal/indexer"
	"github.com/hyperjump/embedstore/internal/models"
	"github.com/hyperjump/embedstore/internal/search"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 32 << 20

type textItem struct {
	ID       string                    `json:"id,omitempty"`
	Text     string                    `json:"text"`
	Metadata *models.EmbeddingMetadata `json:"metadata,omitempty"`
}

type indexTextsRequest struct {
	Items []textItem `json:"items"`
}

type vectorItem struct {
	ID       string                    `json:"id"`
	Vector   []float32                 `json:"vector"`
	Metadata *models.EmbeddingMetadata `json:"metadata,omitempty"`
}

type storeVectorsRequest struct {
	Items []vectorItem `json:"items"`
}

type embeddingResponse struct {
	ID        string                    `json:"id"`
	Namespace string                    `json:"namespace"`
	Vector    []float32                 `json:"vector"`
	Metadata  *models.EmbeddingMetadata `json:"metadata,omitempty"`
}

type healthResponse struct {
	Status             string `json:"status"`
	EmbeddingOK        bool   `json:"embedding_ok"`
	ContinuousFailures int    `json:"continuous_failures"`
	FailureThreshold   int    `json:"failure_threshold"`
	CircuitOpen        bool   `json:"circuit_open"`
}

// handleHealth runs the embedding pre-check; a passing check closes the circuit.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ok := s.engine.Precheck(r.Context())
	resp := healthResponse{
		Status:             "ok",
		EmbeddingOK:        ok,
		ContinuousFailures: s.engine.ContinuousFailures(),
		FailureThreshold:   s.engine.FailureThreshold(),
		CircuitOpen:        s.engine.CircuitOpen(),
	}
	status := http.StatusOK
	if !ok {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()
	var vectors, disk int64
	for _, st := range stats {
		vectors += int64(st.IndexSize)
		disk += st.DiskBytes
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"namespaces":          stats,
		"total_vectors":       vectors,
		"disk_usage_bytes":    disk,
		"continuous_failures": s.engine.ContinuousFailures(),
		"circuit_open":        s.engine.CircuitOpen(),
	})
}

func (s *Server) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.engine.Namespaces())
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	failures := s.engine.EmbeddingFailures()
	if failures == nil {
		failures = []models.EmbeddingFailure{}
	}
	s.respondJSON(w, http.StatusOK, failures)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SimilarityQuery
	if !s.decode(w, r, &query) {
		return
	}
	s.logger.Debug("search request",
		zap.Bool("text", query.Text != ""),
		zap.Int("limit", query.Limit),
		zap.Strings("namespaces", query.Namespaces))
	response, err := s.search.Search(r.Context(), &query)
	switch {
	case errors.Is(err, search.ErrInvalidQuery), errors.Is(err, engine.ErrInvalidArgument):
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, search.ErrEmbeddingUnavailable):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

// handleIndexTexts embeds text items and stores them in the namespace.
func (s *Server) handleIndexTexts(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "ns")
	var req indexTextsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		s.respondError(w, http.StatusBadRequest, "items must not be empty")
		return
	}
	items := make([]indexer.Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = indexer.Item{ID: it.ID, Text: it.Text, Metadata: it.Metadata}
	}
	result, err := s.indexer.IndexItems(r.Context(), ns, items)
	switch {
	case errors.Is(err, indexer.ErrCircuitOpen):
		s.respondJSON(w, http.StatusServiceUnavailable, result)
		return
	case errors.Is(err, engine.ErrCritical):
		s.respondJSON(w, http.StatusUnprocessableEntity, result)
		return
	case err != nil:
		s.logger.Error("indexing failed", zap.String("namespace", ns), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// handleStoreVectors stores precomputed vectors. A single item goes through
// StoreEmbedding, which recreates the namespace on a dimension change; several
// items form one batch, which never does.
func (s *Server) handleStoreVectors(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "ns")
	var req storeVectorsRequest
	if !s.decode(w, r, &req) {
		return
	}
	switch len(req.Items) {
	case 0:
		s.respondError(w, http.StatusBadRequest, "items must not be empty")
		return
	case 1:
		it := req.Items[0]
		if !s.engine.StoreEmbedding(r.Context(), it.ID, it.Vector, it.Metadata, ns) {
			s.respondJSON(w, http.StatusUnprocessableEntity, &models.BatchResult{
				Stored: []string{},
				Failed: map[string]string{it.ID: "store failed"},
			})
			return
		}
		s.respondJSON(w, http.StatusOK, &models.BatchResult{Stored: []string{it.ID}})
		return
	}

	ids := make([]string, len(req.Items))
	vectors := make([][]float32, len(req.Items))
	metas := make([]*models.EmbeddingMetadata, len(req.Items))
	for i, it := range req.Items {
		ids[i], vectors[i], metas[i] = it.ID, it.Vector, it.Metadata
	}
	result, err := s.engine.StoreEmbeddingsBatch(r.Context(), ids, vectors, metas, ns)
	switch {
	case errors.Is(err, engine.ErrCritical):
		s.respondJSON(w, http.StatusUnprocessableEntity, result)
		return
	case err != nil:
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "ns")
	err := s.engine.RebuildNamespace(r.Context(), ns)
	switch {
	case errors.Is(err, engine.ErrNamespaceNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.logger.Error("rebuild failed", zap.String("namespace", ns), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

// The embedding id is the wildcard tail so ids may contain slashes.
func (s *Server) handleGetEmbedding(w http.ResponseWriter, r *http.Request) {
	ns, id := chi.URLParam(r, "ns"), chi.URLParam(r, "*")
	vec, ok := s.engine.GetEmbedding(ns, id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "embedding not found")
		return
	}
	meta, _ := s.engine.GetMetadata(ns, id)
	s.respondJSON(w, http.StatusOK, embeddingResponse{ID: id, Namespace: ns, Vector: vec, Metadata: meta})
}

func (s *Server) handleDeleteEmbedding(w http.ResponseWriter, r *http.Request) {
	ns, id := chi.URLParam(r, "ns"), chi.URLParam(r, "*")
	s.logger.Debug("delete embedding request", zap.String("namespace", ns), zap.String("id", id))
	if !s.engine.DeleteEmbedding(r.Context(), id, ns) {
		s.respondError(w, http.StatusNotFound, "embedding not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
