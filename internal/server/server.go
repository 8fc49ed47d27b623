// Package server provides the operational HTTP API for embedstore.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/embedstore/internal/config"
	"github.com/hyperjump/embedstore/internal/engine"
	"github.com/hyperjump/embedstore/internal/indexer"
	"github.com/hyperjump/embedstore/internal/search"
	"github.com/hyperjump/embedstore/pkg/utils"
)

// Server is the HTTP server for the embedstore API.
type Server struct {
	engine  *engine.Engine
	search  *search.Engine
	indexer *indexer.Indexer
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	eng *engine.Engine,
	searchEngine *search.Engine,
	idx *indexer.Indexer,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:  eng,
		search:  searchEngine,
		indexer: idx,
		config:  cfg,
		logger:  utils.OrNop(logger),
	}
}

// Handler returns the routed API handler.
func (s *Server) Handler() http.Handler {
	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/failures", s.handleFailures)
		r.Post("/search", s.handleSearch)
		r.Get("/namespaces", s.handleNamespaces)
		r.Route("/namespaces/{ns}", func(r chi.Router) {
			r.Post("/embeddings", s.handleIndexTexts)
			r.Post("/vectors", s.handleStoreVectors)
			r.Post("/rebuild", s.handleRebuild)
			r.Get("/embeddings/*", s.handleGetEmbedding)
			r.Delete("/embeddings/*", s.handleDeleteEmbedding)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Address()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// requestLogger logs each request with zap once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}()
		next.ServeHTTP(ww, r)
	})
}
