// Package search is the query layer over the vector engine: it embeds text
// queries, widens and groups candidates, pages results and attaches snippets.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/embedstore/internal/config"
	"github.com/hyperjump/embedstore/internal/models"
	"github.com/hyperjump/embedstore/pkg/utils"
)

// ErrInvalidQuery wraps query validation failures.
var ErrInvalidQuery = errors.New("invalid query")

// ErrEmbeddingUnavailable is returned when a text query cannot be embedded,
// either because the provider failed or the circuit is open.
var ErrEmbeddingUnavailable = errors.New("query embedding unavailable")

// VectorStore is the part of the vector engine the query layer needs.
type VectorStore interface {
	FindSimilar(ctx context.Context, query []float32, k int, minSimilarity *float64, namespaces ...string) ([]models.SimilarityResult, error)
	EmbedText(ctx context.Context, text string) ([]float32, bool)
}

// Engine runs similarity queries.
type Engine struct {
	store  VectorStore
	config *config.SearchConfig
	logger *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine over store.
func NewEngine(store VectorStore, cfg *config.SearchConfig, opts ...EngineOption) *Engine {
	if cfg == nil {
		cfg = &config.SearchConfig{}
	}
	e := &Engine{store: store, config: cfg}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = utils.OrNop(e.logger)
	return e
}

// Search validates query, embeds its text when needed, and returns one page
// of hits ranked by similarity.
func (e *Engine) Search(ctx context.Context, query *models.SimilarityQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := ProcessQuery(query, e.config); err != nil {
		return nil, err
	}

	vec := query.Vector
	if query.Text != "" {
		var ok bool
		vec, ok = e.store.EmbedText(ctx, query.Text)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrEmbeddingUnavailable, utils.Preview(query.Text, 50))
		}
	}

	k := query.Offset + query.Limit
	if query.GroupByDocument {
		k *= max(e.config.CandidateMultiplier, 1)
	}
	hits, err := e.store.FindSimilar(ctx, vec, k, query.MinSimilarity, query.Namespaces...)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if query.GroupByDocument {
		hits = GroupByDocument(hits)
	}

	page := Paginate(hits, query.Offset, query.Limit)
	response := &models.SearchResponse{
		Results: make([]*models.SearchResult, 0, len(page)),
		Total:   len(hits),
		Query:   query.Text,
	}
	for i, hit := range page {
		r := &models.SearchResult{
			SimilarityResult: hit,
			Rank:             query.Offset + i + 1,
			DocumentID:       hit.Metadata.DocumentID(),
		}
		if hit.Metadata != nil {
			r.Snippet = Highlight(hit.Metadata.Content, query.Text, e.config.SnippetLength)
		}
		response.Results = append(response.Results, r)
	}
	response.QueryTime = time.Since(startTime).Milliseconds()

	e.logger.Debug("Search completed",
		zap.Int("total", response.Total),
		zap.Int("returned", len(response.Results)),
		zap.Bool("text", query.Text != ""),
		zap.Int64("query_time_ms", response.QueryTime))
	return response, nil
}
