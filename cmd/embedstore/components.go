package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/embedstore/internal/config"
	"github.com/hyperjump/embedstore/internal/embedding"
	"github.com/hyperjump/embedstore/internal/engine"
	"github.com/hyperjump/embedstore/internal/indexer"
	"github.com/hyperjump/embedstore/internal/search"
	"github.com/hyperjump/embedstore/internal/storage"
	"github.com/hyperjump/embedstore/internal/vector"
)

// Components holds the wired services for one storage root.
type Components struct {
	Engine  *engine.Engine
	Search  *search.Engine
	Indexer *indexer.Indexer
	logger  *zap.Logger
}

// Close flushes catalogs, persists the registry and failure log, and closes storage.
func (c *Components) Close(ctx context.Context) {
	if err := c.Engine.Shutdown(ctx); err != nil {
		c.logger.Warn("Shutdown incomplete", zap.Error(err))
	}
}

func newProvider(cfg *config.EmbeddingConfig) (embedding.Provider, error) {
	switch cfg.Provider {
	case "mock":
		return embedding.NewMockProvider(cfg.Dimensions), nil
	case "http", "":
		return embedding.NewHTTPProvider(embedding.HTTPProviderConfig{
			Endpoint:     cfg.Endpoint,
			Model:        cfg.Model,
			ModelVersion: cfg.ModelVersion,
			APIKey:       cfg.APIKey,
			APIKeyHeader: cfg.APIKeyHeader,
			Timeout:      cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: http, mock)", cfg.Provider)
	}
}

// initializeComponents opens storage, builds the embedding client and engine,
// and rebuilds every namespace from the ledger.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.New(cfg.Storage.Backend, cfg.Storage.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	provider, err := newProvider(&cfg.Embedding)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	client := embedding.NewClient(provider, embedding.ClientConfig{
		Model:             cfg.Embedding.Model,
		MaxRetries:        cfg.Embedding.MaxRetries,
		RequestsPerMinute: cfg.Embedding.RequestsPerMinute,
		Concurrency:       cfg.Embedding.Concurrency,
		CacheSize:         cfg.Embedding.CacheSize,
		Batch: embedding.BatcherConfig{
			MinBatch:     cfg.Embedding.MinBatch,
			MaxBatch:     cfg.Embedding.MaxBatch,
			InitialBatch: cfg.Embedding.InitialBatch,
		},
	},
		embedding.WithLogger(logger),
		embedding.WithMetrics(embedding.NewMetrics(logger)),
	)

	eng, err := engine.New(engine.Config{
		Root:      cfg.Storage.Root,
		IndexType: cfg.Index.Type,
		Index: vector.Options{
			M:              cfg.Index.M,
			EfConstruction: cfg.Index.EfConstruction,
			EfSearch:       cfg.Index.EfSearch,
			Seed:           cfg.Index.Seed,
		},
		FlushEvery:       cfg.Catalog.FlushEvery,
		FailureThreshold: cfg.Embedding.FailureThreshold,
	}, store, client, engine.WithLogger(logger))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to rebuild namespaces: %w", err)
	}

	return &Components{
		Engine:  eng,
		Search:  search.NewEngine(eng, &cfg.Search, search.WithLogger(logger)),
		Indexer: indexer.NewIndexer(eng, &cfg.Indexer, indexer.WithLogger(logger)),
		logger:  logger,
	}, nil
}
