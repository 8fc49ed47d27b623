// Package storage persists the snapshot state of the store: per-namespace
// metadata catalogs, the namespace registry and the embedding failure log.
// Vector records themselves live in the ledger and never pass through here.
package storage

import (
	"context"
	"fmt"

	"github.com/hyperjump/embedstore/internal/models"
)

// Backend names accepted by New.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Storage defines snapshot persistence operations.
// Loads of state that was never saved return empty maps and no error.
type Storage interface {
	// Catalog snapshots, keyed by embedding id
	SaveCatalog(ctx context.Context, ns string, entries map[string]*models.EmbeddingMetadata) error
	LoadCatalog(ctx context.Context, ns string) (map[string]*models.EmbeddingMetadata, error)
	DeleteCatalog(ctx context.Context, ns string) error

	// Namespace registry, keyed by namespace name
	SaveNamespaces(ctx context.Context, namespaces map[string]models.Namespace) error
	LoadNamespaces(ctx context.Context) (map[string]models.Namespace, error)

	// Failure log, keyed by text hash
	SaveFailures(ctx context.Context, failures map[string]models.EmbeddingFailure) error
	LoadFailures(ctx context.Context) (map[string]models.EmbeddingFailure, error)

	Close() error
}

// New opens the storage backend rooted at root. An empty backend selects files.
func New(backend, root string) (Storage, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStorage(root)
	case BackendSQLite:
		return NewSQLiteStorage(SQLitePath(root))
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: file, sqlite)", backend)
	}
}
