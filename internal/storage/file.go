package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyperjump/embedstore/internal/models"
	"github.com/hyperjump/embedstore/pkg/utils"
)

// File names of the snapshot files under the storage root.
const (
	CatalogFileName    = "embedding_metadata.json"
	NamespacesFileName = "namespaces.json"
	FailuresFileName   = "embedding_failures.json"
)

// FileStorage keeps each snapshot as a JSON file under root:
//
//	<root>/namespaces.json
//	<root>/embedding_failures.json
//	<root>/<namespace>/embedding_metadata.json
type FileStorage struct {
	root string
	mu   sync.Mutex
}

// NewFileStorage returns a file backend rooted at root, creating it if needed.
func NewFileStorage(root string) (*FileStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root must not be empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FileStorage{root: root}, nil
}

// CatalogPath returns the snapshot file for ns.
func (s *FileStorage) CatalogPath(ns string) string {
	return filepath.Join(s.root, ns, CatalogFileName)
}

// SaveCatalog writes the catalog snapshot for ns.
func (s *FileStorage) SaveCatalog(ctx context.Context, ns string, entries map[string]*models.EmbeddingMetadata) error {
	if err := os.MkdirAll(filepath.Join(s.root, ns), 0755); err != nil {
		return fmt.Errorf("failed to create namespace directory: %w", err)
	}
	if entries == nil {
		entries = map[string]*models.EmbeddingMetadata{}
	}
	return s.writeJSON(ctx, s.CatalogPath(ns), entries)
}

// LoadCatalog reads the catalog snapshot for ns.
func (s *FileStorage) LoadCatalog(ctx context.Context, ns string) (map[string]*models.EmbeddingMetadata, error) {
	entries := map[string]*models.EmbeddingMetadata{}
	if err := s.readJSON(ctx, s.CatalogPath(ns), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteCatalog removes the catalog snapshot for ns.
func (s *FileStorage) DeleteCatalog(ctx context.Context, ns string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.CatalogPath(ns)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete catalog: %w", err)
	}
	return nil
}

// SaveNamespaces writes the namespace registry.
func (s *FileStorage) SaveNamespaces(ctx context.Context, namespaces map[string]models.Namespace) error {
	if namespaces == nil {
		namespaces = map[string]models.Namespace{}
	}
	return s.writeJSON(ctx, filepath.Join(s.root, NamespacesFileName), namespaces)
}

// LoadNamespaces reads the namespace registry.
func (s *FileStorage) LoadNamespaces(ctx context.Context) (map[string]models.Namespace, error) {
	namespaces := map[string]models.Namespace{}
	if err := s.readJSON(ctx, filepath.Join(s.root, NamespacesFileName), &namespaces); err != nil {
		return nil, err
	}
	return namespaces, nil
}

// SaveFailures writes the failure log.
func (s *FileStorage) SaveFailures(ctx context.Context, failures map[string]models.EmbeddingFailure) error {
	if failures == nil {
		failures = map[string]models.EmbeddingFailure{}
	}
	return s.writeJSON(ctx, filepath.Join(s.root, FailuresFileName), failures)
}

// LoadFailures reads the failure log.
func (s *FileStorage) LoadFailures(ctx context.Context) (map[string]models.EmbeddingFailure, error) {
	failures := map[string]models.EmbeddingFailure{}
	if err := s.readJSON(ctx, filepath.Join(s.root, FailuresFileName), &failures); err != nil {
		return nil, err
	}
	return failures, nil
}

// Close is a no-op for the file backend.
func (s *FileStorage) Close() error {
	return nil
}

func (s *FileStorage) writeJSON(ctx context.Context, path string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return utils.WriteFileAtomic(path, data, 0644)
}

// readJSON leaves v untouched when path does not exist.
func (s *FileStorage) readJSON(ctx context.Context, path string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	data, err := os.ReadFile(path)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}
