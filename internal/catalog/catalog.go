// Package catalog holds the per-namespace metadata of stored embeddings and
// snapshots it through storage.
package catalog

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/embedstore/internal/models"
	"github.com/hyperjump/embedstore/internal/storage"
	"github.com/hyperjump/embedstore/pkg/utils"
)

// DefaultFlushEvery is the number of mutations between snapshots.
const DefaultFlushEvery = 100

// Catalog maps embedding ids to metadata for one namespace.
type Catalog struct {
	namespace  string
	store      storage.Storage
	logger     *zap.Logger
	flushEvery int

	entries   map[string]*models.EmbeddingMetadata
	mutations int
	mu        sync.RWMutex
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Catalog) {
		c.logger = l
	}
}

// WithFlushEvery sets the number of mutations after which ShouldFlush reports true.
func WithFlushEvery(n int) Option {
	return func(c *Catalog) {
		if n > 0 {
			c.flushEvery = n
		}
	}
}

// New returns an empty catalog for namespace ns backed by store.
func New(ns string, store storage.Storage, opts ...Option) *Catalog {
	c := &Catalog{
		namespace:  ns,
		store:      store,
		flushEvery: DefaultFlushEvery,
		entries:    make(map[string]*models.EmbeddingMetadata),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = utils.OrNop(c.logger)
	return c
}

// Namespace returns the namespace this catalog belongs to.
func (c *Catalog) Namespace() string {
	return c.namespace
}

// Put stores a copy of meta under meta.ID.
func (c *Catalog) Put(meta *models.EmbeddingMetadata) {
	if meta == nil || meta.ID == "" {
		return
	}
	cp := meta.Clone()
	cp.Namespace = c.namespace
	c.mu.Lock()
	c.entries[cp.ID] = cp
	c.mutations++
	c.mu.Unlock()
}

// Get returns a copy of the metadata for id.
func (c *Catalog) Get(id string) (*models.EmbeddingMetadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// Remove deletes id. It reports whether an entry existed.
func (c *Catalog) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; !ok {
		return false
	}
	delete(c.entries, id)
	c.mutations++
	return true
}

// GetAll returns copies of every entry.
func (c *Catalog) GetAll() map[string]*models.EmbeddingMetadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*models.EmbeddingMetadata, len(c.entries))
	for id, m := range c.entries {
		out[id] = m.Clone()
	}
	return out
}

// Size returns the number of entries.
func (c *Catalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Mutations returns the number of changes since the last snapshot or load.
func (c *Catalog) Mutations() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mutations
}

// ShouldFlush reports whether enough mutations accumulated for a snapshot.
func (c *Catalog) ShouldFlush() bool {
	return c.Mutations() >= c.flushEvery
}

// Snapshot persists every entry and resets the mutation counter.
func (c *Catalog) Snapshot(ctx context.Context) error {
	entries := c.GetAll()
	c.mu.RLock()
	pending := c.mutations
	c.mu.RUnlock()

	if err := c.store.SaveCatalog(ctx, c.namespace, entries); err != nil {
		return fmt.Errorf("snapshot catalog %s: %w", c.namespace, err)
	}

	c.mu.Lock()
	// Mutations that raced with the save stay pending for the next snapshot.
	c.mutations = max(c.mutations-pending, 0)
	c.mu.Unlock()
	c.logger.Debug("Catalog snapshot written",
		zap.String("namespace", c.namespace),
		zap.Int("entries", len(entries)))
	return nil
}

// Load replaces the in-memory entries with the stored snapshot. Entries for
// which exists returns false are stale and dropped; the number dropped is returned.
// A nil exists keeps every entry.
func (c *Catalog) Load(ctx context.Context, exists func(id string) bool) (int, error) {
	stored, err := c.store.LoadCatalog(ctx, c.namespace)
	if err != nil {
		return 0, fmt.Errorf("load catalog %s: %w", c.namespace, err)
	}
	entries := make(map[string]*models.EmbeddingMetadata, len(stored))
	dropped := 0
	for id, meta := range stored {
		if meta == nil {
			dropped++
			continue
		}
		if exists != nil && !exists(id) {
			dropped++
			continue
		}
		meta.ID = id
		meta.Namespace = c.namespace
		entries[id] = meta
	}
	if dropped > 0 {
		c.logger.Warn("Dropped stale catalog entries",
			zap.String("namespace", c.namespace),
			zap.Int("dropped", dropped))
	}

	c.mu.Lock()
	c.entries = entries
	c.mutations = 0
	if dropped > 0 {
		// The stored snapshot still holds the stale entries.
		c.mutations = c.flushEvery
	}
	c.mu.Unlock()
	return dropped, nil
}

// Clear drops every entry and the stored snapshot.
func (c *Catalog) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]*models.EmbeddingMetadata)
	c.mutations = 0
	c.mu.Unlock()
	if err := c.store.DeleteCatalog(ctx, c.namespace); err != nil {
		return fmt.Errorf("delete catalog %s: %w", c.namespace, err)
	}
	return nil
}
