// Package engine orchestrates namespaces over the vector ledger, the in-memory
// indexes and the metadata catalogs.
//
// Each namespace has a fixed dimension. Writes go to the ledger first, then to
// the index and catalog; indexes are never persisted and are rebuilt from the
// ledger at startup.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/embedstore/internal/catalog"
	"github.com/hyperjump/embedstore/internal/embedding"
	"github.com/hyperjump/embedstore/internal/ledger"
	"github.com/hyperjump/embedstore/internal/models"
	"github.com/hyperjump/embedstore/internal/storage"
	"github.com/hyperjump/embedstore/internal/vector"
	"github.com/hyperjump/embedstore/pkg/utils"
)

var (
	// ErrInvalidArgument reports a programming error by the caller.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrCritical reports a batch failure that aborted every write.
	ErrCritical = errors.New("critical batch failure")
	// ErrNamespaceNotFound is returned for operations on unknown namespaces.
	ErrNamespaceNotFound = errors.New("namespace not found")
)

// Embedder is the embedding client used for text operations.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, bool)
	GenerateEmbeddingsBatch(ctx context.Context, texts []string) [][]float32
	Probe(ctx context.Context, text string) ([]float32, error)
	ContinuousFailures() int
	ResetFailures()
	Failures() *embedding.FailureLog
}

// Config tunes an Engine.
type Config struct {
	// Root is the storage root holding the ledger.
	Root string
	// IndexType selects the vector index: "hnsw" (default) or "flat".
	IndexType string
	Index     vector.Options
	// FlushEvery is the number of catalog mutations between snapshots.
	FlushEvery int
	// FailureThreshold is the continuous-failure count that opens the circuit; 0 never opens.
	FailureThreshold int
	// RebuildConcurrency bounds namespaces rebuilt in parallel at startup.
	RebuildConcurrency int
}

// namespaceState is everything the engine holds for one namespace.
// mu serializes mutations; view guards the namespace record and index pointer
// so queries can read them while a mutation is in progress.
type namespaceState struct {
	mu      sync.Mutex
	view    sync.RWMutex
	ns      models.Namespace
	index   vector.VectorIndex
	catalog *catalog.Catalog
}

func (s *namespaceState) current() (models.Namespace, vector.VectorIndex) {
	s.view.RLock()
	defer s.view.RUnlock()
	return s.ns, s.index
}

func (s *namespaceState) swap(ns models.Namespace, idx vector.VectorIndex) {
	s.view.Lock()
	s.ns = ns
	s.index = idx
	s.view.Unlock()
}

// Engine owns the per-namespace state. Multiple engines can coexist over
// different roots.
type Engine struct {
	cfg      Config
	ledger   *ledger.Ledger
	store    storage.Storage
	embedder Embedder
	logger   *zap.Logger

	namespaces map[string]*namespaceState
	mu         sync.RWMutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine. embedder may be nil when only vector operations are used.
func New(cfg Config, store storage.Storage, embedder Embedder, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: storage is required", ErrInvalidArgument)
	}
	l, err := ledger.New(cfg.Root)
	if err != nil {
		return nil, err
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = catalog.DefaultFlushEvery
	}
	if cfg.RebuildConcurrency <= 0 {
		cfg.RebuildConcurrency = 4
	}
	// Fail fast on an unknown index type.
	if _, err := vector.NewVectorIndex(cfg.IndexType, 1, cfg.Index); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:        cfg,
		ledger:     l,
		store:      store,
		embedder:   embedder,
		namespaces: make(map[string]*namespaceState),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = utils.OrNop(e.logger)
	return e, nil
}

// Ledger exposes the underlying vector ledger.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

func (e *Engine) newIndex(dimension, capacity int) (vector.VectorIndex, error) {
	opts := e.cfg.Index
	opts.Capacity = max(capacity, opts.Capacity)
	return vector.NewVectorIndex(e.cfg.IndexType, dimension, opts)
}

func (e *Engine) newCatalog(name string) *catalog.Catalog {
	return catalog.New(name, e.store,
		catalog.WithLogger(e.logger),
		catalog.WithFlushEvery(e.cfg.FlushEvery))
}

func (e *Engine) state(name string) (*namespaceState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.namespaces[name]
	return s, ok
}

// ensureNamespace returns the state for name, creating it at dimension when unseen.
func (e *Engine) ensureNamespace(ctx context.Context, name string, dimension int) (*namespaceState, error) {
	if s, ok := e.state(name); ok {
		return s, nil
	}
	if err := ledger.ValidateNamespace(name); err != nil {
		return nil, err
	}
	idx, err := e.newIndex(dimension, 0)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if s, ok := e.namespaces[name]; ok {
		e.mu.Unlock()
		return s, nil
	}
	s := &namespaceState{
		ns: models.Namespace{
			Name:      name,
			Dimension: dimension,
			Directory: e.ledger.NamespaceDir(name),
			CreatedAt: time.Now().UTC(),
		},
		index:   idx,
		catalog: e.newCatalog(name),
	}
	e.namespaces[name] = s
	e.mu.Unlock()

	e.logger.Info("Created namespace",
		zap.String("namespace", name),
		zap.Int("dimension", dimension))
	e.saveRegistry(ctx)
	return s, nil
}

// recreate drops every record of s and resets it to dimension. Caller holds s.mu.
func (e *Engine) recreate(ctx context.Context, s *namespaceState, dimension int) error {
	old, oldIdx := s.current()
	lost := oldIdx.Size()

	idx, err := e.newIndex(dimension, 0)
	if err != nil {
		return err
	}
	if err := e.ledger.DropNamespace(old.Name); err != nil {
		return err
	}
	if err := s.catalog.Clear(ctx); err != nil {
		e.logger.Warn("Failed to delete catalog snapshot", zap.String("namespace", old.Name), zap.Error(err))
	}
	ns := old
	ns.Dimension = dimension
	ns.CreatedAt = time.Now().UTC()
	s.swap(ns, idx)

	e.logger.Warn("Recreated namespace at new dimension; previous embeddings discarded",
		zap.String("namespace", old.Name),
		zap.Int("old_dimension", old.Dimension),
		zap.Int("new_dimension", dimension),
		zap.Int("discarded", lost))
	e.saveRegistry(ctx)
	return nil
}

func (e *Engine) validateItem(id string, values []float32) error {
	if err := ledger.ValidateID(id); err != nil {
		return err
	}
	if len(values) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidArgument)
	}
	if !utils.AllFinite(values) {
		return fmt.Errorf("%w: vector has non-finite components", ErrInvalidArgument)
	}
	return nil
}

func metadataFor(id, ns string, meta *models.EmbeddingMetadata) *models.EmbeddingMetadata {
	m := meta.Clone()
	if m == nil {
		m = &models.EmbeddingMetadata{}
	}
	m.ID = id
	m.Namespace = ns
	m.UpdatedAt = time.Now().UTC()
	return m
}

// commit writes one validated item. Caller holds s.mu.
func (e *Engine) commit(s *namespaceState, id string, values []float32, meta *models.EmbeddingMetadata) error {
	ns, idx := s.current()
	if err := e.ledger.Put(ns.Name, id, values); err != nil {
		return err
	}
	if !idx.Add(id, values) {
		if err := vector.CheckDimension(values, ns.Dimension); err != nil {
			return err
		}
		return fmt.Errorf("index rejected vector %s/%s", ns.Name, id)
	}
	s.catalog.Put(metadataFor(id, ns.Name, meta))
	return nil
}

func (e *Engine) maybeFlush(ctx context.Context, s *namespaceState) {
	if !s.catalog.ShouldFlush() {
		return
	}
	if err := s.catalog.Snapshot(ctx); err != nil {
		e.logger.Warn("Catalog snapshot failed", zap.String("namespace", s.catalog.Namespace()), zap.Error(err))
	}
}

// StoreEmbedding stores values under (ns, id), creating ns when unseen. A vector
// whose dimension differs from the namespace's recreates the namespace at the
// new dimension, discarding everything stored in it before.
func (e *Engine) StoreEmbedding(ctx context.Context, id string, values []float32, meta *models.EmbeddingMetadata, ns string) bool {
	if err := e.validateItem(id, values); err != nil {
		e.logger.Warn("Rejected embedding", zap.String("namespace", ns), zap.String("id", id), zap.Error(err))
		return false
	}
	s, err := e.ensureNamespace(ctx, ns, len(values))
	if err != nil {
		e.logger.Warn("Cannot use namespace", zap.String("namespace", ns), zap.Error(err))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, _ := s.current(); cur.Dimension != len(values) {
		if err := e.recreate(ctx, s, len(values)); err != nil {
			e.logger.Error("Failed to recreate namespace", zap.String("namespace", ns), zap.Error(err))
			return false
		}
	}
	if err := e.commit(s, id, values, meta); err != nil {
		e.logger.Error("Failed to store embedding", zap.String("namespace", ns), zap.String("id", id), zap.Error(err))
		return false
	}
	e.maybeFlush(ctx, s)
	return true
}

// StoreEmbeddingsBatch stores a batch in two phases. Validation touches no shared
// state; a critical failure (invalid namespace, duplicate ids, non-finite values)
// aborts with nothing written and an error wrapping ErrCritical. Ordinary item
// failures (invalid id, wrong dimension, ledger I/O) are reported in Failed while
// the rest commits. Mismatched slice lengths are an ErrInvalidArgument.
// Unlike StoreEmbedding, a wrong-dimension item never recreates the namespace.
func (e *Engine) StoreEmbeddingsBatch(ctx context.Context, ids []string, vectors [][]float32, metas []*models.EmbeddingMetadata, ns string) (*models.BatchResult, error) {
	if len(ids) != len(vectors) || (metas != nil && len(metas) != len(ids)) {
		return nil, fmt.Errorf("%w: %d ids, %d vectors, %d metadata", ErrInvalidArgument, len(ids), len(vectors), len(metas))
	}
	result := &models.BatchResult{Stored: []string{}, Failed: map[string]string{}}
	abort := func(reason string) (*models.BatchResult, error) {
		result.Aborted = true
		result.AbortReason = reason
		result.Failed = map[string]string{}
		e.logger.Warn("Batch aborted", zap.String("namespace", ns), zap.String("reason", reason))
		return result, fmt.Errorf("%w: %s", ErrCritical, reason)
	}

	// Phase 1: validate
	if err := ledger.ValidateNamespace(ns); err != nil {
		return abort(err.Error())
	}
	dimension := 0
	if s, ok := e.state(ns); ok {
		cur, _ := s.current()
		dimension = cur.Dimension
	}
	type pendingItem struct {
		id     string
		values []float32
		meta   *models.EmbeddingMetadata
	}
	pending := make([]pendingItem, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for i, id := range ids {
		if seen[id] {
			return abort(fmt.Sprintf("duplicate id %q in batch", id))
		}
		seen[id] = true
		if !utils.AllFinite(vectors[i]) {
			return abort(fmt.Sprintf("non-finite vector for id %q", id))
		}
		if err := ledger.ValidateID(id); err != nil {
			result.Failed[id] = err.Error()
			continue
		}
		if len(vectors[i]) == 0 {
			result.Failed[id] = "empty vector"
			continue
		}
		if dimension == 0 {
			dimension = len(vectors[i])
		}
		if err := vector.CheckDimension(vectors[i], dimension); err != nil {
			result.Failed[id] = err.Error()
			continue
		}
		var meta *models.EmbeddingMetadata
		if metas != nil {
			meta = metas[i]
		}
		pending = append(pending, pendingItem{id: id, values: vectors[i], meta: meta})
	}
	if len(pending) == 0 {
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return abort(err.Error())
	}

	// Phase 2: commit
	s, err := e.ensureNamespace(ctx, ns, dimension)
	if err != nil {
		return abort(err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, _ := s.current()
	for _, item := range pending {
		if err := vector.CheckDimension(item.values, cur.Dimension); err != nil {
			// The namespace was recreated concurrently.
			result.Failed[item.id] = err.Error()
			continue
		}
		if err := e.commit(s, item.id, item.values, item.meta); err != nil {
			e.logger.Error("Failed to store batch item", zap.String("namespace", ns), zap.String("id", item.id), zap.Error(err))
			result.Failed[item.id] = err.Error()
			continue
		}
		result.Stored = append(result.Stored, item.id)
	}
	e.maybeFlush(ctx, s)
	return result, nil
}

// DeleteEmbedding removes (ns, id) from the ledger, index and catalog. It
// reports whether anything was removed; deleting twice is harmless.
func (e *Engine) DeleteEmbedding(ctx context.Context, id, ns string) bool {
	s, ok := e.state(ns)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := e.ledger.Delete(ns, id)
	if err != nil {
		e.logger.Error("Failed to delete embedding", zap.String("namespace", ns), zap.String("id", id), zap.Error(err))
		return false
	}
	_, idx := s.current()
	if idx.Remove(id) {
		removed = true
	}
	if s.catalog.Remove(id) {
		removed = true
	}
	e.maybeFlush(ctx, s)
	return removed
}

// GetEmbedding returns the stored vector for (ns, id).
func (e *Engine) GetEmbedding(ns, id string) ([]float32, bool) {
	values, ok, err := e.ledger.Get(ns, id)
	if err != nil {
		e.logger.Warn("Failed to read embedding", zap.String("namespace", ns), zap.String("id", id), zap.Error(err))
		return nil, false
	}
	return values, ok
}

// GetMetadata returns the catalog entry for (ns, id).
func (e *Engine) GetMetadata(ns, id string) (*models.EmbeddingMetadata, bool) {
	s, ok := e.state(ns)
	if !ok {
		return nil, false
	}
	return s.catalog.Get(id)
}

// NamespaceMetadata returns copies of every catalog entry of ns keyed by id.
func (e *Engine) NamespaceMetadata(ns string) map[string]*models.EmbeddingMetadata {
	s, ok := e.state(ns)
	if !ok {
		return nil
	}
	return s.catalog.GetAll()
}

// FindSimilar queries each selected namespace (all when none are given),
// attaches metadata, and returns the k best hits in descending similarity.
// Namespaces whose dimension differs from the query are skipped.
func (e *Engine) FindSimilar(ctx context.Context, query []float32, k int, minSimilarity *float64, namespaces ...string) ([]models.SimilarityResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, k)
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidArgument)
	}

	var results []models.SimilarityResult
	for _, s := range e.selectStates(namespaces) {
		if ctx.Err() != nil {
			break
		}
		ns, idx := s.current()
		if ns.Dimension != len(query) {
			e.logger.Debug("Skipping namespace with different dimension",
				zap.String("namespace", ns.Name),
				zap.Int("dimension", ns.Dimension),
				zap.Int("query_dimension", len(query)))
			continue
		}
		for _, hit := range idx.Query(query, k, minSimilarity) {
			meta, _ := s.catalog.Get(hit.ID)
			results = append(results, models.SimilarityResult{
				ID:              hit.ID,
				Namespace:       ns.Name,
				Metadata:        meta,
				SimilarityScore: hit.Similarity,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].SimilarityScore != results[j].SimilarityScore {
			return results[i].SimilarityScore > results[j].SimilarityScore
		}
		if results[i].Namespace != results[j].Namespace {
			return results[i].Namespace < results[j].Namespace
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (e *Engine) selectStates(names []string) []*namespaceState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(names) == 0 {
		out := make([]*namespaceState, 0, len(e.namespaces))
		for _, s := range e.namespaces {
			out = append(out, s)
		}
		return out
	}
	out := make([]*namespaceState, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if s, ok := e.namespaces[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, s)
		}
	}
	return out
}

// Namespaces returns the registered namespaces sorted by name.
func (e *Engine) Namespaces() []models.Namespace {
	states := e.selectStates(nil)
	out := make([]models.Namespace, 0, len(states))
	for _, s := range states {
		ns, _ := s.current()
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stats returns per-namespace counts and disk usage sorted by name.
func (e *Engine) Stats() []models.NamespaceStats {
	states := e.selectStates(nil)
	out := make([]models.NamespaceStats, 0, len(states))
	for _, s := range states {
		ns, idx := s.current()
		out = append(out, models.NamespaceStats{
			Name:        ns.Name,
			Dimension:   ns.Dimension,
			IndexSize:   idx.Size(),
			CatalogSize: s.catalog.Size(),
			DiskBytes:   storage.NamespaceDiskUsage(e.ledger.Root(), ns.Name),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (e *Engine) registry() map[string]models.Namespace {
	states := e.selectStates(nil)
	out := make(map[string]models.Namespace, len(states))
	for _, s := range states {
		ns, _ := s.current()
		out[ns.Name] = ns
	}
	return out
}

func (e *Engine) saveRegistry(ctx context.Context) {
	if err := e.store.SaveNamespaces(ctx, e.registry()); err != nil {
		e.logger.Warn("Failed to persist namespace registry", zap.Error(err))
	}
}

// Shutdown flushes every catalog, persists the registry and failure log, and
// closes storage. All steps run; their errors are joined.
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs []error
	states := e.selectStates(nil)
	for _, s := range states {
		s.mu.Lock()
		if err := s.catalog.Snapshot(ctx); err != nil {
			errs = append(errs, err)
		}
		s.mu.Unlock()
	}
	if err := e.store.SaveNamespaces(ctx, e.registry()); err != nil {
		errs = append(errs, fmt.Errorf("save namespace registry: %w", err))
	}
	if e.embedder != nil {
		if err := e.embedder.Failures().Save(ctx, e.store); err != nil {
			errs = append(errs, fmt.Errorf("save failure log: %w", err))
		}
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	e.logger.Info("Engine shut down", zap.Int("namespaces", len(states)))
	return errors.Join(errs...)
}
