package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/embedstore/internal/models"
	"github.com/hyperjump/embedstore/internal/vector"
)

// Start loads the namespace registry, adopts namespace directories missing from
// it, and rebuilds every namespace: catalog first, then the index from the ledger.
// Namespaces are rebuilt in parallel up to Config.RebuildConcurrency.
func (e *Engine) Start(ctx context.Context) error {
	started := time.Now()
	registry, err := e.store.LoadNamespaces(ctx)
	if err != nil {
		e.logger.Warn("Failed to load namespace registry; rediscovering from disk", zap.Error(err))
		registry = map[string]models.Namespace{}
	}
	if e.embedder != nil {
		if err := e.embedder.Failures().Load(ctx, e.store); err != nil {
			e.logger.Warn("Failed to load embedding failure log", zap.Error(err))
		}
	}

	dirs, err := e.ledger.NamespaceDirs()
	if err != nil {
		return err
	}
	for _, name := range dirs {
		if _, ok := registry[name]; ok {
			continue
		}
		dim := e.ledger.FirstRecordDimension(name)
		if dim == 0 {
			continue
		}
		registry[name] = models.Namespace{
			Name:      name,
			Dimension: dim,
			Directory: e.ledger.NamespaceDir(name),
			CreatedAt: time.Now().UTC(),
		}
		e.logger.Info("Discovered unregistered namespace",
			zap.String("namespace", name),
			zap.Int("dimension", dim))
	}

	var (
		mu     sync.Mutex
		states = make(map[string]*namespaceState, len(registry))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.RebuildConcurrency)
	for name, ns := range registry {
		if ns.Name == "" {
			ns.Name = name
		}
		if ns.Dimension <= 0 {
			e.logger.Warn("Skipping namespace without dimension", zap.String("namespace", name))
			continue
		}
		g.Go(func() error {
			s, err := e.loadNamespace(gctx, ns)
			if err != nil {
				return fmt.Errorf("rebuild namespace %s: %w", ns.Name, err)
			}
			mu.Lock()
			states[ns.Name] = s
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.mu.Lock()
	for name, s := range states {
		e.namespaces[name] = s
	}
	e.mu.Unlock()
	e.saveRegistry(ctx)

	e.logger.Info("Engine started",
		zap.Int("namespaces", len(states)),
		zap.Duration("took", time.Since(started)))
	return nil
}

// loadNamespace restores the catalog (dropping entries without a ledger record)
// and builds a fresh index from the ledger.
func (e *Engine) loadNamespace(ctx context.Context, ns models.Namespace) (*namespaceState, error) {
	ns.Directory = e.ledger.NamespaceDir(ns.Name)
	cat := e.newCatalog(ns.Name)
	if _, err := cat.Load(ctx, func(id string) bool { return e.ledger.Exists(ns.Name, id) }); err != nil {
		e.logger.Warn("Failed to load catalog; starting empty", zap.String("namespace", ns.Name), zap.Error(err))
	}

	idx, ledgerCount, err := e.buildIndex(ctx, ns)
	if err != nil {
		return nil, err
	}
	e.checkConsistency(ns.Name, ledgerCount, idx.Size(), cat.Size())
	return &namespaceState{ns: ns, index: idx, catalog: cat}, nil
}

// buildIndex inserts every readable ledger record of ns into a new index sized
// at twice the record count. Unreadable or wrong-dimension records are skipped.
func (e *Engine) buildIndex(ctx context.Context, ns models.Namespace) (vector.VectorIndex, int, error) {
	count, err := e.ledger.Count(ns.Name)
	if err != nil {
		return nil, 0, err
	}
	idx, err := e.newIndex(ns.Dimension, 2*count)
	if err != nil {
		return nil, 0, err
	}
	for id, err := range e.ledger.ListIDs(ns.Name) {
		if err != nil {
			return nil, 0, err
		}
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		values, ok, err := e.ledger.Get(ns.Name, id)
		if err != nil || !ok {
			e.logger.Warn("Skipping unreadable vector record",
				zap.String("namespace", ns.Name),
				zap.String("id", id),
				zap.Error(err))
			continue
		}
		if !idx.Add(id, values) {
			e.logger.Warn("Skipping vector record with wrong dimension",
				zap.String("namespace", ns.Name),
				zap.String("id", id),
				zap.Int("dimension", len(values)),
				zap.Int("expected", ns.Dimension))
		}
	}
	e.logger.Debug("Index rebuilt",
		zap.String("namespace", ns.Name),
		zap.Int("records", count),
		zap.Int("indexed", idx.Size()))
	return idx, count, nil
}

func (e *Engine) checkConsistency(name string, ledgerCount, indexSize, catalogSize int) {
	if ledgerCount == indexSize && indexSize == catalogSize {
		return
	}
	e.logger.Warn("Namespace counts disagree after rebuild",
		zap.String("namespace", name),
		zap.Int("ledger", ledgerCount),
		zap.Int("index", indexSize),
		zap.Int("catalog", catalogSize))
}

// RebuildNamespace rebuilds the index of ns from the ledger and drops catalog
// entries whose record no longer exists.
func (e *Engine) RebuildNamespace(ctx context.Context, name string) error {
	s, ok := e.state(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNamespaceNotFound, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, _ := s.current()
	idx, ledgerCount, err := e.buildIndex(ctx, ns)
	if err != nil {
		return err
	}
	s.swap(ns, idx)

	pruned := 0
	for id := range s.catalog.GetAll() {
		if !idx.Contains(id) && s.catalog.Remove(id) {
			pruned++
		}
	}
	if pruned > 0 {
		e.logger.Warn("Pruned catalog entries without vectors",
			zap.String("namespace", name),
			zap.Int("pruned", pruned))
	}
	e.checkConsistency(name, ledgerCount, idx.Size(), s.catalog.Size())
	e.maybeFlush(ctx, s)
	return nil
}
