// Package watcher keeps namespaces in sync with directory trees using fsnotify.
// Writes are debounced per file; removals delete the file's document.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/embedstore/internal/config"
	"github.com/hyperjump/embedstore/internal/fileid"
	"github.com/hyperjump/embedstore/internal/models"
	"github.com/hyperjump/embedstore/pkg/utils"
)

const defaultDebounce = 400 * time.Millisecond

// Target receives file changes. *indexer.Indexer satisfies it.
type Target interface {
	IndexFile(ctx context.Context, ns, base, path string) (*models.BatchResult, error)
	DeleteDocument(ctx context.Context, ns, docID string) int
}

// root is one watched tree and the namespace it feeds.
type root struct {
	path      string
	namespace string
}

// Watcher watches directory trees and forwards file changes to a Target.
type Watcher struct {
	target     Target
	roots      []root
	extensions []string
	debounce   time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	pending map[string]*time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets the quiet period after the last write before a file is indexed.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over dirs. extensions filter which files are
// forwarded; empty forwards all files.
func NewWatcher(target Target, dirs []config.WatchDirectory, extensions []string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		target:     target,
		extensions: extensions,
		debounce:   defaultDebounce,
		pending:    make(map[string]*time.Timer),
	}
	for _, d := range dirs {
		abs, err := filepath.Abs(d.Path)
		if err != nil {
			abs = d.Path
		}
		w.roots = append(w.roots, root{path: filepath.Clean(abs), namespace: d.Namespace})
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = utils.OrNop(w.logger)
	return w
}

// Start begins watching every root. Missing roots are created. It returns
// after the watches are registered; events are handled until ctx is cancelled
// or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, r := range w.roots {
		if err := os.MkdirAll(r.path, 0o755); err != nil {
			_ = fsw.Close()
			return err
		}
		if err := addTree(fsw, r.path); err != nil {
			_ = fsw.Close()
			return err
		}
	}
	w.fsw = fsw
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(w.ctx, fsw, w.done)
	w.logger.Info("Watching directories", zap.Int("roots", len(w.roots)))
	return nil
}

// addTree watches dir and every non-hidden directory below it.
func addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	r, ok := w.rootFor(ev.Name)
	if !ok {
		return
	}
	w.logger.Debug("Watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.handleNewDirectory(ctx, r, ev.Name)
			return
		}
		if w.matchExtension(ev.Name) {
			w.schedule(ctx, r, ev.Name)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancelPending(ev.Name)
		if w.matchExtension(ev.Name) {
			docID := fileid.FromPath(r.path, ev.Name)
			n := w.target.DeleteDocument(ctx, r.namespace, docID)
			w.logger.Debug("Removed document", zap.String("doc_id", docID), zap.Int("chunks", n))
		}
	}
}

// handleNewDirectory watches a directory created (or moved) under a root and
// indexes the files already inside it.
func (w *Watcher) handleNewDirectory(ctx context.Context, r root, dir string) {
	w.mu.Lock()
	fsw := w.fsw
	w.mu.Unlock()
	if fsw == nil {
		return
	}
	if err := addTree(fsw, dir); err != nil {
		w.logger.Warn("Failed to watch directory", zap.String("path", dir), zap.Error(err))
	}
	w.syncTree(ctx, r, dir)
}

// rootFor returns the innermost root containing path.
func (w *Watcher) rootFor(path string) (root, bool) {
	clean := filepath.Clean(path)
	var best root
	found := false
	for _, r := range w.roots {
		if (r.path == clean || inDir(r.path, clean)) && len(r.path) >= len(best.path) {
			best, found = r, true
		}
	}
	return best, found
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) matchExtension(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range w.extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// schedule indexes path once no further writes arrive within the debounce period.
func (w *Watcher) schedule(ctx context.Context, r root, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.indexFile(ctx, r, path)
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) indexFile(ctx context.Context, r root, path string) {
	if ctx.Err() != nil {
		return
	}
	result, err := w.target.IndexFile(ctx, r.namespace, r.path, path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("Failed to index file", zap.String("path", path), zap.Error(err))
		}
		return
	}
	if result != nil {
		w.logger.Debug("Indexed file",
			zap.String("path", path),
			zap.String("namespace", r.namespace),
			zap.Int("chunks", len(result.Stored)),
			zap.Int("failed", len(result.Failed)))
	}
}

func (w *Watcher) syncTree(ctx context.Context, r root, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && w.matchExtension(path) {
			w.indexFile(ctx, r, path)
		}
		return nil
	})
}

// Sync indexes files already present in every root. Unchanged files are
// skipped by the target.
func (w *Watcher) Sync(ctx context.Context) {
	for _, r := range w.roots {
		w.syncTree(ctx, r, r.path)
	}
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []config.WatchDirectory {
	out := make([]config.WatchDirectory, 0, len(w.roots))
	for _, r := range w.roots {
		out = append(out, config.WatchDirectory{Path: r.path, Namespace: r.namespace})
	}
	return out
}

// Stop stops watching, cancels pending indexing and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.cancel()
	_ = w.fsw.Close()
	w.fsw = nil
	done := w.done
	w.mu.Unlock()
	<-done
}
