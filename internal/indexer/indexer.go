// Package indexer feeds text into the vector engine. It embeds (id, text,
// metadata) items in batches, chunks documents by lines, and indexes files and
// directory trees incrementally.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/embedstore/internal/config"
	"github.com/hyperjump/embedstore/internal/fileid"
	"github.com/hyperjump/embedstore/internal/models"
	"github.com/hyperjump/embedstore/pkg/utils"
)

// DefaultBatchSize is the number of items embedded and stored per round.
const DefaultBatchSize = 50

// ErrCircuitOpen is returned when indexing halts because the embedding
// service has failed too many times in a row.
var ErrCircuitOpen = errors.New("embedding circuit open")

const (
	metaKeySourcePath  = "source_path"
	metaKeySourceMtime = "source_mtime"
	metaKeySourceSize  = "source_size"
)

// Store is the part of the vector engine the indexer writes through.
type Store interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, bool)
	CircuitOpen() bool
	StoreEmbeddingsBatch(ctx context.Context, ids []string, vectors [][]float32, metas []*models.EmbeddingMetadata, ns string) (*models.BatchResult, error)
	DeleteEmbedding(ctx context.Context, id, ns string) bool
	GetMetadata(ns, id string) (*models.EmbeddingMetadata, bool)
	NamespaceMetadata(ns string) map[string]*models.EmbeddingMetadata
}

// Item is one text to embed and store. An empty ID gets a random UUID.
type Item struct {
	ID       string
	Text     string
	Metadata *models.EmbeddingMetadata
}

// Document is a text split into line chunks before indexing.
type Document struct {
	ID       string
	Path     string
	Language string
	Content  string
	Metadata map[string]string
}

// Indexer embeds and stores items, documents and files.
type Indexer struct {
	store     Store
	chunker   *Chunker
	config    *config.IndexerConfig
	batchSize int
	logger    *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithBatchSize sets the number of items per embed-and-store round.
func WithBatchSize(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.batchSize = n
		}
	}
}

// NewIndexer creates an indexer writing to store.
func NewIndexer(store Store, cfg *config.IndexerConfig, opts ...IndexerOption) *Indexer {
	if cfg == nil {
		cfg = &config.IndexerConfig{}
	}
	idx := &Indexer{
		store:     store,
		chunker:   NewChunker(cfg.ChunkLines, cfg.ChunkOverlap),
		config:    cfg,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.OrNop(idx.logger)
	return idx
}

// IndexItems embeds and stores items into ns in rounds of the batch size.
// Items whose embedding fails are reported in Failed and skipped. When the
// embedding circuit opens, the remaining items are reported failed and
// ErrCircuitOpen is returned. A critical batch failure is returned as is.
func (idx *Indexer) IndexItems(ctx context.Context, ns string, items []Item) (*models.BatchResult, error) {
	result := &models.BatchResult{Stored: []string{}, Failed: map[string]string{}}
	items = slices.Clone(items)
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
	}
	markFailed := func(rest []Item, reason string) {
		for _, it := range rest {
			result.Failed[it.ID] = reason
		}
	}

	for start := 0; start < len(items); start += idx.batchSize {
		if err := ctx.Err(); err != nil {
			markFailed(items[start:], err.Error())
			return result, err
		}
		if idx.store.CircuitOpen() {
			markFailed(items[start:], ErrCircuitOpen.Error())
			idx.logger.Warn("Indexing halted; embedding circuit open",
				zap.String("namespace", ns),
				zap.Int("remaining", len(items)-start))
			return result, ErrCircuitOpen
		}
		batch := items[start:min(start+idx.batchSize, len(items))]

		texts := make([]string, 0, len(batch))
		pending := make([]Item, 0, len(batch))
		for _, it := range batch {
			text := Preprocess(it.Text)
			if text == "" {
				result.Failed[it.ID] = "empty text"
				continue
			}
			texts = append(texts, text)
			pending = append(pending, it)
		}
		if len(pending) == 0 {
			continue
		}
		vectors, ok := idx.store.EmbedTexts(ctx, texts)
		if !ok {
			markFailed(items[start:], ErrCircuitOpen.Error())
			return result, ErrCircuitOpen
		}

		ids := make([]string, 0, len(pending))
		vecs := make([][]float32, 0, len(pending))
		metas := make([]*models.EmbeddingMetadata, 0, len(pending))
		for i, it := range pending {
			if vectors[i] == nil {
				result.Failed[it.ID] = "embedding failed"
				continue
			}
			meta := it.Metadata.Clone()
			if meta == nil {
				meta = &models.EmbeddingMetadata{}
			}
			if meta.Content == "" {
				meta.Content = it.Text
			}
			ids = append(ids, it.ID)
			vecs = append(vecs, vectors[i])
			metas = append(metas, meta)
		}
		if len(ids) == 0 {
			continue
		}

		res, err := idx.store.StoreEmbeddingsBatch(ctx, ids, vecs, metas, ns)
		if err != nil {
			if res != nil && res.Aborted {
				for _, id := range ids {
					result.Failed[id] = res.AbortReason
				}
			}
			return result, err
		}
		result.Stored = append(result.Stored, res.Stored...)
		maps.Copy(result.Failed, res.Failed)
	}

	idx.logger.Debug("Indexed items",
		zap.String("namespace", ns),
		zap.Int("stored", len(result.Stored)),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

// IndexDocument chunks doc by lines and indexes each chunk as
// "<doc id>/chunk-NNNN". Chunks left over from a longer previous version of
// the document are deleted once the new chunks are stored.
func (idx *Indexer) IndexDocument(ctx context.Context, ns string, doc *Document) (*models.BatchResult, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	previous := idx.documentChunks(ns, doc.ID)

	chunks := idx.chunker.Chunk(doc.ID, doc.Content)
	items := make([]Item, len(chunks))
	for i, ch := range chunks {
		start, end := ch.StartLine, ch.EndLine
		extra := maps.Clone(doc.Metadata)
		if extra == nil {
			extra = make(map[string]string, 2)
		}
		extra[models.ExtraDocumentID] = doc.ID
		extra[models.ExtraChunkIndex] = strconv.Itoa(ch.Index)
		items[i] = Item{
			ID:   ch.ID,
			Text: ch.Content,
			Metadata: &models.EmbeddingMetadata{
				FilePath:  doc.Path,
				StartLine: &start,
				EndLine:   &end,
				Type:      "chunk",
				Language:  doc.Language,
				Content:   ch.Content,
				Extra:     extra,
			},
		}
	}

	result, err := idx.IndexItems(ctx, ns, items)
	if err != nil {
		return result, err
	}
	if len(result.Failed) > 0 {
		// Keep the old chunks around until the document indexes cleanly.
		return result, nil
	}
	current := make(map[string]bool, len(chunks))
	for _, ch := range chunks {
		current[ch.ID] = true
	}
	for _, id := range previous {
		if !current[id] {
			idx.store.DeleteEmbedding(ctx, id, ns)
		}
	}
	return result, nil
}

// DeleteDocument removes every chunk of docID from ns and returns how many were removed.
func (idx *Indexer) DeleteDocument(ctx context.Context, ns, docID string) int {
	n := 0
	for _, id := range idx.documentChunks(ns, docID) {
		if idx.store.DeleteEmbedding(ctx, id, ns) {
			n++
		}
	}
	idx.logger.Debug("Deleted document", zap.String("namespace", ns), zap.String("id", docID), zap.Int("chunks", n))
	return n
}

func (idx *Indexer) documentChunks(ns, docID string) []string {
	var ids []string
	for id, meta := range idx.store.NamespaceMetadata(ns) {
		if meta.DocumentID() == docID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// IndexFile reads a file and indexes it as a document whose id is its path
// relative to base (see fileid.FromPath). The extension must be in the
// configured list when one is set. A file already indexed with the same
// modification time and size is skipped and reported as (nil, nil).
func (idx *Indexer) IndexFile(ctx context.Context, ns, base, path string) (*models.BatchResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(idx.config.Extensions) > 0 && !extensionAllowed(ext, idx.config.Extensions) {
		return nil, fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	if base != "" {
		if base, err = filepath.Abs(base); err != nil {
			return nil, fmt.Errorf("absolute path: %w", err)
		}
	}
	docID := fileid.FromPath(base, absPath)
	if idx.unchanged(ns, docID, absPath, info) {
		idx.logger.Debug("Skipping unchanged file", zap.String("path", absPath))
		return nil, nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	doc := &Document{
		ID:       docID,
		Path:     docID,
		Language: languageFor(ext),
		Content:  sanitizeUTF8(content),
		Metadata: map[string]string{
			metaKeySourcePath:  absPath,
			metaKeySourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
			metaKeySourceSize:  strconv.FormatInt(info.Size(), 10),
		},
	}
	result, err := idx.IndexDocument(ctx, ns, doc)
	if err != nil {
		return result, err
	}
	idx.logger.Debug("File indexed",
		zap.String("path", absPath),
		zap.String("doc_id", docID),
		zap.Int("chunks", len(result.Stored)))
	return result, nil
}

// unchanged reports whether the first chunk of docID was indexed from the same
// path with the same modification time and size.
func (idx *Indexer) unchanged(ns, docID, absPath string, info os.FileInfo) bool {
	meta, ok := idx.store.GetMetadata(ns, ChunkID(docID, 0))
	if !ok || meta.Extra[metaKeySourcePath] != absPath {
		return false
	}
	// Stored as strings: UnixNano exceeds float64 precision in JSON.
	mtime, _ := strconv.ParseInt(meta.Extra[metaKeySourceMtime], 10, 64)
	size, _ := strconv.ParseInt(meta.Extra[metaKeySourceSize], 10, 64)
	return mtime == info.ModTime().UnixNano() && size == info.Size()
}

// IndexDirectory walks dir recursively and indexes each regular file whose
// extension is allowed. Ids are relative to dir. It returns the number of
// files indexed (unchanged files are not counted), the merged batch result and
// the first error encountered, if any.
func (idx *Indexer) IndexDirectory(ctx context.Context, ns, dir string) (int, *models.BatchResult, error) {
	total := &models.BatchResult{Stored: []string{}, Failed: map[string]string{}}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, total, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, total, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, total, fmt.Errorf("not a directory: %s", absDir)
	}

	n := 0
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != absDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if len(idx.config.Extensions) > 0 && !extensionAllowed(ext, idx.config.Extensions) {
			return nil
		}
		// Resolve symlinks so we only index regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		res, indexErr := idx.IndexFile(ctx, ns, absDir, path)
		if res != nil {
			total.Stored = append(total.Stored, res.Stored...)
			maps.Copy(total.Failed, res.Failed)
			n++
		}
		return indexErr
	})
	idx.logger.Info("Directory indexed",
		zap.String("namespace", ns),
		zap.String("dir", absDir),
		zap.Int("files", n),
		zap.Int("chunks", len(total.Stored)),
		zap.Int("failed", len(total.Failed)))
	return n, total, err
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
