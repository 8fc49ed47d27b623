package embedding

import (
	"context"
	"sync"
	"time"

	"github.com/hyperjump/embedstore/internal/models"
	"github.com/hyperjump/embedstore/internal/storage"
	"github.com/hyperjump/embedstore/pkg/utils"
)

// MaxPreviewRunes bounds the stored preview of a failing text.
const MaxPreviewRunes = 100

// FailureLog counts embedding failures per input text. Only the text hash and a
// bounded preview are kept.
type FailureLog struct {
	entries map[string]models.EmbeddingFailure
	mu      sync.Mutex
}

// NewFailureLog returns an empty log.
func NewFailureLog() *FailureLog {
	return &FailureLog{entries: make(map[string]models.EmbeddingFailure)}
}

// Record adds one failure for text. Repeated failures of the same text
// increment a single entry.
func (f *FailureLog) Record(text string, cause error) models.EmbeddingFailure {
	hash := utils.HashText(text)
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[hash]
	if !ok {
		entry = models.EmbeddingFailure{
			TextHash:    hash,
			TextPreview: utils.Preview(text, MaxPreviewRunes),
		}
	}
	entry.FailureCount++
	entry.LastFailureTime = time.Now().UTC()
	entry.LastErrorMessage = msg
	f.entries[hash] = entry
	return entry
}

// Get returns the entry for a text hash.
func (f *FailureLog) Get(hash string) (models.EmbeddingFailure, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[hash]
	return e, ok
}

// ForText returns the entry for text.
func (f *FailureLog) ForText(text string) (models.EmbeddingFailure, bool) {
	return f.Get(utils.HashText(text))
}

// All returns a copy of every entry.
func (f *FailureLog) All() map[string]models.EmbeddingFailure {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]models.EmbeddingFailure, len(f.entries))
	for k, v := range f.entries {
		out[k] = v
	}
	return out
}

// Len returns the number of distinct failing texts.
func (f *FailureLog) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Save persists the log.
func (f *FailureLog) Save(ctx context.Context, store storage.Storage) error {
	return store.SaveFailures(ctx, f.All())
}

// Load replaces the log with the persisted one.
func (f *FailureLog) Load(ctx context.Context, store storage.Storage) error {
	entries, err := store.LoadFailures(ctx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = make(map[string]models.EmbeddingFailure, len(entries))
	for hash, e := range entries {
		e.TextHash = hash
		f.entries[hash] = e
	}
	return nil
}
