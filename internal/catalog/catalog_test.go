package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hyperjump/embedstore/internal/models"
	"github.com/hyperjump/embedstore/internal/storage"
)

func newStore(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestCatalog_PutGetRemove(t *testing.T) {
	c := New("docs", newStore(t))

	c.Put(&models.EmbeddingMetadata{ID: "a", Description: "first"})
	c.Put(&models.EmbeddingMetadata{ID: "b"})
	c.Put(nil)
	c.Put(&models.EmbeddingMetadata{})
	assert.Equal(t, 2, c.Size())
	assert.Equal(t, 2, c.Mutations())

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "first", got.Description)
	assert.Equal(t, "docs", got.Namespace)

	// Returned values are copies
	got.Description = "mutated"
	again, _ := c.Get("a")
	assert.Equal(t, "first", again.Description)

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Len(t, c.GetAll(), 1)
}

func TestCatalog_FlushCadence(t *testing.T) {
	ctx := context.Background()
	c := New("docs", newStore(t), WithFlushEvery(3))

	c.Put(&models.EmbeddingMetadata{ID: "a"})
	c.Put(&models.EmbeddingMetadata{ID: "b"})
	assert.False(t, c.ShouldFlush())
	c.Put(&models.EmbeddingMetadata{ID: "c"})
	assert.True(t, c.ShouldFlush())

	require.NoError(t, c.Snapshot(ctx))
	assert.Equal(t, 0, c.Mutations())
	assert.False(t, c.ShouldFlush())
}

func TestCatalog_SnapshotLoad(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	line := 7

	c := New("docs", store)
	c.Put(&models.EmbeddingMetadata{ID: "a", FilePath: "a.go", StartLine: &line})
	c.Put(&models.EmbeddingMetadata{ID: "dir/b", Content: "text"})
	require.NoError(t, c.Snapshot(ctx))

	reloaded := New("docs", store)
	dropped, err := reloaded.Load(ctx, func(string) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, 2, reloaded.Size())

	a, ok := reloaded.Get("a")
	require.True(t, ok)
	require.NotNil(t, a.StartLine)
	assert.Equal(t, 7, *a.StartLine)
	assert.Equal(t, "a.go", a.FilePath)
}

func TestCatalog_LoadDropsStale(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	c := New("docs", store)
	c.Put(&models.EmbeddingMetadata{ID: "live"})
	c.Put(&models.EmbeddingMetadata{ID: "gone"})
	require.NoError(t, c.Snapshot(ctx))

	core, logs := observer.New(zapcore.WarnLevel)
	reloaded := New("docs", store, WithLogger(zap.New(core)), WithFlushEvery(10))
	dropped, err := reloaded.Load(ctx, func(id string) bool { return id == "live" })
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, reloaded.Size())
	_, ok := reloaded.Get("gone")
	assert.False(t, ok)

	assert.Equal(t, 1, logs.FilterMessage("Dropped stale catalog entries").Len())
	// The pruned state must reach disk on the next flush check
	assert.True(t, reloaded.ShouldFlush())
}

func TestCatalog_LoadMissingSnapshot(t *testing.T) {
	c := New("fresh", newStore(t))
	dropped, err := c.Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, 0, c.Size())
}

func TestCatalog_Clear(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	c := New("docs", store)
	c.Put(&models.EmbeddingMetadata{ID: "a"})
	require.NoError(t, c.Snapshot(ctx))

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Size())

	stored, err := store.LoadCatalog(ctx, "docs")
	require.NoError(t, err)
	assert.Empty(t, stored)
}
