package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/embedstore/internal/embedding"
	"github.com/hyperjump/embedstore/internal/ledger"
	"github.com/hyperjump/embedstore/internal/models"
	"github.com/hyperjump/embedstore/internal/storage"
	"github.com/hyperjump/embedstore/internal/vector"
)

func newEngine(t *testing.T, root string, embedder Embedder, mutate ...func(*Config)) *Engine {
	t.Helper()
	store, err := storage.NewFileStorage(root)
	require.NoError(t, err)
	cfg := Config{Root: root, Index: vector.Options{Seed: 1}, FailureThreshold: 2}
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := New(cfg, store, embedder)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	return e
}

func ids(results []models.SimilarityResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func zero() *float64 {
	v := 0.0
	return &v
}

func TestEngine_NearestNeighborOrdering(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, t.TempDir(), nil)

	require.True(t, e.StoreEmbedding(ctx, "a", []float32{1, 0, 0, 0}, nil, "docs"))
	require.True(t, e.StoreEmbedding(ctx, "b", []float32{0.9, 0.1, 0, 0}, nil, "docs"))
	require.True(t, e.StoreEmbedding(ctx, "c", []float32{0, 1, 0, 0}, nil, "docs"))

	results, err := e.FindSimilar(ctx, []float32{1, 0, 0, 0}, 3, zero(), "docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(results))
	assert.InDelta(t, 1.0, results[0].SimilarityScore, 1e-6)
	for _, r := range results {
		assert.Equal(t, "docs", r.Namespace)
		require.NotNil(t, r.Metadata)
		assert.Equal(t, r.ID, r.Metadata.ID)
	}
}

func TestEngine_DimensionChangeRecreatesNamespace(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	e := newEngine(t, root, nil)

	require.True(t, e.StoreEmbedding(ctx, "old", []float32{1, 0, 0, 0}, nil, "ns1"))
	require.True(t, e.StoreEmbedding(ctx, "new", []float32{1, 0, 0, 0, 0}, nil, "ns1"))

	nss := e.Namespaces()
	require.Len(t, nss, 1)
	assert.Equal(t, 5, nss[0].Dimension)

	results, err := e.FindSimilar(ctx, []float32{1, 0, 0, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results, "4-dim query matches nothing after recreation")

	results, err = e.FindSimilar(ctx, []float32{1, 0, 0, 0, 0}, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, ids(results))

	_, ok := e.GetEmbedding("ns1", "old")
	assert.False(t, ok)
	_, ok = e.GetMetadata("ns1", "old")
	assert.False(t, ok)

	// The recreation survives a restart
	require.NoError(t, e.Shutdown(ctx))
	e2 := newEngine(t, root, nil)
	nss = e2.Namespaces()
	require.Len(t, nss, 1)
	assert.Equal(t, 5, nss[0].Dimension)
	assert.Equal(t, 1, e2.Stats()[0].IndexSize)
}

func TestEngine_RoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, t.TempDir(), nil)
	line := 3
	meta := &models.EmbeddingMetadata{FilePath: "src/main.go", StartLine: &line, Language: "go"}

	v := []float32{0.25, -0.5, 0.125}
	require.True(t, e.StoreEmbedding(ctx, "src/main.go#0", v, meta, "code"))

	got, ok := e.GetEmbedding("code", "src/main.go#0")
	require.True(t, ok)
	assert.Equal(t, v, got)

	m, ok := e.GetMetadata("code", "src/main.go#0")
	require.True(t, ok)
	assert.Equal(t, "src/main.go", m.FilePath)
	assert.Equal(t, "code", m.Namespace)
	assert.Equal(t, 3, *m.StartLine)
	assert.False(t, m.UpdatedAt.IsZero())

	// Overwrite
	v2 := []float32{1, 1, 1}
	require.True(t, e.StoreEmbedding(ctx, "src/main.go#0", v2, nil, "code"))
	got, _ = e.GetEmbedding("code", "src/main.go#0")
	assert.Equal(t, v2, got)
	assert.Equal(t, 1, e.Stats()[0].IndexSize)

	// Delete is idempotent
	assert.True(t, e.DeleteEmbedding(ctx, "src/main.go#0", "code"))
	assert.False(t, e.DeleteEmbedding(ctx, "src/main.go#0", "code"))
	assert.False(t, e.DeleteEmbedding(ctx, "x", "unknown"))
	_, ok = e.GetEmbedding("code", "src/main.go#0")
	assert.False(t, ok)
	results, _ := e.FindSimilar(ctx, v2, 5, nil)
	assert.Empty(t, results)
}

func TestEngine_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, t.TempDir(), nil)

	nan := float32(math.NaN())
	assert.False(t, e.StoreEmbedding(ctx, "", []float32{1}, nil, "ns"))
	assert.False(t, e.StoreEmbedding(ctx, "../escape", []float32{1}, nil, "ns"))
	assert.False(t, e.StoreEmbedding(ctx, "a", nil, nil, "ns"))
	assert.False(t, e.StoreEmbedding(ctx, "a", []float32{nan}, nil, "ns"))
	assert.False(t, e.StoreEmbedding(ctx, "a", []float32{1}, nil, "bad/ns"))
	assert.Empty(t, e.Namespaces())

	_, err := e.FindSimilar(ctx, []float32{1}, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.FindSimilar(ctx, nil, 1, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestEngine_RebuildConvergence(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	e := newEngine(t, root, nil)

	const n = 60
	rng := rand.New(rand.NewSource(5))
	vectors := make(map[string][]float32, n)
	for i := 0; i < n; i++ {
		v := make([]float32, 8)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		id := fmt.Sprintf("doc/%d", i)
		vectors[id] = v
		require.True(t, e.StoreEmbedding(ctx, id, v, nil, "docs"))
	}
	require.NoError(t, e.Shutdown(ctx))

	e2 := newEngine(t, root, nil)
	stats := e2.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, n, stats[0].IndexSize)
	assert.Equal(t, n, stats[0].CatalogSize)
	assert.Greater(t, stats[0].DiskBytes, int64(0))

	for id, v := range vectors {
		results, err := e2.FindSimilar(ctx, v, 1, nil, "docs")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, id, results[0].ID)
		assert.InDelta(t, 1.0, results[0].SimilarityScore, 1e-5)
	}
}

func TestEngine_BatchCriticalFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, t.TempDir(), nil)

	res, err := e.StoreEmbeddingsBatch(ctx,
		[]string{"a", "b", "a"},
		[][]float32{{1, 0}, {0, 1}, {1, 1}},
		nil, "docs")
	require.ErrorIs(t, err, ErrCritical)
	require.NotNil(t, res)
	assert.True(t, res.Aborted)
	assert.Empty(t, res.Stored)
	assert.Empty(t, e.Namespaces(), "aborted batch must not create the namespace")
	_, ok := e.GetEmbedding("docs", "a")
	assert.False(t, ok)

	inf := float32(math.Inf(1))
	res, err = e.StoreEmbeddingsBatch(ctx, []string{"a", "b"}, [][]float32{{1, 0}, {inf, 0}}, nil, "docs")
	require.ErrorIs(t, err, ErrCritical)
	assert.True(t, res.Aborted)
	_, ok = e.GetEmbedding("docs", "a")
	assert.False(t, ok)
}

func TestEngine_BatchOrdinaryFailuresCommitRest(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, t.TempDir(), nil)

	metas := []*models.EmbeddingMetadata{{Description: "one"}, nil, {Description: "three"}, nil}
	res, err := e.StoreEmbeddingsBatch(ctx,
		[]string{"a", "b", "c", ""},
		[][]float32{{1, 0, 0}, {1, 0}, {0, 0, 1}, {0, 1, 0}},
		metas, "docs")
	require.NoError(t, err)
	assert.False(t, res.Aborted)
	assert.ElementsMatch(t, []string{"a", "c"}, res.Stored)
	assert.Len(t, res.Failed, 2)
	assert.Contains(t, res.Failed, "b")
	assert.Contains(t, res.Failed, "")

	nss := e.Namespaces()
	require.Len(t, nss, 1)
	assert.Equal(t, 3, nss[0].Dimension, "first valid item fixes the dimension")
	m, ok := e.GetMetadata("docs", "c")
	require.True(t, ok)
	assert.Equal(t, "three", m.Description)

	// An established namespace keeps its dimension for batches
	res, err = e.StoreEmbeddingsBatch(ctx, []string{"d", "e"}, [][]float32{{1, 1}, {1, 1, 1}}, nil, "docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"e"}, res.Stored)
	assert.Contains(t, res.Failed, "d")
	assert.Equal(t, 3, e.Namespaces()[0].Dimension)
}

func TestEngine_BatchLengthMismatch(t *testing.T) {
	e := newEngine(t, t.TempDir(), nil)
	_, err := e.StoreEmbeddingsBatch(context.Background(), []string{"a"}, nil, nil, "docs")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.StoreEmbeddingsBatch(context.Background(), []string{"a"}, [][]float32{{1}}, []*models.EmbeddingMetadata{}, "docs")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestEngine_DiscoversUnregisteredNamespace(t *testing.T) {
	root := t.TempDir()
	l, err := ledger.New(root)
	require.NoError(t, err)
	require.NoError(t, l.Put("orphan", "x", []float32{1, 2, 3}))
	require.NoError(t, l.Put("orphan", "nested/y", []float32{3, 2, 1}))

	e := newEngine(t, root, nil)
	nss := e.Namespaces()
	require.Len(t, nss, 1)
	assert.Equal(t, "orphan", nss[0].Name)
	assert.Equal(t, 3, nss[0].Dimension)
	assert.Equal(t, 2, e.Stats()[0].IndexSize)

	results, err := e.FindSimilar(context.Background(), []float32{1, 2, 3}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, ids(results))

	// Adopted namespaces are registered
	store, _ := storage.NewFileStorage(root)
	registry, err := store.LoadNamespaces(context.Background())
	require.NoError(t, err)
	assert.Contains(t, registry, "orphan")
}

func TestEngine_DropsStaleCatalogEntries(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	e := newEngine(t, root, nil)
	require.True(t, e.StoreEmbedding(ctx, "keep", []float32{1, 0}, nil, "docs"))
	require.True(t, e.StoreEmbedding(ctx, "gone", []float32{0, 1}, nil, "docs"))
	require.NoError(t, e.Shutdown(ctx))

	require.NoError(t, os.Remove(filepath.Join(root, "docs", "vectors", "gone.json")))

	e2 := newEngine(t, root, nil)
	_, ok := e2.GetMetadata("docs", "gone")
	assert.False(t, ok)
	_, ok = e2.GetMetadata("docs", "keep")
	assert.True(t, ok)
	assert.Equal(t, 1, e2.Stats()[0].CatalogSize)
}

func TestEngine_CatalogFlushCadence(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	e := newEngine(t, root, nil, func(c *Config) { c.FlushEvery = 2 })

	snapshot := filepath.Join(root, "docs", storage.CatalogFileName)
	require.True(t, e.StoreEmbedding(ctx, "a", []float32{1, 0}, nil, "docs"))
	_, err := os.Stat(snapshot)
	assert.True(t, os.IsNotExist(err))

	require.True(t, e.StoreEmbedding(ctx, "b", []float32{0, 1}, nil, "docs"))
	_, err = os.Stat(snapshot)
	assert.NoError(t, err)
}

func TestEngine_FindSimilarAcrossNamespaces(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, t.TempDir(), nil, func(c *Config) { c.IndexType = "flat" })

	require.True(t, e.StoreEmbedding(ctx, "a", []float32{1, 0}, nil, "one"))
	require.True(t, e.StoreEmbedding(ctx, "b", []float32{0.8, 0.2}, nil, "two"))
	require.True(t, e.StoreEmbedding(ctx, "c", []float32{0, 1}, nil, "two"))
	require.True(t, e.StoreEmbedding(ctx, "d", []float32{1, 0, 0}, nil, "three"))

	results, err := e.FindSimilar(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(results))

	results, err = e.FindSimilar(ctx, []float32{1, 0}, 10, nil, "two", "missing")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(results))

	min := 0.5
	results, err = e.FindSimilar(ctx, []float32{1, 0}, 10, &min)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(results))
}

func TestEngine_RebuildNamespace(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	e := newEngine(t, root, nil)
	require.True(t, e.StoreEmbedding(ctx, "a", []float32{1, 0}, nil, "docs"))
	require.True(t, e.StoreEmbedding(ctx, "b", []float32{0, 1}, nil, "docs"))

	// A record removed behind the engine's back disappears on rebuild
	_, err := e.Ledger().Delete("docs", "b")
	require.NoError(t, err)
	require.NoError(t, e.RebuildNamespace(ctx, "docs"))

	stats := e.Stats()[0]
	assert.Equal(t, 1, stats.IndexSize)
	assert.Equal(t, 1, stats.CatalogSize)
	assert.ErrorIs(t, e.RebuildNamespace(ctx, "missing"), ErrNamespaceNotFound)
}

func TestEngine_ConcurrentStoresAndQueries(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, t.TempDir(), nil)
	require.True(t, e.StoreEmbedding(ctx, "seed", []float32{1, 0, 0}, nil, "docs"))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < 25; i++ {
				v := []float32{rng.Float32(), rng.Float32(), rng.Float32() + 0.1}
				e.StoreEmbedding(ctx, fmt.Sprintf("w%d-%d", w, i), v, nil, "docs")
				if i%5 == 0 {
					e.DeleteEmbedding(ctx, fmt.Sprintf("w%d-%d", w, i), "docs")
				}
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				results, err := e.FindSimilar(ctx, []float32{1, 0, 0}, 5, nil)
				assert.NoError(t, err)
				for _, r := range results {
					assert.False(t, math.IsNaN(r.SimilarityScore))
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1+4*20, e.Stats()[0].IndexSize)
}

// toggleProvider fails while down is set.
type toggleProvider struct {
	down  atomic.Bool
	calls atomic.Int64
}

func (p *toggleProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.calls.Add(1)
	if p.down.Load() {
		return nil, errors.Join(embedding.ErrTransient, errors.New("provider down"))
	}
	return []float32{1, float32(len(text)), 0}, nil
}

func newClient(p embedding.Provider) *embedding.Client {
	fast := embedding.Schedule{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}
	return embedding.NewClient(p, embedding.ClientConfig{
		MaxRetries:        1,
		RateLimitSchedule: fast,
		TransientSchedule: fast,
	})
}

func TestEngine_CircuitBreaker(t *testing.T) {
	ctx := context.Background()
	p := &toggleProvider{}
	p.down.Store(true)
	e := newEngine(t, t.TempDir(), newClient(p))

	assert.Equal(t, 2, e.FailureThreshold())
	_, ok := e.EmbedText(ctx, "one")
	assert.False(t, ok)
	assert.False(t, e.CircuitOpen())
	_, ok = e.EmbedText(ctx, "two")
	assert.False(t, ok)
	assert.Equal(t, 2, e.ContinuousFailures())
	assert.True(t, e.CircuitOpen())

	calls := p.calls.Load()
	_, ok = e.EmbedText(ctx, "three")
	assert.False(t, ok)
	assert.Equal(t, calls, p.calls.Load(), "open circuit makes no provider calls")
	_, ok = e.EmbedTexts(ctx, []string{"x"})
	assert.False(t, ok)

	assert.False(t, e.Precheck(ctx), "precheck fails while provider is down")
	assert.True(t, e.CircuitOpen())

	p.down.Store(false)
	assert.True(t, e.Precheck(ctx))
	assert.Equal(t, 0, e.ContinuousFailures())
	assert.False(t, e.CircuitOpen())

	vec, ok := e.EmbedText(ctx, "three")
	assert.True(t, ok)
	assert.Len(t, vec, 3)
}

func TestEngine_PersistsFailureLog(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	p := &toggleProvider{}
	p.down.Store(true)
	e := newEngine(t, root, newClient(p))
	_, ok := e.EmbedText(ctx, "unlucky text")
	require.False(t, ok)
	require.NoError(t, e.Shutdown(ctx))

	client := newClient(&toggleProvider{})
	newEngine(t, root, client)
	f, ok := client.Failures().ForText("unlucky text")
	require.True(t, ok)
	assert.Equal(t, 1, f.FailureCount)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Root: t.TempDir()}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	store, _ := storage.NewFileStorage(t.TempDir())
	_, err = New(Config{Root: t.TempDir(), IndexType: "annoy"}, store, nil)
	assert.Error(t, err)
}
