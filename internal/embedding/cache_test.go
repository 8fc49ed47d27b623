package embedding

import (
	"testing"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
	if c.Len() != 2 {
		t.Errorf("Len=%d, want 2", c.Len())
	}
}

func TestEmbeddingCache_ReturnsCopies(t *testing.T) {
	c := NewEmbeddingCache(4)
	src := []float32{1, 2}
	c.Set("k", src)
	src[0] = 99
	got, _ := c.Get("k")
	if got[0] != 1 {
		t.Errorf("cache aliased caller slice: %v", got)
	}
	got[1] = 42
	again, _ := c.Get("k")
	if again[1] != 2 {
		t.Errorf("cache aliased returned slice: %v", again)
	}
}

func TestEmbeddingCache_Disabled(t *testing.T) {
	c := NewEmbeddingCache(0)
	c.Set("a", []float32{1})
	if _, ok := c.Get("a"); ok {
		t.Error("disabled cache returned a hit")
	}
	var nilCache *EmbeddingCache
	nilCache.Set("a", []float32{1})
	if _, ok := nilCache.Get("a"); ok {
		t.Error("nil cache returned a hit")
	}
}

func TestEmbeddingCache_Stats(t *testing.T) {
	c := NewEmbeddingCache(1)
	c.Get("a")
	c.Set("a", []float32{1})
	c.Get("a")
	c.Set("b", []float32{2})

	got := c.Stats()
	want := CacheStats{Entries: 1, Capacity: 1, Hits: 1, Misses: 1, Evictions: 1}
	if got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
	if (*EmbeddingCache)(nil).Stats() != (CacheStats{}) {
		t.Error("nil cache should report zero stats")
	}
}
