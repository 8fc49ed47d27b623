package embedding

import (
	"container/list"
	"sync"
)

// CacheStats is a point-in-time view of an EmbeddingCache.
type CacheStats struct {
	Entries   int    `json:"entries"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// EmbeddingCache is an LRU of embeddings keyed by text hash. Vectors are
// copied in and out so callers cannot alias cached values.
// A capacity of zero or less disables caching.
type EmbeddingCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front is most recently used
	stats    CacheStats
}

type cached struct {
	hash   string
	vector []float32
}

// NewEmbeddingCache creates a cache holding up to capacity embeddings.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *EmbeddingCache) enabled() bool {
	return c != nil && c.capacity > 0
}

// Get returns a copy of the embedding cached under hash.
func (c *EmbeddingCache) Get(hash string) ([]float32, bool) {
	if !c.enabled() {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[hash]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	c.order.MoveToFront(elem)
	return cloneVector(elem.Value.(*cached).vector), true
}

// Set caches a copy of vector under hash, evicting the least recently used
// entry when full.
func (c *EmbeddingCache) Set(hash string, vector []float32) {
	if !c.enabled() || vector == nil {
		return
	}
	vector = cloneVector(vector)
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[hash]; ok {
		elem.Value.(*cached).vector = vector
		c.order.MoveToFront(elem)
		return
	}
	c.entries[hash] = c.order.PushFront(&cached{hash: hash, vector: vector})
	for c.order.Len() > c.capacity {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.entries, last.Value.(*cached).hash)
		c.stats.Evictions++
	}
}

// Len returns the number of cached embeddings.
func (c *EmbeddingCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns counters since creation.
func (c *EmbeddingCache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.order.Len()
	s.Capacity = c.capacity
	return s
}

func cloneVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
