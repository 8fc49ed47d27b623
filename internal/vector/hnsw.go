package vector

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/hyperjump/embedstore/pkg/utils"
)

const (
	maxLevelCap     = 16
	minCapacity     = 16
	defaultM        = 16
	defaultEfBuild  = 200
	defaultEfSearch = 50
)

// Options tunes the HNSW graph. Zero values select defaults.
type Options struct {
	// M is the number of neighbors linked per node on upper layers; layer 0 keeps 2*M.
	M int
	// EfConstruction is the candidate list width while inserting.
	EfConstruction int
	// EfSearch is the candidate list width while querying (raised to k when smaller).
	EfSearch int
	// Capacity is the initial node slab size. Reaching it triggers a compacting rebuild
	// at roughly twice the live count.
	Capacity int
	// Seed fixes level assignment for reproducible graphs. Zero uses the clock.
	Seed int64
}

func (o Options) withDefaults() Options {
	if o.M <= 0 {
		o.M = defaultM
	}
	if o.M == 1 {
		// ml = 1/ln(M) is undefined for M == 1
		o.M = 2
	}
	if o.EfConstruction <= 0 {
		o.EfConstruction = defaultEfBuild
	}
	if o.EfSearch <= 0 {
		o.EfSearch = defaultEfSearch
	}
	if o.Capacity < minCapacity {
		o.Capacity = minCapacity
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	return o
}

// node is a graph vertex. Removed nodes are tombstoned: they keep their edges
// so the graph stays navigable, but are never returned by Query.
type node struct {
	id        string
	vector    []float32
	norm      float64
	level     int
	neighbors [][]uint32
	deleted   bool
}

// HNSWIndex is a Hierarchical Navigable Small World graph over cosine distance.
// Queries hold the read lock; Add, Remove and rebuilds hold the write lock, so a
// query never observes a half-linked node.
type HNSWIndex struct {
	dimension int
	opts      Options
	ml        float64
	rng       *rand.Rand

	nodes    []*node
	ids      map[string]uint32 // live ids only
	entry    int32             // -1 when the graph is empty
	maxLevel int
	capacity int
	rebuilds int

	mu sync.RWMutex
}

// NewHNSWIndex creates an empty graph for vectors of the given dimension.
func NewHNSWIndex(dimension int, opts Options) (*HNSWIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	opts = opts.withDefaults()
	h := &HNSWIndex{
		dimension: dimension,
		opts:      opts,
		ml:        1 / math.Log(float64(opts.M)),
		rng:       rand.New(rand.NewSource(opts.Seed)), // nolint gosec
		capacity:  opts.Capacity,
	}
	h.reset()
	return h, nil
}

func (h *HNSWIndex) reset() {
	h.nodes = make([]*node, 0, h.capacity)
	h.ids = make(map[string]uint32, h.capacity)
	h.entry = -1
	h.maxLevel = 0
}

// Type returns the index type identifier.
func (h *HNSWIndex) Type() string {
	return string(IndexTypeHNSW)
}

// Dimension returns the configured vector length.
func (h *HNSWIndex) Dimension() int {
	return h.dimension
}

// Size returns the number of live vectors.
func (h *HNSWIndex) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.ids)
}

// Contains reports whether id is live in the index.
func (h *HNSWIndex) Contains(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.ids[id]
	return ok
}

// Capacity returns the current node slab capacity.
func (h *HNSWIndex) Capacity() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.capacity
}

// Rebuilds returns how many compacting rebuilds have run.
func (h *HNSWIndex) Rebuilds() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rebuilds
}

// Add inserts values under id, replacing any previous vector for id.
func (h *HNSWIndex) Add(id string, values []float32) bool {
	if len(values) != h.dimension || !utils.AllFinite(values) {
		return false
	}
	vec := make([]float32, len(values))
	copy(vec, values)

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.ids[id]; ok {
		h.nodes[old].deleted = true
		delete(h.ids, id)
	}
	if len(h.nodes) >= h.capacity {
		h.rebuild(max(2*(len(h.ids)+1), minCapacity))
	}
	h.insert(id, vec)
	return true
}

// Remove tombstones id. When no live nodes remain the graph is reset.
func (h *HNSWIndex) Remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx, ok := h.ids[id]
	if !ok {
		return false
	}
	h.nodes[idx].deleted = true
	delete(h.ids, id)
	if len(h.ids) == 0 {
		h.reset()
	}
	return true
}

// Query returns the approximate k nearest live vectors.
func (h *HNSWIndex) Query(vector []float32, k int, minSimilarity *float64) []Hit {
	if len(vector) != h.dimension || k <= 0 {
		return nil
	}
	qn := L2Norm(vector)

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.entry < 0 || len(h.ids) == 0 {
		return nil
	}
	cur := uint32(h.entry)
	curDist := h.distance(vector, qn, cur)
	for level := h.maxLevel; level > 0; level-- {
		cur, curDist = h.greedyClosest(vector, qn, cur, curDist, level)
	}
	found := h.searchLayer(vector, qn, cur, curDist, max(h.opts.EfSearch, k), 0)

	hits := make([]Hit, 0, min(k, len(found)))
	for _, c := range found {
		if len(hits) == k {
			break
		}
		sim := math.Max(-1, math.Min(1, 1-c.dist))
		if minSimilarity != nil && sim < *minSimilarity {
			continue
		}
		hits = append(hits, Hit{ID: h.nodes[c.idx].id, Similarity: sim})
	}
	return hits
}

// rebuild compacts the graph into a fresh slab of the given capacity, dropping
// tombstones. Caller holds the write lock.
func (h *HNSWIndex) rebuild(capacity int) {
	live := make([]*node, 0, len(h.ids))
	for _, n := range h.nodes {
		if !n.deleted {
			live = append(live, n)
		}
	}
	h.capacity = capacity
	h.reset()
	for _, n := range live {
		h.insert(n.id, n.vector)
	}
	h.rebuilds++
}

func (h *HNSWIndex) randomLevel() int {
	// 1-U keeps the argument of Log in (0, 1]
	level := int(math.Floor(-math.Log(1-h.rng.Float64()) * h.ml))
	return min(level, maxLevelCap)
}

func (h *HNSWIndex) maxConnections(level int) int {
	if level == 0 {
		return 2 * h.opts.M
	}
	return h.opts.M
}

// distance returns the cosine distance between q (with norm qn) and node idx.
func (h *HNSWIndex) distance(q []float32, qn float64, idx uint32) float64 {
	n := h.nodes[idx]
	return 1 - cosineWithNorms(q, qn, n.vector, n.norm)
}

func (h *HNSWIndex) nodeDistance(a, b uint32) float64 {
	na := h.nodes[a]
	return h.distance(na.vector, na.norm, b)
}

// insert links a new node into the graph. Caller holds the write lock.
func (h *HNSWIndex) insert(id string, vec []float32) {
	level := h.randomLevel()
	idx := uint32(len(h.nodes))
	n := &node{
		id:        id,
		vector:    vec,
		norm:      L2Norm(vec),
		level:     level,
		neighbors: make([][]uint32, level+1),
	}
	h.nodes = append(h.nodes, n)
	h.ids[id] = idx

	if h.entry < 0 {
		h.entry = int32(idx)
		h.maxLevel = level
		return
	}

	// Find single shortest path from the top layers down to the new node's level
	cur := uint32(h.entry)
	curDist := h.distance(vec, n.norm, cur)
	for l := h.maxLevel; l > level; l-- {
		cur, curDist = h.greedyClosest(vec, n.norm, cur, curDist, l)
	}

	for l := min(level, h.maxLevel); l >= 0; l-- {
		found := h.searchLayerExcluding(vec, n.norm, cur, curDist, h.opts.EfConstruction, l, idx)
		if len(found) == 0 {
			continue
		}
		selected := h.selectNeighbors(found, h.opts.M)
		n.neighbors[l] = make([]uint32, len(selected))
		for i, c := range selected {
			n.neighbors[l][i] = c.idx
		}
		for _, c := range selected {
			h.link(c.idx, idx, l)
		}
		cur, curDist = found[0].idx, found[0].dist
	}

	if level > h.maxLevel {
		h.entry = int32(idx)
		h.maxLevel = level
	}
}

// greedyClosest walks layer level from cur, moving to any closer neighbor until none is closer.
func (h *HNSWIndex) greedyClosest(q []float32, qn float64, cur uint32, curDist float64, level int) (uint32, float64) {
	for changed := true; changed; {
		changed = false
		n := h.nodes[cur]
		if level >= len(n.neighbors) {
			break
		}
		for _, nb := range n.neighbors[level] {
			if d := h.distance(q, qn, nb); d < curDist {
				cur, curDist = nb, d
				changed = true
			}
		}
	}
	return cur, curDist
}

func (h *HNSWIndex) searchLayer(q []float32, qn float64, ep uint32, epDist float64, ef, level int) []candidate {
	return h.searchLayerExcluding(q, qn, ep, epDist, ef, level, math.MaxUint32)
}

// searchLayerExcluding runs the bounded beam search on one layer and returns up
// to ef live candidates sorted by ascending distance. Tombstoned nodes are
// traversed but never returned; skip is never visited.
func (h *HNSWIndex) searchLayerExcluding(q []float32, qn float64, ep uint32, epDist float64, ef, level int, skip uint32) []candidate {
	var visited bitset.BitSet
	visited.Set(uint(ep))
	if skip != math.MaxUint32 {
		visited.Set(uint(skip))
	}

	candidates := &candidateQueue{}
	heap.Push(candidates, candidate{idx: ep, dist: epDist})

	results := &candidateQueue{max: true}
	if !h.nodes[ep].deleted {
		heap.Push(results, candidate{idx: ep, dist: epDist})
	}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(candidate)
		if results.Len() >= ef && c.dist > results.Top().dist {
			break
		}
		n := h.nodes[c.idx]
		if level >= len(n.neighbors) {
			continue
		}
		for _, nb := range n.neighbors[level] {
			if visited.Test(uint(nb)) {
				continue
			}
			visited.Set(uint(nb))

			d := h.distance(q, qn, nb)
			if results.Len() < ef || d < results.Top().dist {
				heap.Push(candidates, candidate{idx: nb, dist: d})
				if !h.nodes[nb].deleted {
					heap.Push(results, candidate{idx: nb, dist: d})
					if results.Len() > ef {
						heap.Pop(results)
					}
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out
}

// selectNeighbors applies the HNSW heuristic to candidates sorted by ascending
// distance: a candidate is kept only if it is closer to the base than to any
// already-kept neighbor. Discarded candidates back-fill up to m.
func (h *HNSWIndex) selectNeighbors(sorted []candidate, m int) []candidate {
	if len(sorted) <= m {
		return sorted
	}
	kept := make([]candidate, 0, m)
	var discarded []candidate
	for _, c := range sorted {
		if len(kept) >= m {
			break
		}
		good := true
		for _, k := range kept {
			if h.nodeDistance(c.idx, k.idx) < c.dist {
				good = false
				break
			}
		}
		if good {
			kept = append(kept, c)
		} else {
			discarded = append(discarded, c)
		}
	}
	for i := 0; len(kept) < m && i < len(discarded); i++ {
		kept = append(kept, discarded[i])
	}
	return kept
}

// link adds an edge from -> to on level, pruning from's list when over-full.
func (h *HNSWIndex) link(from, to uint32, level int) {
	n := h.nodes[from]
	if level >= len(n.neighbors) {
		return
	}
	for _, existing := range n.neighbors[level] {
		if existing == to {
			return
		}
	}
	n.neighbors[level] = append(n.neighbors[level], to)

	limit := h.maxConnections(level)
	if len(n.neighbors[level]) <= limit {
		return
	}
	scored := make([]candidate, len(n.neighbors[level]))
	for i, nb := range n.neighbors[level] {
		scored[i] = candidate{idx: nb, dist: h.nodeDistance(from, nb)}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].dist < scored[j].dist })
	selected := h.selectNeighbors(scored, limit)
	pruned := make([]uint32, len(selected))
	for i, c := range selected {
		pruned[i] = c.idx
	}
	n.neighbors[level] = pruned
}
