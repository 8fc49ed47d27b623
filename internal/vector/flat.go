package vector

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/embedstore/pkg/utils"
)

// FlatIndex is an exact brute-force cosine index.
// Suitable for tests and small namespaces where recall must be perfect.
type FlatIndex struct {
	dimensions int
	ids        []string
	vectors    [][]float32
	norms      []float64
	positions  map[string]int
	mu         sync.RWMutex
}

// NewFlatIndex creates an exact index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{
		dimensions: dimensions,
		positions:  make(map[string]int),
	}, nil
}

// Type returns the index type identifier.
func (m *FlatIndex) Type() string {
	return string(IndexTypeFlat)
}

// Dimension returns the configured vector length.
func (m *FlatIndex) Dimension() int {
	return m.dimensions
}

// Add inserts or replaces the vector for id.
func (m *FlatIndex) Add(id string, values []float32) bool {
	if len(values) != m.dimensions || !utils.AllFinite(values) {
		return false
	}
	vec := make([]float32, m.dimensions)
	copy(vec, values)

	m.mu.Lock()
	defer m.mu.Unlock()
	if pos, ok := m.positions[id]; ok {
		m.vectors[pos] = vec
		m.norms[pos] = L2Norm(vec)
		return true
	}
	m.positions[id] = len(m.ids)
	m.ids = append(m.ids, id)
	m.vectors = append(m.vectors, vec)
	m.norms = append(m.norms, L2Norm(vec))
	return true
}

// Remove deletes id by moving the last entry into its slot.
func (m *FlatIndex) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[id]
	if !ok {
		return false
	}
	last := len(m.ids) - 1
	if pos != last {
		m.ids[pos] = m.ids[last]
		m.vectors[pos] = m.vectors[last]
		m.norms[pos] = m.norms[last]
		m.positions[m.ids[pos]] = pos
	}
	m.ids = m.ids[:last]
	m.vectors = m.vectors[:last]
	m.norms = m.norms[:last]
	delete(m.positions, id)
	return true
}

// Query scores every vector and returns the top k.
func (m *FlatIndex) Query(vector []float32, k int, minSimilarity *float64) []Hit {
	if len(vector) != m.dimensions || k <= 0 {
		return nil
	}
	qn := L2Norm(vector)
	m.mu.RLock()
	defer m.mu.RUnlock()
	hits := make([]Hit, 0, len(m.ids))
	for i, vec := range m.vectors {
		sim := cosineWithNorms(vector, qn, vec, m.norms[i])
		if minSimilarity != nil && sim < *minSimilarity {
			continue
		}
		hits = append(hits, Hit{ID: m.ids[i], Similarity: sim})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

// Contains reports whether id is indexed.
func (m *FlatIndex) Contains(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.positions[id]
	return ok
}

// Size returns the number of vectors in the index.
func (m *FlatIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}
