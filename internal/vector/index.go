// Package vector provides in-memory vector indexes and similarity search.
package vector

import "fmt"

// VectorIndex is an in-memory nearest-neighbor index over cosine similarity.
// Indexes are never persisted; they are rebuilt from the ledger.
type VectorIndex interface {
	// Add inserts or replaces id. It returns false when values has the wrong
	// dimension or contains non-finite components.
	Add(id string, values []float32) bool
	// Remove deletes id so it is never returned again. It returns false if id is absent.
	Remove(id string) bool
	// Query returns up to k hits in descending similarity. When minSimilarity
	// is non-nil, hits below it are dropped.
	Query(vector []float32, k int, minSimilarity *float64) []Hit
	Contains(id string) bool
	Size() int
	Dimension() int
	Type() string
}

// Hit is a single query result.
type Hit struct {
	ID         string
	Similarity float64
}

// ErrDimensionMismatch reports a vector whose length differs from the index dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// CheckDimension returns an *ErrDimensionMismatch when len(values) != dimension.
func CheckDimension(values []float32, dimension int) error {
	if len(values) != dimension {
		return &ErrDimensionMismatch{Expected: dimension, Actual: len(values)}
	}
	return nil
}
