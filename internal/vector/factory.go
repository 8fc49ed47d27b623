package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeHNSW uses an approximate HNSW graph. Sub-linear queries, tunable recall.
	IndexTypeHNSW IndexType = "hnsw"
	// IndexTypeFlat uses exact brute-force search. Good for small namespaces (<10k vectors).
	IndexTypeFlat IndexType = "flat"
)

// NewVectorIndex creates a vector index of the specified type.
// Supported types: "hnsw" (default), "flat". opts only applies to hnsw.
func NewVectorIndex(indexType string, dimensions int, opts Options) (VectorIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeHNSW, "":
		return NewHNSWIndex(dimensions, opts)
	case IndexTypeFlat:
		return NewFlatIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: hnsw, flat)", indexType)
	}
}
