package models

import "fmt"

// Query limits applied by Validate when the caller leaves them unset.
const (
	DefaultQueryLimit = 10
	MaxQueryLimit     = 100
)

// SimilarityQuery is a request for the nearest stored vectors.
// Exactly one of Text or Vector must be set.
type SimilarityQuery struct {
	Text   string    `json:"text,omitempty"`
	Vector []float32 `json:"vector,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
	// MinSimilarity drops hits below the threshold; nil keeps everything.
	MinSimilarity *float64 `json:"min_similarity,omitempty"`
	Namespaces    []string `json:"namespaces,omitempty"`
	// GroupByDocument keeps only the best chunk of each indexed document.
	GroupByDocument bool `json:"group_by_document,omitempty"`
}

// Validate checks the query and normalizes limit and offset.
func (q *SimilarityQuery) Validate() error {
	if q.Text == "" && len(q.Vector) == 0 {
		return fmt.Errorf("query needs text or vector")
	}
	if q.Text != "" && len(q.Vector) > 0 {
		return fmt.Errorf("query cannot have both text and vector")
	}
	if q.MinSimilarity != nil && (*q.MinSimilarity < -1 || *q.MinSimilarity > 1) {
		return fmt.Errorf("min_similarity must be within [-1, 1]")
	}
	if q.Offset < 0 {
		return fmt.Errorf("offset must not be negative")
	}
	if q.Limit <= 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.Limit > MaxQueryLimit {
		q.Limit = MaxQueryLimit
	}
	return nil
}
