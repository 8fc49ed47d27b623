package search

import "github.com/hyperjump/embedstore/internal/models"

// GroupByDocument keeps the best hit per document. Hits must already be sorted
// by descending similarity; hits without a document id are kept as they are.
func GroupByDocument(hits []models.SimilarityResult) []models.SimilarityResult {
	seen := make(map[string]bool)
	out := make([]models.SimilarityResult, 0, len(hits))
	for _, h := range hits {
		doc := h.Metadata.DocumentID()
		if doc != "" {
			key := h.Namespace + "\x00" + doc
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, h)
	}
	return out
}

// Paginate returns hits[offset:offset+limit], clamped to the slice.
func Paginate(hits []models.SimilarityResult, offset, limit int) []models.SimilarityResult {
	start := min(max(offset, 0), len(hits))
	end := min(start+max(limit, 0), len(hits))
	return hits[start:end]
}
