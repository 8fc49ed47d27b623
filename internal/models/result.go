package models

// SimilarityResult is a single query hit with its catalog metadata attached.
type SimilarityResult struct {
	ID              string             `json:"id"`
	Namespace       string             `json:"namespace"`
	Metadata        *EmbeddingMetadata `json:"metadata,omitempty"`
	SimilarityScore float64            `json:"similarity_score"`
}

// BatchResult is the outcome of a batch store.
// When Aborted is true nothing was written.
type BatchResult struct {
	Stored      []string          `json:"stored"`
	Failed      map[string]string `json:"failed,omitempty"`
	Aborted     bool              `json:"aborted,omitempty"`
	AbortReason string            `json:"abort_reason,omitempty"`
}

// NamespaceStats summarizes one namespace for status reporting.
type NamespaceStats struct {
	Name        string `json:"name"`
	Dimension   int    `json:"dimension"`
	IndexSize   int    `json:"index_size"`
	CatalogSize int    `json:"catalog_size"`
	DiskBytes   int64  `json:"disk_bytes"`
}

// SearchResult is a ranked hit returned by the query layer.
type SearchResult struct {
	SimilarityResult
	Rank int `json:"rank"`
	// DocumentID is set for hits produced by document indexing.
	DocumentID string `json:"document_id,omitempty"`
	Snippet    string `json:"snippet,omitempty"`
}

// SearchResponse is a page of search results.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query,omitempty"`
}
