// Package models defines core data structures for namespaces, vectors, metadata, and search results.
package models

import "time"

// Namespace is an isolated vector space with a fixed dimension.
type Namespace struct {
	Name      string    `json:"name"`
	Dimension int       `json:"dimension"`
	Directory string    `json:"directory"`
	CreatedAt time.Time `json:"created_at"`
}

// VectorRecord is the ledger representation of a single stored vector.
type VectorRecord struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	Values    []float32 `json:"values"`
}

// Keys in EmbeddingMetadata.Extra set by document indexing.
const (
	ExtraDocumentID = "document_id"
	ExtraChunkIndex = "chunk_index"
)

// EmbeddingMetadata describes the content behind a stored vector.
type EmbeddingMetadata struct {
	ID          string            `json:"id"`
	Namespace   string            `json:"namespace"`
	FilePath    string            `json:"file_path,omitempty"`
	StartLine   *int              `json:"start_line,omitempty"`
	EndLine     *int              `json:"end_line,omitempty"`
	Type        string            `json:"type,omitempty"`
	Language    string            `json:"language,omitempty"`
	Description string            `json:"description,omitempty"`
	Content     string            `json:"content,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so callers cannot mutate catalog state.
func (m *EmbeddingMetadata) Clone() *EmbeddingMetadata {
	if m == nil {
		return nil
	}
	c := *m
	if m.StartLine != nil {
		v := *m.StartLine
		c.StartLine = &v
	}
	if m.EndLine != nil {
		v := *m.EndLine
		c.EndLine = &v
	}
	if m.Extra != nil {
		c.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// DocumentID returns the indexed document a chunk belongs to, or "".
func (m *EmbeddingMetadata) DocumentID() string {
	if m == nil {
		return ""
	}
	return m.Extra[ExtraDocumentID]
}

// EmbeddingFailure records repeated failures to embed the same input text.
// Only a hash and a bounded preview of the text are kept.
type EmbeddingFailure struct {
	TextHash         string    `json:"text_hash"`
	TextPreview      string    `json:"text_preview"`
	FailureCount     int       `json:"failure_count"`
	LastFailureTime  time.Time `json:"last_failure_time"`
	LastErrorMessage string    `json:"last_error_message"`
}
