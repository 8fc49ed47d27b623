package indexer

import (
	"fmt"
	"strings"
)

// Chunk is a window of consecutive lines of a document. Lines are 1-based.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Content    string
	StartLine  int
	EndLine    int
}

// ChunkID returns the stored id of the index-th chunk of docID.
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s/chunk-%04d", docID, index)
}

// Chunker splits text into overlapping line-based chunks.
type Chunker struct {
	chunkLines   int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in lines).
func NewChunker(chunkLines, chunkOverlap int) *Chunker {
	if chunkLines <= 0 {
		chunkLines = 1
	}
	return &Chunker{
		chunkLines:   chunkLines,
		chunkOverlap: chunkOverlap,
	}
}

// Chunk splits text into Chunks with overlapping windows. Windows holding only
// whitespace are dropped; chunk indexes stay dense.
func (c *Chunker) Chunk(docID, text string) []*Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	step := c.chunkLines - c.chunkOverlap
	if step <= 0 {
		step = 1
	}
	var chunks []*Chunk
	for i := 0; i < len(lines); i += step {
		end := min(i+c.chunkLines, len(lines))
		content := strings.Join(lines[i:end], "\n")
		if strings.TrimSpace(content) != "" {
			idx := len(chunks)
			chunks = append(chunks, &Chunk{
				ID:         ChunkID(docID, idx),
				DocumentID: docID,
				Index:      idx,
				Content:    content,
				StartLine:  i + 1,
				EndLine:    end,
			})
		}
		if end >= len(lines) {
			break
		}
	}
	return chunks
}
