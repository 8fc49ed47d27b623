package indexer

import (
	"testing"
)

func TestChunker_Chunk(t *testing.T) {
	c := NewChunker(3, 1)
	chunks := c.Chunk("doc1", "one\ntwo\nthree\nfour\nfive\nsix\nseven")
	want := [][2]int{{1, 3}, {3, 5}, {5, 7}}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, ch := range chunks {
		if ch.DocumentID != "doc1" {
			t.Errorf("chunk %d DocumentID=%s", i, ch.DocumentID)
		}
		if ch.Index != i {
			t.Errorf("chunk %d Index=%d", i, ch.Index)
		}
		if ch.ID != ChunkID("doc1", i) {
			t.Errorf("chunk %d ID=%s", i, ch.ID)
		}
		if ch.StartLine != want[i][0] || ch.EndLine != want[i][1] {
			t.Errorf("chunk %d lines %d-%d, want %d-%d", i, ch.StartLine, ch.EndLine, want[i][0], want[i][1])
		}
	}
	if chunks[1].Content != "three\nfour\nfive" {
		t.Errorf("chunk 1 content = %q", chunks[1].Content)
	}
}

func TestChunker_SkipsBlankWindows(t *testing.T) {
	c := NewChunker(2, 0)
	chunks := c.Chunk("d", "a\nb\n\n\nc")
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].Index != 1 || chunks[1].StartLine != 5 {
		t.Errorf("second chunk = %+v", chunks[1])
	}
}

func TestChunker_ChunkEmpty(t *testing.T) {
	c := NewChunker(5, 1)
	chunks := c.Chunk("d", "   \n\t  ")
	if chunks != nil {
		t.Errorf("empty text should return nil, got %v", chunks)
	}
}

func TestChunkID(t *testing.T) {
	if got := ChunkID("src/a.go", 12); got != "src/a.go/chunk-0012" {
		t.Errorf("ChunkID = %s", got)
	}
}

func TestPreprocess(t *testing.T) {
	if Preprocess("  a  b\n\tc ") != "a b c" {
		t.Error("expected trimmed and collapsed spaces")
	}
}

func TestSanitizeUTF8(t *testing.T) {
	if got := sanitizeUTF8([]byte("caf\xc3\xa9")); got != "café" {
		t.Errorf("got %q", got)
	}
	if got := sanitizeUTF8([]byte("hello\x80world")); got != "hello�world" {
		t.Errorf("got %q", got)
	}
}

func TestLanguageFor(t *testing.T) {
	if languageFor(".GO") != "go" || languageFor(".py") != "python" || languageFor(".xyz") != "" {
		t.Error("unexpected language mapping")
	}
}
