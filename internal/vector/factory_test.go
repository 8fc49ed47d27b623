package vector

import (
	"testing"
)

func TestNewVectorIndex_HNSW(t *testing.T) {
	idx, err := NewVectorIndex("hnsw", 3, Options{})
	if err != nil {
		t.Fatalf("NewVectorIndex(hnsw): %v", err)
	}
	if !idx.Add("a", []float32{1, 0, 0}) {
		t.Fatal("Add returned false")
	}
	if idx.Size() != 1 {
		t.Errorf("Size=%d, want 1", idx.Size())
	}
	if idx.Type() != "hnsw" {
		t.Errorf("Type=%s, want hnsw", idx.Type())
	}
}

func TestNewVectorIndex_Empty(t *testing.T) {
	// Empty string should default to hnsw
	idx, err := NewVectorIndex("", 3, Options{})
	if err != nil {
		t.Fatalf("NewVectorIndex(''): %v", err)
	}
	if idx.Size() != 0 {
		t.Errorf("Size=%d, want 0", idx.Size())
	}
	if idx.Type() != "hnsw" {
		t.Errorf("Type=%s, want hnsw", idx.Type())
	}
}

func TestNewVectorIndex_Flat(t *testing.T) {
	idx, err := NewVectorIndex("flat", 2, Options{})
	if err != nil {
		t.Fatalf("NewVectorIndex(flat): %v", err)
	}
	if idx.Type() != "flat" || idx.Dimension() != 2 {
		t.Errorf("got type=%s dim=%d", idx.Type(), idx.Dimension())
	}
}

func TestNewVectorIndex_Unknown(t *testing.T) {
	_, err := NewVectorIndex("faiss", 3, Options{})
	if err == nil {
		t.Error("expected error for unknown index type")
	}
}

func TestNewVectorIndex_InvalidDimension(t *testing.T) {
	for _, typ := range []string{"hnsw", "flat"} {
		if _, err := NewVectorIndex(typ, 0, Options{}); err == nil {
			t.Errorf("%s: expected error for zero dimension", typ)
		}
	}
}
