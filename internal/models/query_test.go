package models

import (
	"testing"
)

func ptr(v float64) *float64 { return &v }

func TestSimilarityQuery_Validate(t *testing.T) {
	tests := []struct {
		name      string
		query     *SimilarityQuery
		wantErr   bool
		wantLimit int
	}{
		{"empty query", &SimilarityQuery{}, true, 0},
		{"text query", &SimilarityQuery{Text: "hello"}, false, 10},
		{"vector query", &SimilarityQuery{Vector: []float32{1, 0}}, false, 10},
		{"both set", &SimilarityQuery{Text: "x", Vector: []float32{1}}, true, 0},
		{"caps limit at 100", &SimilarityQuery{Text: "x", Limit: 200}, false, 100},
		{"keeps limit", &SimilarityQuery{Text: "x", Limit: 5}, false, 5},
		{"min similarity out of range", &SimilarityQuery{Text: "x", MinSimilarity: ptr(1.5)}, true, 0},
		{"min similarity zero", &SimilarityQuery{Text: "x", MinSimilarity: ptr(0)}, false, 10},
		{"negative offset", &SimilarityQuery{Text: "x", Offset: -1}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.query.Limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", tt.query.Limit, tt.wantLimit)
			}
		})
	}
}

func TestEmbeddingMetadata_Clone(t *testing.T) {
	start := 3
	m := &EmbeddingMetadata{ID: "a", StartLine: &start, Extra: map[string]string{"k": "v"}}
	c := m.Clone()
	*c.StartLine = 9
	c.Extra["k"] = "changed"
	if *m.StartLine != 3 {
		t.Errorf("StartLine shared with clone: %d", *m.StartLine)
	}
	if m.Extra["k"] != "v" {
		t.Errorf("Extra shared with clone: %s", m.Extra["k"])
	}
	var nilMeta *EmbeddingMetadata
	if nilMeta.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}
