package vector

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"scaled", []float32{1, 1}, []float32{10, 10}, 1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity=%v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarity_Bounds(t *testing.T) {
	a := []float32{0.1, 0.2, 0.3}
	b := []float32{0.1000001, 0.2000001, 0.3000001}
	got := CosineSimilarity(a, b)
	if got > 1 || got < -1 {
		t.Errorf("similarity %v outside [-1, 1]", got)
	}
	if d := CosineDistance(a, b); d < 0 || d > 2 {
		t.Errorf("distance %v outside [0, 2]", d)
	}
}

func TestL2Norm(t *testing.T) {
	if got := L2Norm([]float32{3, 4}); got != 5 {
		t.Errorf("L2Norm=%v, want 5", got)
	}
	if got := L2Norm(nil); got != 0 {
		t.Errorf("L2Norm(nil)=%v, want 0", got)
	}
}

func TestCheckDimension(t *testing.T) {
	if err := CheckDimension([]float32{1, 2}, 2); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := CheckDimension([]float32{1, 2}, 3)
	mismatch, ok := err.(*ErrDimensionMismatch)
	if !ok {
		t.Fatalf("expected *ErrDimensionMismatch, got %T", err)
	}
	if mismatch.Expected != 3 || mismatch.Actual != 2 {
		t.Errorf("got %+v", mismatch)
	}
}
