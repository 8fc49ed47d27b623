package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	x := []float32{3, 4}
	NormalizeL2(x)
	if math.Abs(float64(x[0])-0.6) > 1e-6 || math.Abs(float64(x[1])-0.8) > 1e-6 {
		t.Errorf("got %v, want [0.6 0.8]", x)
	}
	zero := []float32{0, 0}
	NormalizeL2(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector should be unchanged, got %v", zero)
	}
}

func TestAllFinite(t *testing.T) {
	if !AllFinite([]float32{1, -2, 0}) {
		t.Error("finite vector reported as non-finite")
	}
	if AllFinite([]float32{1, float32(math.NaN())}) {
		t.Error("NaN not detected")
	}
	if AllFinite([]float32{float32(math.Inf(1))}) {
		t.Error("Inf not detected")
	}
}

func TestIsZero(t *testing.T) {
	if !IsZero([]float32{0, 0, 0}) {
		t.Error("zero vector not detected")
	}
	if IsZero([]float32{0, 1e-9}) {
		t.Error("non-zero vector reported as zero")
	}
}
