package vector

import "math"

// InnerProduct returns the inner product of two vectors.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity returns dot(a,b)/(|a||b|) clamped to [-1, 1].
// Zero-magnitude or mismatched vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	return cosineWithNorms(a, L2Norm(a), b, L2Norm(b))
}

// CosineDistance returns 1 - CosineSimilarity(a, b), within [0, 2].
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

func cosineWithNorms(a []float32, na float64, b []float32, nb float64) float64 {
	if na == 0 || nb == 0 || len(a) != len(b) {
		return 0
	}
	sim := InnerProduct(a, b) / (na * nb)
	if math.IsNaN(sim) {
		return 0
	}
	return math.Max(-1, math.Min(1, sim))
}
