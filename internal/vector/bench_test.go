package vector

import (
	"fmt"
	"math/rand"
	"testing"
)

func benchVectors(n, dim int) [][]float32 {
	rng := rand.New(rand.NewSource(7))
	vecs := make([][]float32, n)
	for i := range vecs {
		vecs[i] = make([]float32, dim)
		for j := range vecs[i] {
			vecs[i][j] = rng.Float32()*2 - 1
		}
	}
	return vecs
}

func benchmarkQuery(b *testing.B, indexType string) {
	const n, dim = 2000, 384
	idx, err := NewVectorIndex(indexType, dim, Options{Seed: 1})
	if err != nil {
		b.Fatal(err)
	}
	vecs := benchVectors(n+1, dim)
	for i := 0; i < n; i++ {
		idx.Add(fmt.Sprintf("v%d", i), vecs[i])
	}
	query := vecs[n]
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = idx.Query(query, 10, nil)
	}
}

func BenchmarkFlatIndexQuery(b *testing.B) { benchmarkQuery(b, "flat") }

func BenchmarkHNSWIndexQuery(b *testing.B) { benchmarkQuery(b, "hnsw") }

func BenchmarkHNSWIndexAdd(b *testing.B) {
	const dim = 128
	vecs := benchVectors(b.N, dim)
	idx, err := NewHNSWIndex(dim, Options{Seed: 1})
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx.Add(fmt.Sprintf("v%d", i), vecs[i])
	}
}
