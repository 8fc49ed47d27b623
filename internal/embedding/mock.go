package embedding

import (
	"context"
	"math"

	"github.com/hyperjump/embedstore/pkg/utils"
)

// MockProvider is a deterministic provider for tests and offline runs. It returns
// a fixed-dimension vector derived from the text hash so that the same text
// always gets the same embedding.
type MockProvider struct {
	dimensions int
}

// NewMockProvider returns a provider that produces deterministic embeddings of the given dimensions.
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockProvider{dimensions: dimensions}
}

// Embed returns a deterministic unit-length embedding based on the text hash.
func (e *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := hashString(text)
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (e *MockProvider) Dimensions() int {
	return e.dimensions
}

func hashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
