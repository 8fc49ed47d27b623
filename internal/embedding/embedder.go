// Package embedding turns text into vectors through an external provider,
// with retry, rate limiting, adaptive batching and failure bookkeeping.
package embedding

import (
	"context"
	"errors"
)

var (
	// ErrRateLimited is returned when the provider signals HTTP 429.
	ErrRateLimited = errors.New("embedding provider rate limited")
	// ErrTransient covers every other retryable provider failure: transport
	// errors, non-2xx statuses, malformed or empty bodies.
	ErrTransient = errors.New("embedding provider request failed")
)

// Provider produces a vector embedding for a single text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
