package engine

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/embedstore/internal/models"
	"github.com/hyperjump/embedstore/pkg/utils"
)

// ProbeText is embedded by Precheck to test provider health.
const ProbeText = "embedding service health check"

// ContinuousFailures returns the embedder's consecutive failure count.
func (e *Engine) ContinuousFailures() int {
	if e.embedder == nil {
		return 0
	}
	return e.embedder.ContinuousFailures()
}

// FailureThreshold returns the configured circuit threshold.
func (e *Engine) FailureThreshold() int {
	return e.cfg.FailureThreshold
}

// CircuitOpen reports whether embedding requests should be halted.
func (e *Engine) CircuitOpen() bool {
	return e.cfg.FailureThreshold > 0 && e.ContinuousFailures() >= e.cfg.FailureThreshold
}

// Precheck embeds ProbeText once, bypassing the cache. A non-zero result
// resets the failure counter and closes the circuit.
func (e *Engine) Precheck(ctx context.Context) bool {
	if e.embedder == nil {
		return false
	}
	vec, err := e.embedder.Probe(ctx, ProbeText)
	if err != nil {
		e.logger.Warn("Embedding precheck failed", zap.Error(err))
		return false
	}
	if len(vec) == 0 || utils.IsZero(vec) {
		e.logger.Warn("Embedding precheck returned an empty vector")
		return false
	}
	e.embedder.ResetFailures()
	return true
}

// EmbedText embeds text unless the circuit is open.
func (e *Engine) EmbedText(ctx context.Context, text string) ([]float32, bool) {
	if e.embedder == nil {
		return nil, false
	}
	if e.CircuitOpen() {
		e.logger.Warn("Embedding circuit open; request refused",
			zap.Int("continuous_failures", e.ContinuousFailures()),
			zap.Int("threshold", e.cfg.FailureThreshold))
		return nil, false
	}
	return e.embedder.GenerateEmbedding(ctx, text)
}

// EmbedTexts embeds texts unless the circuit is open. Failed slots are nil.
func (e *Engine) EmbedTexts(ctx context.Context, texts []string) ([][]float32, bool) {
	if e.embedder == nil || e.CircuitOpen() {
		return nil, false
	}
	return e.embedder.GenerateEmbeddingsBatch(ctx, texts), true
}

// EmbeddingFailures returns the failure log, most recent first.
func (e *Engine) EmbeddingFailures() []models.EmbeddingFailure {
	if e.embedder == nil {
		return nil
	}
	all := e.embedder.Failures().All()
	out := make([]models.EmbeddingFailure, 0, len(all))
	for _, f := range all {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastFailureTime.After(out[j].LastFailureTime)
	})
	return out
}
