package embedding

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/hyperjump/embedstore/pkg/utils"
)

const instrumentationName = "github.com/hyperjump/embedstore/internal/embedding"

// Metrics holds the embedding client instruments. Instruments that fail to
// register are left nil and skipped.
type Metrics struct {
	meter     metric.Meter
	logger    *zap.Logger
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
	retries   metric.Int64Counter
	lookups   metric.Int64Counter
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return NewMetricsWithMeter(otel.Meter(instrumentationName), logger)
}

// NewMetricsWithMeter creates instruments on the given meter.
func NewMetricsWithMeter(meter metric.Meter, logger *zap.Logger) *Metrics {
	m := &Metrics{
		meter:  meter,
		logger: utils.OrNop(logger),
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"embedstore.embedding.request_duration_seconds",
		metric.WithDescription("Duration of embedding requests in seconds, labeled by model and operation (embed, batch_embed)"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = m.meter.Int64Histogram(
		"embedstore.embedding.batch_size",
		metric.WithDescription("Number of texts per adaptive sub-batch"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100),
	)
	if err != nil {
		m.logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"embedstore.embedding.errors_total",
		metric.WithDescription("Embedding requests that failed after exhausting retries"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}

	m.retries, err = m.meter.Int64Counter(
		"embedstore.embedding.retries_total",
		metric.WithDescription("Embedding request retries by reason (rate_limited, transient)"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		m.logger.Warn("failed to create retries counter", zap.Error(err))
	}

	m.lookups, err = m.meter.Int64Counter(
		"embedstore.embedding.cache_lookups_total",
		metric.WithDescription("Embedding cache lookups by result (hit, miss)"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		m.logger.Warn("failed to create cache lookups counter", zap.Error(err))
	}
}

// RecordGeneration records one embedding operation.
func (m *Metrics) RecordGeneration(ctx context.Context, model, operation string, duration time.Duration, batchSize int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
	)
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if batchSize > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batchSize), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// RecordRetry counts one retry.
func (m *Metrics) RecordRetry(ctx context.Context, model, reason string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("reason", reason),
	))
}

// RecordCacheLookup counts one cache lookup.
func (m *Metrics) RecordCacheLookup(ctx context.Context, model string, hit bool) {
	if m == nil || m.lookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("result", result),
	))
}
