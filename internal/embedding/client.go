package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/embedstore/pkg/utils"
)

// Client defaults.
const (
	DefaultMaxRetries    = 3
	DefaultConcurrency   = 4
	DefaultMaxBatchDelay = 10 * time.Second
)

// Schedule is an exponential backoff schedule with jitter.
type Schedule struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the randomization factor; 0.2 spreads each interval by ±20%.
	Jitter float64
}

// Default retry schedules for rate-limited and other failures.
var (
	DefaultRateLimitSchedule = Schedule{Initial: 2 * time.Second, Max: 45 * time.Second, Multiplier: 2, Jitter: 0.2}
	DefaultTransientSchedule = Schedule{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2, Jitter: 0.2}
)

func (s Schedule) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.Initial
	b.MaxInterval = s.Max
	b.Multiplier = s.Multiplier
	b.RandomizationFactor = s.Jitter
	b.Reset()
	return b
}

// ClientConfig configures a Client. Zero values select defaults.
type ClientConfig struct {
	// Model labels metrics and logs.
	Model string
	// MaxRetries is the number of retries after the first attempt. Negative disables retries.
	MaxRetries int
	// RequestsPerMinute is the provider budget shared by all requests; 0 is unlimited.
	RequestsPerMinute int
	// Concurrency bounds in-flight requests within a sub-batch.
	Concurrency int
	// CacheSize is the LRU capacity; 0 disables caching.
	CacheSize int
	// MaxBatchDelay caps the pause between sub-batches.
	MaxBatchDelay time.Duration

	Batch             BatcherConfig
	RateLimitSchedule Schedule
	TransientSchedule Schedule
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxBatchDelay <= 0 {
		c.MaxBatchDelay = DefaultMaxBatchDelay
	}
	if c.RateLimitSchedule.Initial <= 0 {
		c.RateLimitSchedule = DefaultRateLimitSchedule
	}
	if c.TransientSchedule.Initial <= 0 {
		c.TransientSchedule = DefaultTransientSchedule
	}
	return c
}

// Client embeds text through a Provider with retry, rate limiting, adaptive
// batching, caching and failure bookkeeping. It is safe for concurrent use.
type Client struct {
	provider Provider
	cfg      ClientConfig
	limiter  *WindowLimiter
	batcher  *AdaptiveBatcher
	failures *FailureLog
	cache    *EmbeddingCache
	metrics  *Metrics
	logger   *zap.Logger

	continuous atomic.Int64
	dimension  atomic.Int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMetrics sets the metrics instruments.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithFailureLog shares an existing failure log.
func WithFailureLog(f *FailureLog) ClientOption {
	return func(c *Client) {
		c.failures = f
	}
}

// WithLimiter shares an existing rate limiter.
func WithLimiter(l *WindowLimiter) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

// NewClient creates a client for provider.
func NewClient(provider Provider, cfg ClientConfig, opts ...ClientOption) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		provider: provider,
		cfg:      cfg,
		batcher:  NewAdaptiveBatcher(cfg.Batch),
		cache:    NewEmbeddingCache(cfg.CacheSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = utils.OrNop(c.logger)
	if c.limiter == nil {
		c.limiter = NewRPMLimiter(cfg.RequestsPerMinute)
	}
	if c.failures == nil {
		c.failures = NewFailureLog()
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(c.logger)
	}
	return c
}

// Failures returns the failure log.
func (c *Client) Failures() *FailureLog {
	return c.failures
}

// Batcher returns the adaptive batcher.
func (c *Client) Batcher() *AdaptiveBatcher {
	return c.batcher
}

// ContinuousFailures returns the number of consecutive failed embeddings.
func (c *Client) ContinuousFailures() int {
	return int(c.continuous.Load())
}

// ResetFailures zeroes the continuous-failure counter.
func (c *Client) ResetFailures() {
	c.continuous.Store(0)
}

// CacheStats reports embedding cache usage.
func (c *Client) CacheStats() CacheStats {
	return c.cache.Stats()
}

// Dimension returns the length of the last embedding produced, or 0.
func (c *Client) Dimension() int {
	return int(c.dimension.Load())
}

// retrySchedule picks the rate-limit or transient schedule from the last error.
type retrySchedule struct {
	rateLimited *backoff.ExponentialBackOff
	transient   *backoff.ExponentialBackOff
	last        error
}

func (s *retrySchedule) NextBackOff() time.Duration {
	if errors.Is(s.last, ErrRateLimited) {
		return s.rateLimited.NextBackOff()
	}
	return s.transient.NextBackOff()
}

func (s *retrySchedule) Reset() {
	s.rateLimited.Reset()
	s.transient.Reset()
}

// callLatency accumulates the time spent inside provider calls, excluding
// limiter waits and backoff sleeps.
type callLatency struct {
	total atomic.Int64
	calls atomic.Int64
}

func (l *callLatency) add(d time.Duration) {
	if l == nil {
		return
	}
	l.total.Add(int64(d))
	l.calls.Add(1)
}

// average returns the mean call duration, false if no call was made.
func (l *callLatency) average() (time.Duration, bool) {
	n := l.calls.Load()
	if n == 0 {
		return 0, false
	}
	return time.Duration(l.total.Load() / n), true
}

// GenerateEmbedding embeds text, retrying up to MaxRetries times. On exhaustion
// the failure is recorded and (nil, false) is returned. A cache hit leaves the
// continuous-failure counter untouched.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, bool) {
	return c.generate(ctx, text, nil)
}

func (c *Client) generate(ctx context.Context, text string, latency *callLatency) ([]float32, bool) {
	key := utils.HashText(text)
	vec, hit := c.cache.Get(key)
	if c.cfg.CacheSize > 0 {
		c.metrics.RecordCacheLookup(ctx, c.cfg.Model, hit)
	}
	if hit {
		return vec, true
	}

	start := time.Now()
	schedule := &retrySchedule{
		rateLimited: c.cfg.RateLimitSchedule.backOff(),
		transient:   c.cfg.TransientSchedule.backOff(),
	}
	operation := func() ([]float32, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		called := time.Now()
		vec, err := c.provider.Embed(ctx, text)
		latency.add(time.Since(called))
		if err == nil && len(vec) == 0 {
			err = fmt.Errorf("%w: empty embedding", ErrTransient)
		}
		if err == nil && !utils.AllFinite(vec) {
			err = fmt.Errorf("%w: non-finite embedding", ErrTransient)
		}
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		schedule.last = err
		return vec, err
	}
	notify := func(err error, next time.Duration) {
		reason := "transient"
		if errors.Is(err, ErrRateLimited) {
			reason = "rate_limited"
		}
		c.metrics.RecordRetry(ctx, c.cfg.Model, reason)
		c.logger.Debug("Retrying embedding request",
			zap.String("reason", reason),
			zap.Duration("backoff", next),
			zap.Error(err))
	}

	vec, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(schedule),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries+1)),
		backoff.WithNotify(notify),
	)
	c.metrics.RecordGeneration(ctx, c.cfg.Model, "embed", time.Since(start), 0, err)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		failure := c.failures.Record(text, err)
		n := c.continuous.Add(1)
		c.logger.Warn("Embedding failed after retries",
			zap.String("text_hash", failure.TextHash),
			zap.Int("failure_count", failure.FailureCount),
			zap.Int64("continuous_failures", n),
			zap.Error(err))
		return nil, false
	}

	c.continuous.Store(0)
	c.dimension.Store(int64(len(vec)))
	c.cache.Set(key, vec)
	return vec, true
}

// GenerateEmbeddingsBatch embeds texts in adaptively sized sub-batches. The
// result has one slot per input; failed slots are nil.
func (c *Client) GenerateEmbeddingsBatch(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); {
		if ctx.Err() != nil {
			break
		}
		end := min(start+c.batcher.Size(), len(texts))
		began := time.Now()
		latency := &callLatency{}

		var g errgroup.Group
		g.SetLimit(c.cfg.Concurrency)
		for i := start; i < end; i++ {
			g.Go(func() error {
				if vec, ok := c.generate(ctx, texts[i], latency); ok {
					out[i] = vec
				}
				return nil
			})
		}
		_ = g.Wait()

		elapsed := time.Since(began)
		callAvg, called := latency.average()
		if called {
			c.batcher.Observe(callAvg)
		}
		c.metrics.RecordGeneration(ctx, c.cfg.Model, "batch_embed", elapsed, end-start, nil)
		c.logger.Debug("Embedded sub-batch",
			zap.Int("size", end-start),
			zap.Duration("elapsed", elapsed),
			zap.Duration("call_latency", callAvg),
			zap.Int("next_size", c.batcher.Size()))

		if end < len(texts) {
			if err := sleepContext(ctx, c.interBatchDelay(end-start)); err != nil {
				break
			}
		}
		start = end
	}
	return out
}

// interBatchDelay spaces sub-batches by the rate budget for n requests or half
// the average latency, whichever is longer, capped at MaxBatchDelay.
func (c *Client) interBatchDelay(n int) time.Duration {
	var delay time.Duration
	if rpm := c.cfg.RequestsPerMinute; rpm > 0 {
		delay = time.Minute / time.Duration(rpm) * time.Duration(n)
	}
	delay = max(delay, c.batcher.AverageLatency()/2)
	return min(delay, c.cfg.MaxBatchDelay)
}

// Probe makes a single provider request for text, bypassing the cache, retries
// and failure bookkeeping. It still counts against the rate budget.
func (c *Client) Probe(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.provider.Embed(ctx, text)
}
