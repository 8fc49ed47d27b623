package embedding

import (
	"math"
	"sync"
	"time"
)

// Batch sizing defaults.
const (
	DefaultMinBatch     = 1
	DefaultMaxBatch     = 50
	DefaultInitialBatch = 10
	DefaultHighLatency  = 5 * time.Second
	DefaultLowLatency   = time.Second
	DefaultLatencyAlpha = 0.8

	shrinkFactor = 0.5
	growFactor   = 1.5
)

// BatcherConfig bounds the adaptive batch size.
type BatcherConfig struct {
	MinBatch     int
	MaxBatch     int
	InitialBatch int
	HighLatency  time.Duration
	LowLatency   time.Duration
	// Alpha is the weight of each new latency sample in the running average.
	Alpha float64
}

func (c BatcherConfig) withDefaults() BatcherConfig {
	if c.MinBatch <= 0 {
		c.MinBatch = DefaultMinBatch
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = DefaultMaxBatch
	}
	if c.MaxBatch < c.MinBatch {
		c.MaxBatch = c.MinBatch
	}
	if c.InitialBatch <= 0 {
		c.InitialBatch = DefaultInitialBatch
	}
	c.InitialBatch = min(max(c.InitialBatch, c.MinBatch), c.MaxBatch)
	if c.HighLatency <= 0 {
		c.HighLatency = DefaultHighLatency
	}
	if c.LowLatency <= 0 {
		c.LowLatency = DefaultLowLatency
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = DefaultLatencyAlpha
	}
	return c
}

// AdaptiveBatcher sizes sub-batches from an exponentially weighted average of
// observed latency: above HighLatency the size halves, below LowLatency it grows
// by half, always within [MinBatch, MaxBatch].
type AdaptiveBatcher struct {
	cfg     BatcherConfig
	size    int
	avg     float64 // seconds
	samples int
	mu      sync.Mutex
}

// NewAdaptiveBatcher creates a batcher starting at cfg.InitialBatch.
func NewAdaptiveBatcher(cfg BatcherConfig) *AdaptiveBatcher {
	cfg = cfg.withDefaults()
	return &AdaptiveBatcher{cfg: cfg, size: cfg.InitialBatch}
}

// Size returns the current sub-batch size.
func (b *AdaptiveBatcher) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// AverageLatency returns the running latency average.
func (b *AdaptiveBatcher) AverageLatency() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Duration(b.avg * float64(time.Second))
}

// Observe folds one latency sample into the average and resizes.
func (b *AdaptiveBatcher) Observe(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sample := latency.Seconds()
	if b.samples == 0 {
		b.avg = sample
	} else {
		b.avg = b.cfg.Alpha*sample + (1-b.cfg.Alpha)*b.avg
	}
	b.samples++

	switch {
	case b.avg > b.cfg.HighLatency.Seconds():
		b.size = max(int(float64(b.size)*shrinkFactor), b.cfg.MinBatch)
	case b.avg < b.cfg.LowLatency.Seconds():
		b.size = min(int(math.Ceil(float64(b.size)*growFactor)), b.cfg.MaxBatch)
	}
}
