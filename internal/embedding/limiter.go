package embedding

import (
	"context"
	"sync"
	"time"
)

// WindowLimiter admits at most limit requests in any rolling window. It keeps
// the admission times of the last window; callers over budget block until the
// oldest admission ages out. A non-positive limit admits everything.
type WindowLimiter struct {
	limit  int
	window time.Duration

	mu         sync.Mutex
	timestamps []time.Time // admissions within the window, oldest first
}

// NewWindowLimiter creates a limiter of limit requests per rolling window.
func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &WindowLimiter{limit: limit, window: window}
}

// NewRPMLimiter creates a limiter with a rolling one-minute window.
func NewRPMLimiter(requestsPerMinute int) *WindowLimiter {
	return NewWindowLimiter(requestsPerMinute, time.Minute)
}

// evict drops admissions at or before now-window. Caller holds l.mu.
func (l *WindowLimiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	valid := 0
	for valid < len(l.timestamps) && !l.timestamps[valid].After(cutoff) {
		valid++
	}
	if valid > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[valid:]...)
	}
}

// reserve takes a slot if one is free, otherwise returns how long until the
// oldest admission leaves the window.
func (l *WindowLimiter) reserve(now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evict(now)
	if len(l.timestamps) < l.limit {
		l.timestamps = append(l.timestamps, now)
		return true, 0
	}
	return false, l.timestamps[0].Add(l.window).Sub(now)
}

// Allow takes a slot without blocking.
func (l *WindowLimiter) Allow() bool {
	if l.limit <= 0 {
		return true
	}
	ok, _ := l.reserve(time.Now())
	return ok
}

// Wait blocks until a slot is available or ctx is done.
func (l *WindowLimiter) Wait(ctx context.Context) error {
	if l.limit <= 0 {
		return ctx.Err()
	}
	for {
		ok, wait := l.reserve(time.Now())
		if ok {
			return nil
		}
		if err := sleepContext(ctx, wait); err != nil {
			return err
		}
	}
}

// Remaining returns the number of free slots in the current rolling window.
func (l *WindowLimiter) Remaining() int {
	if l.limit <= 0 {
		return -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(time.Now())
	return l.limit - len(l.timestamps)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
