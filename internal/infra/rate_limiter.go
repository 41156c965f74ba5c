package infra

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RateLimiter bounds outbound calls to max N per rolling window of W.
// It keeps a sliding record of recent call timestamps; callers that would
// exceed the limit are delayed, never rejected. Safe for concurrent use.
type RateLimiter struct {
	mu       sync.Mutex
	maxCalls int
	period   time.Duration
	calls    []time.Time
}

// NewRateLimiter creates a sliding-window rate limiter.
// maxCalls: calls allowed per window. period: rolling window length.
func NewRateLimiter(maxCalls int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		maxCalls: maxCalls,
		period:   period,
	}
}

// Acquire blocks until a call slot is available, then records the call.
// Returns early with ctx.Err() if the context is cancelled while waiting.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := time.Now()
		r.prune(now)

		if len(r.calls) < r.maxCalls {
			r.calls = append(r.calls, now)
			r.mu.Unlock()
			return nil
		}

		// Wait until the oldest recorded call exits the window.
		wait := r.period - now.Sub(r.calls[0])
		r.mu.Unlock()

		if wait <= 0 {
			continue
		}

		slog.Debug("Rate limit reached, waiting", slog.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire records a call without blocking if a slot is available.
// Returns true if the call was admitted, false otherwise.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.prune(now)

	if len(r.calls) < r.maxCalls {
		r.calls = append(r.calls, now)
		return true
	}
	return false
}

// prune drops timestamps older than the window. Must hold the mutex.
func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.period)
	i := 0
	for i < len(r.calls) && !r.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.calls = append(r.calls[:0], r.calls[i:]...)
	}
}
