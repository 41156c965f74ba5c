package infra

import (
	"math/rand"
	"time"
)

const (
	// Standard backoff constants
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second

	// jitterRange is the symmetric jitter applied to a computed delay.
	jitterRange = 0.3

	// minBackoff is the floor after jitter is applied.
	minBackoff = 100 * time.Millisecond
)

// CalculateBackoff returns the exponential backoff duration for a given retry
// count: baseDelay * 2^retryCount, capped at maxDelay. Negative retry counts
// return baseDelay.
func CalculateBackoff(retryCount int) time.Duration {
	return expBackoff(retryCount, baseDelay, maxDelay)
}

// BackoffWithJitter returns min(base * 2^attempt, max) with a symmetric
// random jitter of ±30%, floored at 100ms. The same policy applies to REST
// retries and realtime reconnection so failure bursts do not synchronize.
func BackoffWithJitter(attempt int, base, max time.Duration) time.Duration {
	delay := expBackoff(attempt, base, max)
	jitter := (rand.Float64()*2 - 1) * jitterRange * float64(delay)

	d := time.Duration(float64(delay) + jitter)
	if d < minBackoff {
		return minBackoff
	}
	return d
}

func expBackoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		return base
	}

	// 2^30 seconds already dwarfs any sane cap; stop shifting early
	// to avoid overflow.
	if attempt > 30 {
		return max
	}

	backoff := base * time.Duration(1<<attempt)
	if backoff > max || backoff < 0 {
		return max
	}
	return backoff
}
