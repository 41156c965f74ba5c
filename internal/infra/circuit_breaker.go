package infra

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Do when the breaker rejects a call without
// invoking it. Callers must not retry locally; the cool-down governs recovery.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing, reject requests
	StateHalfOpen              // Testing recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker implements the circuit breaker pattern for fault isolation.
// Thread-safe for concurrent use. One instance guards one remote dependency.
type CircuitBreaker struct {
	name string
	mu   sync.Mutex

	state        State
	failureCount int
	successCount int
	lastFailure  time.Time

	failureThreshold int           // Consecutive failures before opening
	successThreshold int           // Consecutive successes before closing (in half-open)
	timeout          time.Duration // Cool-down before trying half-open
}

// CircuitBreakerConfig holds configuration for creating a circuit breaker.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:             cfg.Name,
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
	}
}

// Do executes fn through the breaker. When the circuit is OPEN and the
// cool-down has not elapsed, fn is not invoked and a wrapped ErrCircuitOpen
// is returned. Otherwise fn runs and its error (if any) propagates unchanged
// after the state transition is recorded; the breaker never swallows or
// rewrites the underlying error.
func (cb *CircuitBreaker) Do(fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// allow checks admission and applies the OPEN -> HALF_OPEN transition.
// The first call attempted after the cool-down is the transition trigger;
// there is no background timer.
func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return nil

	case StateOpen:
		elapsed := time.Since(cb.lastFailure)
		if elapsed >= cb.timeout {
			cb.state = StateHalfOpen
			cb.successCount = 0
			slog.Info("Circuit breaker transitioning to HALF_OPEN",
				slog.String("name", cb.name))
			return nil
		}
		remaining := cb.timeout - elapsed
		return fmt.Errorf("%w (%s until retry)", ErrCircuitOpen, remaining.Round(time.Second))

	default:
		return fmt.Errorf("%w (unknown state)", ErrCircuitOpen)
	}
}

// Allow reports whether a request would be admitted, applying the
// OPEN -> HALF_OPEN transition when the cool-down has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	return cb.allow() == nil
}

// RecordSuccess records a successful operation.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.successCount = 0
			slog.Info("Circuit breaker CLOSED (recovered)",
				slog.String("name", cb.name))
		}
	}
}

// RecordFailure records a failed operation.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.state = StateOpen
			slog.Warn("Circuit breaker OPEN (failures exceeded threshold)",
				slog.String("name", cb.name),
				slog.Int("failures", cb.failureCount))
		}

	case StateHalfOpen:
		// Any failure in half-open returns to open
		cb.state = StateOpen
		cb.successCount = 0
		slog.Warn("Circuit breaker OPEN (half-open test failed)",
			slog.String("name", cb.name))
	}
}

// BreakerState is a point-in-time view of the breaker for monitoring.
type BreakerState struct {
	Name             string  `json:"name"`
	State            string  `json:"state"`
	Failures         int     `json:"failures"`
	Successes        int     `json:"successes"`
	SecondsSinceFail float64 `json:"seconds_since_failure"` // -1 when never failed
}

// GetState returns the current state snapshot (for monitoring).
func (cb *CircuitBreaker) GetState() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	since := -1.0
	if !cb.lastFailure.IsZero() {
		since = time.Since(cb.lastFailure).Seconds()
	}

	return BreakerState{
		Name:             cb.name,
		State:            cb.state.String(),
		Failures:         cb.failureCount,
		Successes:        cb.successCount,
		SecondsSinceFail: since,
	}
}

// Reset forces the circuit breaker to closed state with counters zeroed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	slog.Info("Circuit breaker RESET", slog.String("name", cb.name))
}
