package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by CanExecute-gated calls while the breaker is
// tripped.
var ErrCircuitOpen = errors.New("circuit breaker open")

// State is the three-state breaker lifecycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// CircuitBreaker trips after a run of consecutive failures and probes
// recovery after a cooldown, gating calls to unhealthy dependencies (here:
// LLM providers and external APIs).
type CircuitBreaker struct {
	mu               sync.Mutex
	state            State
	failureThreshold int
	resetTimeout     time.Duration
	consecutiveFails int
	openedAt         time.Time
	halfOpenProbes   int
	maxHalfOpenProbes int
}

// NewCircuitBreaker builds a breaker that opens after failureThreshold
// consecutive failures and probes again after resetTimeout.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold:  failureThreshold,
		resetTimeout:      resetTimeout,
		maxHalfOpenProbes: 1,
	}
}

// CanExecute reports whether a call should be attempted, transitioning
// Open->HalfOpen once the cooldown elapses.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.resetTimeout {
			cb.state = StateHalfOpen
			cb.halfOpenProbes = 0
			return true
		}
		return false
	case StateHalfOpen:
		if cb.halfOpenProbes < cb.maxHalfOpenProbes {
			cb.halfOpenProbes++
			return true
		}
		return false
	}
	return false
}

// RecordSuccess resets the breaker to closed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFails = 0
	cb.state = StateClosed
}

// RecordFailure increments the failure streak, opening the breaker once the
// threshold is crossed.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.state = StateOpen
		cb.openedAt = time.Now()
		return
	}

	cb.consecutiveFails++
	if cb.consecutiveFails >= cb.failureThreshold {
		cb.state = StateOpen
		cb.openedAt = time.Now()
	}
}

// CurrentState reports the current breaker state (for tests and health endpoints).
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// RetryWithBreaker wraps fn in a circuit breaker gate, for use as the fn
// passed to Retry: each call checks CanExecute before running fn and
// records the outcome. It does not call Retry itself and does not read cfg.
func RetryWithBreaker(cfg *RetryConfig, cb *CircuitBreaker, fn func() error) func() error {
	return func() error {
		if !cb.CanExecute() {
			return ErrCircuitOpen
		}
		err := fn()
		if err != nil {
			cb.RecordFailure()
			return err
		}
		cb.RecordSuccess()
		return nil
	}
}
