package pool

import (
	"sync/atomic"
	"time"
)

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerOpen
	CircuitBreakerHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitBreakerClosed:
		return "closed"
	case CircuitBreakerOpen:
		return "open"
	case CircuitBreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops leasing connections to an instance that keeps failing.
type CircuitBreaker struct {
	state           atomic.Int32 // CircuitBreakerState
	failures        atomic.Int64
	lastFailureTime atomic.Int64 // UnixNano
	threshold       int
	timeout         time.Duration
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		timeout:   timeout,
	}
}

// CanExecute checks if the circuit breaker allows execution. An open breaker
// lets one probe through as half-open once the timeout has passed.
func (cb *CircuitBreaker) CanExecute() bool {
	switch CircuitBreakerState(cb.state.Load()) {
	case CircuitBreakerClosed, CircuitBreakerHalfOpen:
		return true
	case CircuitBreakerOpen:
		if time.Since(time.Unix(0, cb.lastFailureTime.Load())) > cb.timeout {
			return cb.state.CompareAndSwap(int32(CircuitBreakerOpen), int32(CircuitBreakerHalfOpen))
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful operation.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.failures.Store(0)
	cb.state.Store(int32(CircuitBreakerClosed))
}

// RecordFailure records a failed operation and reports whether it tripped
// the breaker open.
func (cb *CircuitBreaker) RecordFailure() bool {
	failures := cb.failures.Add(1)
	cb.lastFailureTime.Store(time.Now().UnixNano())

	if failures >= int64(cb.threshold) {
		return cb.state.Swap(int32(CircuitBreakerOpen)) != int32(CircuitBreakerOpen)
	}
	return false
}

// GetState returns the current circuit breaker state.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	return CircuitBreakerState(cb.state.Load())
}

// GetFailures returns the current failure count.
func (cb *CircuitBreaker) GetFailures() int64 {
	return cb.failures.Load()
}
