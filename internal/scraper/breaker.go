package scraper

import (
	"sync"
	"time"
)

// BreakerState is one of closed (normal), open (calls suppressed) or
// half-open (one trial call permitted).
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker bounds the request volume directed at a misbehaving
// upstream. After threshold consecutive failures the circuit opens; once the
// timeout has elapsed since the last failure a single trial call is allowed.
type CircuitBreaker struct {
	threshold int
	timeout   time.Duration

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       BreakerState
}

// NewCircuitBreaker constructs a closed breaker.
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{threshold: threshold, timeout: timeout}
}

// RecordSuccess resets the failure counter and closes the circuit from any
// state.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = StateClosed
}

// RecordFailure increments the failure counter. Reaching the threshold, or
// failing while half-open, opens the circuit and restarts the timeout.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = time.Now()
	if b.failures >= b.threshold || b.state == StateHalfOpen {
		b.state = StateOpen
	}
}

// CanProceed reports whether a call may be issued. While open it returns
// false until the timeout has elapsed since the last failure, at which point
// the circuit transitions to half-open and one trial call is permitted.
func (b *CircuitBreaker) CanProceed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	default: // open
		if time.Since(b.lastFailure) >= b.timeout {
			b.state = StateHalfOpen
			return true
		}
		return false
	}
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive-failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset returns the breaker to its initial closed state.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.lastFailure = time.Time{}
	b.state = StateClosed
}
