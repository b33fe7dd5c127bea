package errors

import (
	"fmt"
	"sync"
	"time"

	"oj/internal/clock"
)

// BreakerState is the circuit breaker's own tiny state machine, grounded on
// the teacher's internal/errors/circuit_breaker.go three-state design.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips after a run of consecutive adapter failures (e.g. a
// session-spawn adapter that keeps failing) and fails fast until a cooldown
// elapses. It is then half-open and lets calls through until the next
// recorded result: a success closes it, a failure re-opens it.
type CircuitBreaker struct {
	mu               sync.Mutex
	clock            clock.Clock
	failureThreshold int
	resetTimeout     time.Duration
	state            BreakerState
	consecutiveFails int
	openedAt         time.Time
}

// NewCircuitBreaker creates a breaker that opens after failureThreshold
// consecutive failures and allows a trial call after resetTimeout.
func NewCircuitBreaker(clk clock.Clock, failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		clock:            clk,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            BreakerClosed,
	}
}

// Allow reports whether a call should proceed, transitioning Open→HalfOpen
// once resetTimeout has elapsed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if b.clock.Now().Sub(b.openedAt) >= b.resetTimeout {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails = 0
	b.state = BreakerClosed
}

// RecordFailure increments the failure count, opening the breaker once the
// threshold is reached (or immediately, if the trial call in HalfOpen
// failed).
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = b.clock.Now()
		return
	}
	b.consecutiveFails++
	if b.consecutiveFails >= b.failureThreshold {
		b.state = BreakerOpen
		b.openedAt = b.clock.Now()
	}
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ErrBreakerOpen is returned by callers that check Allow() and find it
// false.
func ErrBreakerOpen(component string) error {
	return Wrap(KindAdapter, fmt.Sprintf("circuit breaker open for %s", component), nil)
}
