package gateway

import (
	"sync"
	"time"

	"leverbot/internal/metrics"
)

// BreakerState represents the circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker stops calling the venue after repeated consecutive failures.
// While open, calls fail fast for the cooldown window; afterwards a single
// trial call is admitted (half-open): success closes the breaker, failure
// reopens it with a fresh window. Guarded by its own mutex, never nested
// inside the position store's lock.
type CircuitBreaker struct {
	mu                  sync.Mutex
	state               BreakerState
	threshold           int
	cooldown            time.Duration
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
	now                 func() time.Time
}

// NewCircuitBreaker creates a closed breaker that opens after threshold
// consecutive failures and stays open for cooldown.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 90 * time.Second
	}
	return &CircuitBreaker{
		state:     BreakerClosed,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. In the half-open state only one
// trial call is admitted at a time.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.setState(BreakerHalfOpen)
		cb.trialInFlight = true
		return true
	case BreakerHalfOpen:
		if cb.trialInFlight {
			return false
		}
		cb.trialInFlight = true
		return true
	}
	return false
}

// Success records a successful call.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.trialInFlight = false
	if cb.state != BreakerClosed {
		cb.setState(BreakerClosed)
	}
}

// Failure records a failed call and trips the breaker when the consecutive
// threshold is reached or a half-open trial fails.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	if cb.state == BreakerHalfOpen || cb.consecutiveFailures >= cb.threshold {
		cb.openedAt = cb.now()
		cb.trialInFlight = false
		cb.setState(BreakerOpen)
	}
}

// CancelTrial releases a half-open trial slot when the call was abandoned
// before producing a venue verdict (caller cancellation). Without it the slot
// would stay occupied and no further trial could ever run.
func (cb *CircuitBreaker) CancelTrial() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerHalfOpen {
		cb.trialInFlight = false
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// setState transitions and updates the exported gauge. Caller holds the lock.
func (cb *CircuitBreaker) setState(s BreakerState) {
	cb.state = s
	switch s {
	case BreakerClosed:
		metrics.BreakerState.Set(0)
	case BreakerHalfOpen:
		metrics.BreakerState.Set(1)
	case BreakerOpen:
		metrics.BreakerState.Set(2)
	}
}
