// Package resilience provides the failure-isolation primitive the error
// classifier uses to stop retrying a step/category pair that keeps
// failing: a small per-key circuit breaker with closed/open/half-open
// states and a single-probe recovery check.
package resilience

import (
	"sync"
	"time"
)

// CircuitState is the breaker's current disposition.
type CircuitState int

const (
	// StateClosed allows execution; failures are counted.
	StateClosed CircuitState = iota
	// StateOpen blocks execution until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen allows exactly one probe execution to test recovery.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker gates repeated attempts at the same failing operation.
// It opens after failureThreshold consecutive failures, stays open for
// recoveryTimeout, then allows a single half-open probe: success closes
// it, failure reopens it for another recoveryTimeout.
//
// Classify keys one of these per (step_id, category) pair rather than
// sharing a single breaker across the whole engine, since a flaky
// network-dependent step shouldn't trip the breaker for an unrelated
// step that happens to fail for a different reason.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	recoveryTimeout  time.Duration

	state          CircuitState
	consecutiveFails int
	openedAt       time.Time
	probeInFlight  bool
}

// NewCircuitBreaker returns a closed breaker that opens after
// failureThreshold consecutive RecordFailure calls and reopens for
// recoveryTimeout after a failed half-open probe.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            StateClosed,
	}
}

// CanExecute reports whether the caller may attempt the guarded
// operation right now, advancing open->half-open once the recovery
// timeout has elapsed.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) < cb.recoveryTimeout {
			return false
		}
		cb.state = StateHalfOpen
		cb.probeInFlight = true
		return true
	case StateHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	default:
		return true
	}
}

// RecordSuccess closes the breaker (from any state) and resets the
// failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutiveFails = 0
	cb.probeInFlight = false
}

// RecordFailure counts a failure, opening the breaker once the
// threshold is reached (or immediately, if the failure was the
// half-open probe).
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probeInFlight = false

	if cb.state == StateHalfOpen {
		cb.open()
		return
	}

	cb.consecutiveFails++
	if cb.consecutiveFails >= cb.failureThreshold {
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = time.Now()
	cb.consecutiveFails = cb.failureThreshold
}

// State returns the breaker's current state without mutating it.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to closed, discarding any accumulated
// failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.consecutiveFails = 0
	cb.probeInFlight = false
}
