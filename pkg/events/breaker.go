package events

import "time"

// CircuitBreakerState is the failure-isolation state of the framework.
// The breaker cycles CLOSED -> OPEN -> HALF_OPEN -> CLOSED for the life
// of the framework instance; there is no terminal state.
type CircuitBreakerState int

const (
	BreakerClosed CircuitBreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// circuitBreaker protects full validation from cascading failures. It is
// not safe for concurrent use on its own; the framework calls it under
// its lock. The recovery timeout is evaluated lazily on the next call,
// never by a background timer.
//
// Failures accumulate across interleaved successes: a success in the
// CLOSED state decrements the count by at most one, so sustained churn
// still trips the breaker while a healthy stream drains it.
type circuitBreaker struct {
	state           CircuitBreakerState
	failureCount    int
	threshold       int
	recoveryTimeout time.Duration
	lastFailure     time.Time
}

func newCircuitBreaker(threshold int, recoveryTimeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		state:           BreakerClosed,
		threshold:       threshold,
		recoveryTimeout: recoveryTimeout,
	}
}

// allow reports whether full validation may proceed. While OPEN it checks
// whether the recovery timeout has elapsed since the last failure; if so
// the breaker moves to HALF_OPEN and the call proceeds as a probe.
func (b *circuitBreaker) allow(now time.Time) bool {
	if b.state != BreakerOpen {
		return true
	}
	if now.Sub(b.lastFailure) >= b.recoveryTimeout {
		b.state = BreakerHalfOpen
		return true
	}
	return false
}

// recordFailure registers an ERROR/CRITICAL validation outcome. A failed
// HALF_OPEN probe reopens the breaker and resets the failure clock.
func (b *circuitBreaker) recordFailure(now time.Time) {
	b.failureCount++
	b.lastFailure = now
	if b.state == BreakerHalfOpen || b.failureCount >= b.threshold {
		b.state = BreakerOpen
	}
}

// recordSuccess registers a VALID/WARNING outcome. A successful HALF_OPEN
// probe closes the breaker and clears the count; otherwise the count
// drains by one so a healthy stream recovers organically.
func (b *circuitBreaker) recordSuccess() {
	if b.state == BreakerHalfOpen {
		b.state = BreakerClosed
		b.failureCount = 0
		return
	}
	if b.failureCount > 0 {
		b.failureCount--
	}
}
