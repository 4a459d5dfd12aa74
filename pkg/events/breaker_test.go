package events

import (
	"testing"
	"time"
)

func TestCircuitBreaker_TripAtThreshold(t *testing.T) {
	now := time.Now()
	b := newCircuitBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		b.recordFailure(now)
		if b.state != BreakerClosed {
			t.Fatalf("state = %v after %d failures, want CLOSED", b.state, i+1)
		}
	}
	b.recordFailure(now)
	if b.state != BreakerOpen {
		t.Fatalf("state = %v at threshold, want OPEN", b.state)
	}
	if b.allow(now) {
		t.Errorf("allow() = true while OPEN inside the recovery window")
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	b := newCircuitBreaker(1, 30*time.Millisecond)
	b.recordFailure(now)

	if b.allow(now.Add(10 * time.Millisecond)) {
		t.Fatalf("probe allowed before the recovery timeout")
	}
	if !b.allow(now.Add(30 * time.Millisecond)) {
		t.Fatalf("probe refused after the recovery timeout")
	}
	if b.state != BreakerHalfOpen {
		t.Fatalf("state = %v, want HALF_OPEN", b.state)
	}

	b.recordSuccess()
	if b.state != BreakerClosed || b.failureCount != 0 {
		t.Errorf("successful probe left state=%v count=%d, want CLOSED/0", b.state, b.failureCount)
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	now := time.Now()
	b := newCircuitBreaker(1, 30*time.Millisecond)
	b.recordFailure(now)

	probeTime := now.Add(30 * time.Millisecond)
	if !b.allow(probeTime) {
		t.Fatalf("probe refused")
	}
	b.recordFailure(probeTime)
	if b.state != BreakerOpen {
		t.Fatalf("state = %v after failed probe, want OPEN", b.state)
	}
	// The failure clock resets, so the next probe waits a full timeout
	// from the failed probe, not from the original trip.
	if b.allow(now.Add(45 * time.Millisecond)) {
		t.Errorf("probe allowed before the reset timeout elapsed")
	}
	if !b.allow(probeTime.Add(30 * time.Millisecond)) {
		t.Errorf("probe refused after the reset timeout")
	}
}

func TestCircuitBreaker_SuccessDrainsCount(t *testing.T) {
	now := time.Now()
	b := newCircuitBreaker(3, time.Minute)

	b.recordFailure(now)
	b.recordFailure(now)
	b.recordSuccess()
	if b.failureCount != 1 {
		t.Fatalf("failureCount = %d after drain, want 1", b.failureCount)
	}

	// The count never goes negative.
	b.recordSuccess()
	b.recordSuccess()
	if b.failureCount != 0 {
		t.Errorf("failureCount = %d, want 0", b.failureCount)
	}
}

func TestEventRing(t *testing.T) {
	r := newEventRing(3)
	if r.len() != 0 {
		t.Fatalf("fresh ring len = %d, want 0", r.len())
	}

	for i := 0; i < 5; i++ {
		r.add(&ValidatedEvent{SequenceNumber: i + 1})
	}

	if r.len() != 3 {
		t.Fatalf("len = %d after overflow, want 3", r.len())
	}
	got := r.snapshot()
	for i, want := range []int{3, 4, 5} {
		if got[i].SequenceNumber != want {
			t.Errorf("snapshot[%d] = %d, want %d", i, got[i].SequenceNumber, want)
		}
	}
}

func TestEventRing_PartialFill(t *testing.T) {
	r := newEventRing(4)
	r.add(&ValidatedEvent{SequenceNumber: 1})
	r.add(&ValidatedEvent{SequenceNumber: 2})

	got := r.snapshot()
	if len(got) != 2 || got[0].SequenceNumber != 1 || got[1].SequenceNumber != 2 {
		t.Errorf("snapshot = %v, want events 1,2 oldest first", got)
	}
}
