package events

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentwatch/eventval/pkg/ids"
)

// FrameworkConfig tunes the validation framework.
type FrameworkConfig struct {
	// FailureThreshold is how many accumulated ERROR/CRITICAL outcomes
	// trip the circuit breaker.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays OPEN before the next
	// call is allowed through as a HALF_OPEN probe.
	RecoveryTimeout time.Duration
	// HistoryCapacity bounds the cross-thread recent-event buffer.
	HistoryCapacity int
	// LatencySampleCap bounds the retained latency samples used for
	// percentile reporting.
	LatencySampleCap int
	// Sequence tunes the per-thread sequence checks.
	Sequence *SequenceConfig
	// Logger receives framework diagnostics. Nil discards them.
	Logger logrus.FieldLogger
}

// DefaultFrameworkConfig returns the default framework tuning.
func DefaultFrameworkConfig() *FrameworkConfig {
	return &FrameworkConfig{
		FailureThreshold: 10,
		RecoveryTimeout:  60 * time.Second,
		HistoryCapacity:  10000,
		LatencySampleCap: 1000,
		Sequence:         DefaultSequenceConfig(),
	}
}

// ValidationCallback observes validated events. Callbacks run after the
// framework has released its lock; a panicking callback is logged and
// isolated, never propagated, so one caller's callback cannot crash
// another's validation.
type ValidationCallback func(*ValidatedEvent)

// EventValidationFramework is the single entry point host applications
// call to validate lifecycle events. It wraps the sequence validator with
// failure isolation (circuit breaker), per-thread history, a cross-thread
// recent-event buffer, aggregate metrics, and callback notification.
//
// All shared state is guarded by one mutex, so events for the same thread
// are processed strictly in call order and reporting calls never observe
// a torn sequence.
type EventValidationFramework struct {
	cfg       *FrameworkConfig
	sequences *EventSequenceValidator
	history   map[string][]*ValidatedEvent
	recent    *eventRing
	metrics   *EventMetrics
	latencies []float64
	breaker   *circuitBreaker
	ids       *ids.Generator
	log       logrus.FieldLogger
	now       func() time.Time

	validationCallbacks []ValidationCallback
	errorCallbacks      []ValidationCallback

	mu sync.Mutex
}

// NewEventValidationFramework creates a framework. A nil config uses the
// defaults.
func NewEventValidationFramework(cfg *FrameworkConfig) *EventValidationFramework {
	if cfg == nil {
		cfg = DefaultFrameworkConfig()
	}
	if cfg.Sequence == nil {
		cfg.Sequence = DefaultSequenceConfig()
	}
	log := cfg.Logger
	if log == nil {
		log = nopLogger()
	}
	return &EventValidationFramework{
		cfg:       cfg,
		sequences: NewEventSequenceValidator(cfg.Sequence, log),
		history:   make(map[string][]*ValidatedEvent),
		recent:    newEventRing(cfg.HistoryCapacity),
		metrics:   NewEventMetrics(),
		breaker:   newCircuitBreaker(cfg.FailureThreshold, cfg.RecoveryTimeout),
		ids:       ids.NewGenerator(),
		log:       log,
		now:       time.Now,
	}
}

// SequenceValidator exposes the underlying sequence validator.
func (f *EventValidationFramework) SequenceValidator() *EventSequenceValidator {
	return f.sequences
}

// RegisterValidationCallback registers a callback invoked for every
// validated event regardless of outcome.
func (f *EventValidationFramework) RegisterValidationCallback(cb ValidationCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validationCallbacks = append(f.validationCallbacks, cb)
}

// RegisterErrorCallback registers a callback invoked for events whose
// result is ERROR or CRITICAL.
func (f *EventValidationFramework) RegisterErrorCallback(cb ValidationCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errorCallbacks = append(f.errorCallbacks, cb)
}

// ValidateEvent validates one raw event. It never returns an error for
// ordinary validation failures: callers inspect the returned event's
// Result. Any internal failure is recovered and converted into a
// synthetic CRITICAL event so the host's emission path stays resilient.
func (f *EventValidationFramework) ValidateEvent(ctx context.Context, raw RawEvent, evctx *Context) (ev *ValidatedEvent) {
	start := f.now()
	threadID := deriveThreadID(raw, evctx)

	defer func() {
		if rec := recover(); rec != nil {
			f.log.WithFields(logrus.Fields{
				"thread_id": threadID,
				"panic":     rec,
			}).Error("validation framework recovered from internal failure")
			ev = f.syntheticCritical(threadID, raw, rec)

			f.mu.Lock()
			f.breaker.recordFailure(f.now())
			f.metrics.RecordEvent(float64(f.now().Sub(start))/float64(time.Millisecond), true)
			errCbs := append([]ValidationCallback(nil), f.errorCallbacks...)
			valCbs := append([]ValidationCallback(nil), f.validationCallbacks...)
			f.mu.Unlock()

			f.invokeCallbacks(errCbs, ev)
			f.invokeCallbacks(valCbs, ev)
		}
	}()

	ev, errCbs, valCbs := f.validateLocked(threadID, raw, evctx, start)

	f.invokeCallbacks(errCbs, ev)
	f.invokeCallbacks(valCbs, ev)
	return ev
}

// validateLocked runs the lock-guarded portion of ValidateEvent and
// returns the callbacks to invoke afterwards. The unlock is deferred so a
// panic anywhere inside leaves the mutex released; the recovery handler
// in ValidateEvent can then take the lock safely.
func (f *EventValidationFramework) validateLocked(threadID string, raw RawEvent, evctx *Context, start time.Time) (ev *ValidatedEvent, errCbs, valCbs []ValidationCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.breaker.allow(f.now()) {
		ev = f.bypassEvent(threadID, raw)
		f.metrics.RecordDropped()
		valCbs = append([]ValidationCallback(nil), f.validationCallbacks...)
		return ev, nil, valCbs
	}

	ev = f.sequences.AddEventToSequence(threadID, raw, evctx)

	f.history[threadID] = append(f.history[threadID], ev)
	f.recent.add(ev)

	latencyMs := float64(f.now().Sub(start)) / float64(time.Millisecond)
	f.latencies = append(f.latencies, latencyMs)
	if len(f.latencies) > f.cfg.LatencySampleCap {
		f.latencies = f.latencies[len(f.latencies)-f.cfg.LatencySampleCap:]
	}

	failed := ev.Result.IsFailure()
	f.metrics.RecordEvent(latencyMs, failed)

	if failed {
		f.breaker.recordFailure(f.now())
		errCbs = append([]ValidationCallback(nil), f.errorCallbacks...)
	} else {
		f.breaker.recordSuccess()
	}
	valCbs = append([]ValidationCallback(nil), f.validationCallbacks...)
	return ev, errCbs, valCbs
}

// invokeCallbacks runs each callback with panic isolation.
func (f *EventValidationFramework) invokeCallbacks(cbs []ValidationCallback, ev *ValidatedEvent) {
	for _, cb := range cbs {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					f.log.WithFields(logrus.Fields{
						"event_id": ev.EventID,
						"panic":    rec,
					}).Error("validation callback panicked")
				}
			}()
			cb(ev)
		}()
	}
}

// bypassEvent builds the degraded result returned while the breaker is
// OPEN. Sequence state is deliberately untouched.
func (f *EventValidationFramework) bypassEvent(threadID string, raw RawEvent) *ValidatedEvent {
	ev := &ValidatedEvent{
		EventID:   f.ids.NewEventID(),
		ThreadID:  threadID,
		Timestamp: f.now(),
		Result:    ResultValid,
	}
	if raw != nil {
		ev.Type = raw.Type()
	}
	ev.addFinding(ResultWarning, "validation bypassed: circuit breaker open")
	return ev
}

// syntheticCritical converts an internal failure into the CRITICAL event
// handed back to the caller instead of a raw panic.
func (f *EventValidationFramework) syntheticCritical(threadID string, raw RawEvent, cause interface{}) *ValidatedEvent {
	ev := &ValidatedEvent{
		EventID:   f.ids.NewEventID(),
		ThreadID:  threadID,
		Timestamp: f.now(),
		Result:    ResultValid,
	}
	if raw != nil {
		ev.Type = raw.Type()
	}
	ev.addFinding(ResultCritical, fmt.Sprintf("internal validation failure: %v", cause))
	return ev
}

// DetectSilentFailures compares the event types actually seen for a
// thread against the expected set (the five required lifecycle types by
// default) and returns human-readable findings. An empty slice means the
// thread looks healthy.
func (f *EventValidationFramework) DetectSilentFailures(threadID string, expected []EventType) []string {
	if expected == nil {
		expected = RequiredEventTypes()
	}

	f.mu.Lock()
	history := append([]*ValidatedEvent(nil), f.history[threadID]...)
	activeSeq := f.sequences.ActiveSequence(threadID)
	maxGap := f.cfg.Sequence.MaxEventGap
	f.mu.Unlock()

	findings := make([]string, 0)

	seen := make(map[EventType]bool, len(history))
	for _, ev := range history {
		seen[ev.Type] = true
	}
	for _, t := range expected {
		if !seen[t] {
			findings = append(findings, fmt.Sprintf("missing expected event: %s", t))
		}
	}

	if activeSeq != nil && len(activeSeq.Events) > 0 {
		findings = append(findings, fmt.Sprintf("sequence for thread %s is incomplete", threadID))
	}

	for i := 1; i < len(history); i++ {
		prev, cur := history[i-1], history[i]
		if prev.Timestamp.IsZero() || cur.Timestamp.IsZero() {
			continue
		}
		if gap := cur.Timestamp.Sub(prev.Timestamp); gap > maxGap {
			findings = append(findings, fmt.Sprintf(
				"gap of %dms between events %d and %d exceeds %dms",
				gap.Milliseconds(), i, i+1, maxGap.Milliseconds()))
		}
	}

	return findings
}

// ReplayEvents returns the thread's history filtered by an inclusive time
// window, unmodified and in original order. Zero start or end means
// unbounded on that side. No revalidation happens.
func (f *EventValidationFramework) ReplayEvents(threadID string, start, end time.Time) []*ValidatedEvent {
	f.mu.Lock()
	history := f.history[threadID]
	out := make([]*ValidatedEvent, 0, len(history))
	for _, ev := range history {
		if !start.IsZero() && ev.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && ev.Timestamp.After(end) {
			continue
		}
		out = append(out, ev)
	}
	f.mu.Unlock()
	return out
}

// GetSequenceStatus returns the summary for the thread's sequence, or nil
// if the thread is unknown.
func (f *EventValidationFramework) GetSequenceStatus(threadID string) map[string]interface{} {
	return f.sequences.GetSequenceStatus(threadID)
}

// GenerateValidationReport returns a per-thread report when threadID is
// non-empty, or the global framework report otherwise.
func (f *EventValidationFramework) GenerateValidationReport(threadID string) map[string]interface{} {
	if threadID != "" {
		return f.threadReport(threadID)
	}
	return f.globalReport()
}

func (f *EventValidationFramework) threadReport(threadID string) map[string]interface{} {
	f.mu.Lock()
	resultCounts := map[string]int{
		ResultValid.String():    0,
		ResultWarning.String():  0,
		ResultError.String():    0,
		ResultCritical.String(): 0,
	}
	for _, ev := range f.history[threadID] {
		resultCounts[ev.Result.String()]++
	}
	total := len(f.history[threadID])
	f.mu.Unlock()

	return map[string]interface{}{
		"thread_id":       threadID,
		"total_events":    total,
		"result_counts":   resultCounts,
		"sequence_status": f.sequences.GetSequenceStatus(threadID),
		"silent_failures": f.DetectSilentFailures(threadID, nil),
	}
}

func (f *EventValidationFramework) globalReport() map[string]interface{} {
	f.mu.Lock()
	state := f.breaker.state
	failures := f.breaker.failureCount
	samples := append([]float64(nil), f.latencies...)
	recent := f.recent.len()
	f.mu.Unlock()

	metrics := f.metrics.Snapshot()
	completionRate := f.sequences.Metrics().CompletionRate
	return map[string]interface{}{
		"circuit_breaker_state": state.String(),
		"failure_count":         failures,
		"metrics":               metrics,
		"latency_p50_ms":        percentile(samples, 0.50),
		"latency_p95_ms":        percentile(samples, 0.95),
		"latency_p99_ms":        percentile(samples, 0.99),
		"active_sequences":      f.sequences.ActiveCount(),
		"completed_sequences":   f.sequences.CompletedCount(),
		"recent_events":         recent,
		"completion_rate":       completionRate,
	}
}

// Metrics returns a snapshot of the framework counters.
func (f *EventValidationFramework) Metrics() MetricsSnapshot {
	return f.metrics.Snapshot()
}

// CircuitBreakerState returns the breaker's current state.
func (f *EventValidationFramework) CircuitBreakerState() CircuitBreakerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.breaker.state
}

// RecentEvents returns the cross-thread recent-event buffer, oldest
// first.
func (f *EventValidationFramework) RecentEvents() []*ValidatedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recent.snapshot()
}

// deriveThreadID resolves the thread id from the envelope or the caller
// context, defaulting to "unknown" so malformed events still aggregate
// somewhere visible.
func deriveThreadID(raw RawEvent, evctx *Context) string {
	if raw != nil {
		if id := raw.ThreadID(); id != "" {
			return id
		}
	}
	if evctx != nil && evctx.ThreadID != "" {
		return evctx.ThreadID
	}
	return "unknown"
}

// percentile returns the pth percentile of the samples, or 0 when empty.
func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sort.Float64s(samples)
	idx := int(p * float64(len(samples)-1))
	return samples[idx]
}
