package events

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// SequenceConfig tunes sequence-level validation.
type SequenceConfig struct {
	// MaxEventGap is the largest tolerated gap between consecutive
	// events before a timing warning is raised.
	MaxEventGap time.Duration
	// MaxSequenceDuration is the largest tolerated wall-clock span from
	// sequence start before a timing warning is raised.
	MaxSequenceDuration time.Duration
	// CompletedRetention bounds how many finalized sequences are kept
	// for status queries. Oldest entries are evicted first.
	CompletedRetention int
}

// DefaultSequenceConfig returns the default sequence limits.
func DefaultSequenceConfig() *SequenceConfig {
	return &SequenceConfig{
		MaxEventGap:         30 * time.Second,
		MaxSequenceDuration: 300 * time.Second,
		CompletedRetention:  1024,
	}
}

// EventSequence is the per-thread aggregate of validated events, tracked
// from first event to completion. Insertion order is arrival order and is
// significant. A finalized sequence is never resurrected: a new event for
// the same thread id starts a fresh sequence.
type EventSequence struct {
	ThreadID  string
	RunID     string
	Events    []*ValidatedEvent
	StartTime time.Time
	EndTime   time.Time
	Complete  bool
	Summary   map[string]interface{}

	toolStack      []string
	toolExecutions int
	toolCompletions int
	orderFlagged   bool
	timingViolated bool
}

// EventTypes returns the ordered list of event types seen so far.
func (s *EventSequence) EventTypes() []EventType {
	out := make([]EventType, len(s.Events))
	for i, ev := range s.Events {
		out[i] = ev.Type
	}
	return out
}

// distinctTypes returns the set of distinct event types seen.
func (s *EventSequence) distinctTypes() map[EventType]bool {
	set := make(map[EventType]bool, len(s.Events))
	for _, ev := range s.Events {
		set[ev.Type] = true
	}
	return set
}

// hasAllRequired reports whether all five required lifecycle types are
// present.
func (s *EventSequence) hasAllRequired() bool {
	seen := s.distinctTypes()
	for _, t := range RequiredEventTypes() {
		if !seen[t] {
			return false
		}
	}
	return true
}

// toolsPaired reports whether tool events pair correctly at this point.
// While the sequence is incomplete, completions merely must not exceed
// executions; a finalized sequence requires the counts to match exactly.
func (s *EventSequence) toolsPaired() bool {
	if s.Complete {
		return s.strictToolsPaired()
	}
	return s.toolCompletions <= s.toolExecutions
}

// strictToolsPaired reports whether every tool execution has been matched
// by a completion.
func (s *EventSequence) strictToolsPaired() bool {
	return s.toolExecutions == s.toolCompletions && len(s.toolStack) == 0
}

// EventSequenceValidator maintains one active EventSequence per thread id
// and evaluates cross-event constraints as events arrive. All mutation of
// a thread's sequence is serialized under the validator's lock, so
// sequence numbers and order checks follow call order.
type EventSequenceValidator struct {
	validator *EventValidator
	cfg       *SequenceConfig
	active    map[string]*EventSequence
	completed *lru.Cache[string, *EventSequence]
	metrics   *EventMetrics
	log       logrus.FieldLogger
	now       func() time.Time
	mu        sync.Mutex
}

// NewEventSequenceValidator creates a sequence validator. A nil config
// uses the defaults.
func NewEventSequenceValidator(cfg *SequenceConfig, log logrus.FieldLogger) *EventSequenceValidator {
	if cfg == nil {
		cfg = DefaultSequenceConfig()
	}
	if log == nil {
		log = nopLogger()
	}
	completed, err := lru.New[string, *EventSequence](cfg.CompletedRetention)
	if err != nil {
		// Only reachable with a non-positive retention; fall back to a
		// single-slot cache rather than failing construction.
		completed, _ = lru.New[string, *EventSequence](1)
	}
	return &EventSequenceValidator{
		validator: NewEventValidator(log),
		cfg:       cfg,
		active:    make(map[string]*EventSequence),
		completed: completed,
		metrics:   NewEventMetrics(),
		log:       log,
		now:       time.Now,
	}
}

// Validator exposes the per-event validator, mainly so callers can tune
// the rule catalog.
func (v *EventSequenceValidator) Validator() *EventValidator {
	return v.validator
}

// StartSequence creates and registers a new active sequence for the
// thread. A prior active sequence for the same thread id is overwritten:
// last start wins, because thread ids are only expected to be reused
// after their prior sequence completed.
func (v *EventSequenceValidator) StartSequence(threadID, runID string) *EventSequence {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.startSequenceLocked(threadID, runID)
}

func (v *EventSequenceValidator) startSequenceLocked(threadID, runID string) *EventSequence {
	seq := &EventSequence{
		ThreadID:  threadID,
		RunID:     runID,
		StartTime: v.now(),
	}
	v.active[threadID] = seq
	v.metrics.RecordSequenceStarted()
	v.log.WithFields(logrus.Fields{
		"thread_id": threadID,
		"run_id":    runID,
	}).Debug("sequence started")
	return seq
}

// AddEventToSequence validates the event, assigns it the next 1-based
// sequence number, appends it to the thread's sequence, runs the
// sequence-level checks, and finalizes the sequence when completion
// criteria are met. A missing active sequence is created implicitly.
func (v *EventSequenceValidator) AddEventToSequence(threadID string, raw RawEvent, evctx *Context) *ValidatedEvent {
	v.mu.Lock()
	defer v.mu.Unlock()

	seq, ok := v.active[threadID]
	if !ok {
		runID := raw.RunID()
		if runID == "" && evctx != nil {
			runID = evctx.RunID
		}
		seq = v.startSequenceLocked(threadID, runID)
	}

	derived := Context{ThreadID: threadID}
	if evctx != nil {
		derived.RunID = evctx.RunID
	}
	ev := v.validator.ValidateEvent(raw, &derived)
	ev.ThreadID = threadID
	if seq.RunID == "" && ev.RunID != "" {
		seq.RunID = ev.RunID
	}

	ev.SequenceNumber = len(seq.Events) + 1
	seq.Events = append(seq.Events, ev)

	v.checkSequence(seq, ev)

	if v.isSequenceComplete(seq) {
		v.finalizeSequence(seq)
	}
	return ev
}

// checkSequence runs the cross-event constraints, mutating the freshly
// appended event in place when a violation is found.
func (v *EventSequenceValidator) checkSequence(seq *EventSequence, ev *ValidatedEvent) {
	v.checkOrder(seq, ev)
	v.checkToolPairing(seq, ev)
	v.checkTiming(seq, ev)
}

// checkOrder enforces that a sequence of two or more events began with
// agent_started, and that tool events nest as a proper stack.
func (v *EventSequenceValidator) checkOrder(seq *EventSequence, ev *ValidatedEvent) {
	if len(seq.Events) >= 2 && !seq.orderFlagged && seq.Events[0].Type != EventTypeAgentStarted {
		seq.orderFlagged = true
		ev.addFinding(ResultError, fmt.Sprintf(
			"sequence order violation: first event was %s, expected agent_started", seq.Events[0].Type))
	}

	switch ev.Type {
	case EventTypeToolExecuting:
		seq.toolExecutions++
		seq.toolStack = append(seq.toolStack, stringField(ev.Content.Payload(), "tool_name"))
	case EventTypeToolCompleted:
		seq.toolCompletions++
		if len(seq.toolStack) == 0 {
			ev.addFinding(ResultError, "tool_completed without a preceding unmatched tool_executing")
		} else {
			seq.toolStack = seq.toolStack[:len(seq.toolStack)-1]
		}
	}
}

// checkToolPairing enforces that completions never outnumber executions
// in an incomplete sequence.
func (v *EventSequenceValidator) checkToolPairing(seq *EventSequence, ev *ValidatedEvent) {
	if seq.toolCompletions > seq.toolExecutions {
		ev.addFinding(ResultError, fmt.Sprintf(
			"tool pairing violation: %d completions exceed %d executions",
			seq.toolCompletions, seq.toolExecutions))
	}
}

// checkTiming flags oversized gaps between consecutive events and
// sequences that have run too long overall. Timing violations are
// advisory warnings, never automatic escalation.
func (v *EventSequenceValidator) checkTiming(seq *EventSequence, ev *ValidatedEvent) {
	if n := len(seq.Events); n >= 2 {
		prev := seq.Events[n-2]
		if !prev.Timestamp.IsZero() && !ev.Timestamp.IsZero() {
			if gap := ev.Timestamp.Sub(prev.Timestamp); gap > v.cfg.MaxEventGap {
				seq.timingViolated = true
				ev.addFinding(ResultWarning, fmt.Sprintf(
					"gap of %dms between events %d and %d exceeds %dms",
					gap.Milliseconds(), prev.SequenceNumber, ev.SequenceNumber,
					v.cfg.MaxEventGap.Milliseconds()))
			}
		}
	}
	if elapsed := v.now().Sub(seq.StartTime); elapsed > v.cfg.MaxSequenceDuration {
		seq.timingViolated = true
		ev.addFinding(ResultWarning, fmt.Sprintf(
			"sequence running for %dms exceeds %dms",
			elapsed.Milliseconds(), v.cfg.MaxSequenceDuration.Milliseconds()))
	}
}

// isSequenceComplete applies the completion criteria: a terminating event
// plus either the full required set, or at least three distinct types
// with properly paired tools. The three-type fallback covers threads
// that legitimately skip thinking or tool usage.
func (v *EventSequenceValidator) isSequenceComplete(seq *EventSequence) bool {
	terminated := false
	for _, ev := range seq.Events {
		if ev.Type.TerminatesRun() {
			terminated = true
			break
		}
	}
	if !terminated {
		return false
	}
	if seq.hasAllRequired() {
		return true
	}
	return len(seq.distinctTypes()) >= 3 && seq.strictToolsPaired()
}

// finalizeSequence stamps the end time, computes the summary, and moves
// the sequence from the active map to the completed store. Finalized
// sequences are never resurrected.
func (v *EventSequenceValidator) finalizeSequence(seq *EventSequence) {
	seq.Complete = true
	seq.EndTime = v.now()
	seq.Summary = v.buildSummary(seq)
	v.completed.Add(seq.ThreadID, seq)
	delete(v.active, seq.ThreadID)
	v.metrics.RecordSequenceCompleted()
	v.log.WithFields(logrus.Fields{
		"thread_id":    seq.ThreadID,
		"run_id":       seq.RunID,
		"total_events": len(seq.Events),
	}).Info("sequence completed")
}

// GetSequenceStatus returns the summary for the thread's sequence,
// whether active or completed, or nil if the thread is unknown. Repeated
// calls without new events return identical summaries.
func (v *EventSequenceValidator) GetSequenceStatus(threadID string) map[string]interface{} {
	v.mu.Lock()
	defer v.mu.Unlock()

	if seq, ok := v.active[threadID]; ok {
		return v.buildSummary(seq)
	}
	if seq, ok := v.completed.Get(threadID); ok {
		return copySummary(seq.Summary)
	}
	return nil
}

// ActiveSequence returns the live sequence for a thread, or nil. Exposed
// for the framework's silent-failure detection.
func (v *EventSequenceValidator) ActiveSequence(threadID string) *EventSequence {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active[threadID]
}

// CompletedSequence returns the finalized sequence for a thread, or nil.
func (v *EventSequenceValidator) CompletedSequence(threadID string) *EventSequence {
	v.mu.Lock()
	defer v.mu.Unlock()
	if seq, ok := v.completed.Get(threadID); ok {
		return seq
	}
	return nil
}

// ActiveCount returns the number of live sequences.
func (v *EventSequenceValidator) ActiveCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.active)
}

// CompletedCount returns the number of retained finalized sequences.
func (v *EventSequenceValidator) CompletedCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.completed.Len()
}

// Metrics returns a snapshot of the sequence-level counters.
func (v *EventSequenceValidator) Metrics() MetricsSnapshot {
	return v.metrics.Snapshot()
}

// buildSummary computes the status summary for a sequence. Duration is
// zero until the sequence has ended.
func (v *EventSequenceValidator) buildSummary(seq *EventSequence) map[string]interface{} {
	resultCounts := map[string]int{
		ResultValid.String():    0,
		ResultWarning.String():  0,
		ResultError.String():    0,
		ResultCritical.String(): 0,
	}
	errorCount, warningCount := 0, 0
	types := make([]string, len(seq.Events))
	for i, ev := range seq.Events {
		types[i] = string(ev.Type)
		resultCounts[ev.Result.String()]++
		errorCount += len(ev.Errors)
		warningCount += len(ev.Warnings)
	}

	var durationMs int64
	if !seq.EndTime.IsZero() {
		durationMs = seq.EndTime.Sub(seq.StartTime).Milliseconds()
	}

	return map[string]interface{}{
		"thread_id":               seq.ThreadID,
		"run_id":                  seq.RunID,
		"total_events":            len(seq.Events),
		"event_types":             types,
		"duration_ms":             durationMs,
		"result_counts":           resultCounts,
		"error_count":             errorCount,
		"warning_count":           warningCount,
		"required_events_present": seq.hasAllRequired(),
		"sequence_complete":       seq.Complete,
		"tools_properly_paired":   seq.toolsPaired(),
		"timing_valid":            !seq.timingViolated,
	}
}

func copySummary(summary map[string]interface{}) map[string]interface{} {
	if summary == nil {
		return nil
	}
	return cloneMap(summary)
}
