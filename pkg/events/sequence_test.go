package events

import (
	"reflect"
	"testing"
	"time"
)

// lifecycleEvent builds a well-formed raw event of the given type with a
// caller-controlled timestamp.
func lifecycleEvent(eventType EventType, threadID string, ts time.Time) RawEvent {
	raw := RawEvent{
		"type":      string(eventType),
		"thread_id": threadID,
		"timestamp": float64(ts.UnixNano()) / float64(time.Second),
	}
	payload := validPayload(eventType)
	if eventType == EventTypeAgentStarted {
		payload["timestamp"] = float64(ts.Unix())
	}
	raw["payload"] = payload
	return raw
}

// feedLifecycle pushes the canonical five-event run through the validator.
func feedLifecycle(v *EventSequenceValidator, threadID string) []*ValidatedEvent {
	base := time.Now()
	var out []*ValidatedEvent
	for i, t := range RequiredEventTypes() {
		raw := lifecycleEvent(t, threadID, base.Add(time.Duration(i)*time.Second))
		out = append(out, v.AddEventToSequence(threadID, raw, nil))
	}
	return out
}

func TestSequenceValidator_CompleteLifecycle(t *testing.T) {
	v := NewEventSequenceValidator(nil, nil)
	evs := feedLifecycle(v, "thread-a")

	for _, ev := range evs {
		if ev.Result.IsFailure() {
			t.Fatalf("event %s failed: %v", ev.Type, ev.Errors)
		}
	}
	for i, ev := range evs {
		if ev.SequenceNumber != i+1 {
			t.Errorf("event %d sequence number = %d, want %d", i, ev.SequenceNumber, i+1)
		}
	}

	status := v.GetSequenceStatus("thread-a")
	if status == nil {
		t.Fatal("status is nil for completed thread")
	}
	if status["sequence_complete"] != true {
		t.Errorf("sequence_complete = %v, want true", status["sequence_complete"])
	}
	if status["required_events_present"] != true {
		t.Errorf("required_events_present = %v, want true", status["required_events_present"])
	}
	if status["tools_properly_paired"] != true {
		t.Errorf("tools_properly_paired = %v, want true", status["tools_properly_paired"])
	}
	if status["total_events"] != 5 {
		t.Errorf("total_events = %v, want 5", status["total_events"])
	}

	// Completion moves the sequence out of the active map.
	if v.ActiveCount() != 0 {
		t.Errorf("active count = %d, want 0", v.ActiveCount())
	}
	if v.CompletedCount() != 1 {
		t.Errorf("completed count = %d, want 1", v.CompletedCount())
	}
}

func TestSequenceValidator_MissingToolCompletedStaysIncomplete(t *testing.T) {
	v := NewEventSequenceValidator(nil, nil)
	base := time.Now()
	for i, typ := range []EventType{
		EventTypeAgentStarted,
		EventTypeAgentThinking,
		EventTypeToolExecuting,
		EventTypeAgentCompleted,
	} {
		v.AddEventToSequence("thread-b", lifecycleEvent(typ, "thread-b", base.Add(time.Duration(i)*time.Second)), nil)
	}

	status := v.GetSequenceStatus("thread-b")
	if status == nil {
		t.Fatal("status is nil")
	}
	// Terminated but with an unmatched tool execution: must not complete
	// and must not count toward completion metrics.
	if status["sequence_complete"] != false {
		t.Errorf("sequence_complete = %v, want false", status["sequence_complete"])
	}
	if status["required_events_present"] != false {
		t.Errorf("required_events_present = %v, want false", status["required_events_present"])
	}
	if v.ActiveCount() != 1 {
		t.Errorf("active count = %d, want 1", v.ActiveCount())
	}

	m := v.Metrics()
	if m.SequencesStarted != 1 || m.SequencesCompleted != 0 {
		t.Errorf("started/completed = %d/%d, want 1/0", m.SequencesStarted, m.SequencesCompleted)
	}
}

func TestSequenceValidator_ThreeTypeFallbackCompletes(t *testing.T) {
	// A run that legitimately skips tool usage still completes: three
	// distinct types ending in a terminator with no unmatched tools.
	v := NewEventSequenceValidator(nil, nil)
	base := time.Now()
	for i, typ := range []EventType{
		EventTypeAgentStarted,
		EventTypeAgentThinking,
		EventTypeAgentCompleted,
	} {
		v.AddEventToSequence("thread-c", lifecycleEvent(typ, "thread-c", base.Add(time.Duration(i)*time.Second)), nil)
	}

	status := v.GetSequenceStatus("thread-c")
	if status["sequence_complete"] != true {
		t.Errorf("sequence_complete = %v, want true", status["sequence_complete"])
	}
	if status["required_events_present"] != false {
		t.Errorf("required_events_present = %v, want false", status["required_events_present"])
	}
}

func TestSequenceValidator_OrderViolationFlaggedOnce(t *testing.T) {
	v := NewEventSequenceValidator(nil, nil)
	base := time.Now()

	first := v.AddEventToSequence("thread-d", lifecycleEvent(EventTypeToolExecuting, "thread-d", base), nil)
	// A lone out-of-order event is not yet a violation.
	if hasFinding(first.Errors, "sequence order violation") {
		t.Errorf("first event flagged prematurely: %v", first.Errors)
	}

	second := v.AddEventToSequence("thread-d", lifecycleEvent(EventTypeAgentStarted, "thread-d", base.Add(time.Second)), nil)
	if !hasFinding(second.Errors, "sequence order violation: first event was tool_executing") {
		t.Errorf("expected order violation on second event, got %v", second.Errors)
	}

	third := v.AddEventToSequence("thread-d", lifecycleEvent(EventTypeAgentThinking, "thread-d", base.Add(2*time.Second)), nil)
	if hasFinding(third.Errors, "sequence order violation") {
		t.Errorf("order violation reported twice: %v", third.Errors)
	}
}

func TestSequenceValidator_UnmatchedToolCompleted(t *testing.T) {
	v := NewEventSequenceValidator(nil, nil)
	base := time.Now()

	v.AddEventToSequence("thread-e", lifecycleEvent(EventTypeAgentStarted, "thread-e", base), nil)
	ev := v.AddEventToSequence("thread-e", lifecycleEvent(EventTypeToolCompleted, "thread-e", base.Add(time.Second)), nil)

	if !hasFinding(ev.Errors, "tool_completed without a preceding unmatched tool_executing") {
		t.Errorf("expected unmatched completion error, got %v", ev.Errors)
	}
	if !hasFinding(ev.Errors, "tool pairing violation") {
		t.Errorf("expected pairing violation, got %v", ev.Errors)
	}
	if ev.Result != ResultError {
		t.Errorf("result = %v, want ERROR", ev.Result)
	}
}

func TestSequenceValidator_EventGapWarning(t *testing.T) {
	v := NewEventSequenceValidator(nil, nil)
	base := time.Now()

	v.AddEventToSequence("thread-f", lifecycleEvent(EventTypeAgentStarted, "thread-f", base.Add(-45*time.Second)), nil)
	ev := v.AddEventToSequence("thread-f", lifecycleEvent(EventTypeAgentThinking, "thread-f", base), nil)

	if !hasFinding(ev.Warnings, "exceeds") {
		t.Errorf("expected gap warning, got %v", ev.Warnings)
	}
	if ev.Result != ResultWarning {
		t.Errorf("result = %v, want WARNING (timing never escalates further)", ev.Result)
	}

	status := v.GetSequenceStatus("thread-f")
	if status["timing_valid"] != false {
		t.Errorf("timing_valid = %v, want false", status["timing_valid"])
	}
}

func TestSequenceValidator_StatusIdempotent(t *testing.T) {
	v := NewEventSequenceValidator(nil, nil)
	base := time.Now()
	v.AddEventToSequence("thread-g", lifecycleEvent(EventTypeAgentStarted, "thread-g", base), nil)
	v.AddEventToSequence("thread-g", lifecycleEvent(EventTypeAgentThinking, "thread-g", base.Add(time.Second)), nil)

	first := v.GetSequenceStatus("thread-g")
	second := v.GetSequenceStatus("thread-g")
	if !reflect.DeepEqual(first, second) {
		t.Errorf("status not idempotent:\nfirst:  %v\nsecond: %v", first, second)
	}

	// Same property for a completed sequence, and the returned map must be
	// a copy the caller can scribble on.
	feedLifecycle(v, "thread-h")
	done := v.GetSequenceStatus("thread-h")
	done["total_events"] = -1
	if again := v.GetSequenceStatus("thread-h"); again["total_events"] != 5 {
		t.Errorf("completed summary shared with caller: total_events = %v", again["total_events"])
	}
}

func TestSequenceValidator_UnknownThreadStatusIsNil(t *testing.T) {
	v := NewEventSequenceValidator(nil, nil)
	if status := v.GetSequenceStatus("never-seen"); status != nil {
		t.Errorf("status = %v, want nil", status)
	}
}

func TestSequenceValidator_LastStartWins(t *testing.T) {
	v := NewEventSequenceValidator(nil, nil)
	v.StartSequence("thread-i", "run-1")
	v.StartSequence("thread-i", "run-2")

	seq := v.ActiveSequence("thread-i")
	if seq == nil || seq.RunID != "run-2" {
		t.Fatalf("active sequence run = %v, want run-2", seq)
	}
	if v.ActiveCount() != 1 {
		t.Errorf("active count = %d, want 1", v.ActiveCount())
	}
}

func TestSequenceValidator_ImplicitStart(t *testing.T) {
	v := NewEventSequenceValidator(nil, nil)
	raw := lifecycleEvent(EventTypeAgentStarted, "thread-j", time.Now())
	raw["payload"].(map[string]interface{})["run_id"] = "run-implicit"

	v.AddEventToSequence("thread-j", raw, nil)

	seq := v.ActiveSequence("thread-j")
	if seq == nil {
		t.Fatal("no sequence created implicitly")
	}
	if seq.RunID != "run-implicit" {
		t.Errorf("RunID = %q, want run-implicit", seq.RunID)
	}
	if m := v.Metrics(); m.SequencesStarted != 1 {
		t.Errorf("SequencesStarted = %d, want 1", m.SequencesStarted)
	}
}

func TestSequenceValidator_ThreadReuseAfterCompletion(t *testing.T) {
	v := NewEventSequenceValidator(nil, nil)
	feedLifecycle(v, "thread-k")

	// A new event on a completed thread starts a fresh sequence instead of
	// resurrecting the finalized one.
	ev := v.AddEventToSequence("thread-k", lifecycleEvent(EventTypeAgentStarted, "thread-k", time.Now()), nil)
	if ev.SequenceNumber != 1 {
		t.Errorf("sequence number = %d, want 1 for a fresh sequence", ev.SequenceNumber)
	}
	seq := v.ActiveSequence("thread-k")
	if seq == nil || len(seq.Events) != 1 {
		t.Fatalf("fresh active sequence not created")
	}
	if m := v.Metrics(); m.SequencesStarted != 2 {
		t.Errorf("SequencesStarted = %d, want 2", m.SequencesStarted)
	}
}

func TestSequenceValidator_CompletedRetentionEvictsOldest(t *testing.T) {
	cfg := DefaultSequenceConfig()
	cfg.CompletedRetention = 2
	v := NewEventSequenceValidator(cfg, nil)

	feedLifecycle(v, "thread-1")
	feedLifecycle(v, "thread-2")
	feedLifecycle(v, "thread-3")

	if v.CompletedCount() != 2 {
		t.Fatalf("completed count = %d, want 2", v.CompletedCount())
	}
	if v.GetSequenceStatus("thread-1") != nil {
		t.Errorf("oldest completed sequence should have been evicted")
	}
	if v.GetSequenceStatus("thread-3") == nil {
		t.Errorf("newest completed sequence missing")
	}
}
