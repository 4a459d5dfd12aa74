package events

import (
	"encoding/json"
	"time"
)

// EventType identifies an agent lifecycle event. The five required types
// form the canonical sequence every conversation thread is expected to
// emit; the extended types cover failure paths and streaming extras.
// Unrecognized type strings are preserved as opaque EventType values
// rather than rejected, so host applications can evolve their event
// vocabulary without breaking validation.
type EventType string

const (
	EventTypeAgentStarted   EventType = "agent_started"
	EventTypeAgentThinking  EventType = "agent_thinking"
	EventTypeToolExecuting  EventType = "tool_executing"
	EventTypeToolCompleted  EventType = "tool_completed"
	EventTypeAgentCompleted EventType = "agent_completed"

	// Extended lifecycle types.
	EventTypeAgentFailed   EventType = "agent_failed"
	EventTypeAgentError    EventType = "agent_error"
	EventTypeToolStarted   EventType = "tool_started"
	EventTypeFinalReport   EventType = "final_report"
	EventTypePartialResult EventType = "partial_result"
)

// RequiredEventTypes returns the five lifecycle events every complete
// thread is expected to contain, in canonical order.
func RequiredEventTypes() []EventType {
	return []EventType{
		EventTypeAgentStarted,
		EventTypeAgentThinking,
		EventTypeToolExecuting,
		EventTypeToolCompleted,
		EventTypeAgentCompleted,
	}
}

var knownEventTypes = map[EventType]bool{
	EventTypeAgentStarted:   true,
	EventTypeAgentThinking:  true,
	EventTypeToolExecuting:  true,
	EventTypeToolCompleted:  true,
	EventTypeAgentCompleted: true,
	EventTypeAgentFailed:    true,
	EventTypeAgentError:     true,
	EventTypeToolStarted:    true,
	EventTypeFinalReport:    true,
	EventTypePartialResult:  true,
}

// Known reports whether the type belongs to the recognized vocabulary.
func (t EventType) Known() bool {
	return knownEventTypes[t]
}

// Required reports whether the type is one of the five required
// lifecycle events.
func (t EventType) Required() bool {
	switch t {
	case EventTypeAgentStarted, EventTypeAgentThinking, EventTypeToolExecuting,
		EventTypeToolCompleted, EventTypeAgentCompleted:
		return true
	}
	return false
}

// TerminatesRun reports whether the type marks the end of an agent run.
func (t EventType) TerminatesRun() bool {
	return t == EventTypeAgentCompleted || t == EventTypeAgentFailed
}

// RawEvent is the semi-structured envelope handed to the framework by the
// host application. It is JSON-shaped and deliberately untyped: the
// validator probes the fields it needs and copies what it keeps, so the
// caller's map is never retained or mutated.
type RawEvent map[string]interface{}

// Type returns the event type string, or "" when absent.
func (e RawEvent) Type() EventType {
	return EventType(stringField(e, "type"))
}

// ThreadID returns the thread id carried by the envelope, or "".
func (e RawEvent) ThreadID() string {
	return stringField(e, "thread_id")
}

// MessageID returns the optional message id, or "".
func (e RawEvent) MessageID() string {
	return stringField(e, "message_id")
}

// Payload returns the type-specific payload sub-map. A missing or
// malformed payload yields nil; callers must treat it as read-only.
func (e RawEvent) Payload() map[string]interface{} {
	if p, ok := e["payload"].(map[string]interface{}); ok {
		return p
	}
	return nil
}

// RunID returns the run id, preferring the payload field over a
// top-level one.
func (e RawEvent) RunID() string {
	if id := stringField(e.Payload(), "run_id"); id != "" {
		return id
	}
	return stringField(e, "run_id")
}

// Timestamp returns the event timestamp. It accepts epoch seconds as
// float64 or int at the envelope level, falling back to the payload, and
// returns the zero time when neither is present.
func (e RawEvent) Timestamp() time.Time {
	if ts, ok := floatField(e, "timestamp"); ok {
		return timeFromEpoch(ts)
	}
	if ts, ok := floatField(e.Payload(), "timestamp"); ok {
		return timeFromEpoch(ts)
	}
	return time.Time{}
}

// Clone returns a deep copy of the envelope. Nested maps and slices are
// copied; scalar leaves are shared, which is safe because they are
// immutable values once decoded from JSON.
func (e RawEvent) Clone() RawEvent {
	if e == nil {
		return nil
	}
	return RawEvent(cloneMap(e))
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return cloneMap(val)
	case map[string]int:
		out := make(map[string]int, len(val))
		for k, n := range val {
			out[k] = n
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func floatField(m map[string]interface{}, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func timeFromEpoch(seconds float64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	sec := int64(seconds)
	nsec := int64((seconds - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}
