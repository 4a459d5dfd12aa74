package events

import (
	"fmt"
	"time"
)

// ValidatedEvent is the outcome of validating one raw event. It is
// created once per envelope, mutated only while its validation pass is
// running (individual rules, then sequence-level checks), and treated as
// immutable afterwards. Ownership passes to the EventSequence and history
// buffers that hold it.
type ValidatedEvent struct {
	EventID        string           `json:"event_id"`
	Type           EventType        `json:"event_type"`
	ThreadID       string           `json:"thread_id"`
	RunID          string           `json:"run_id,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
	Content        RawEvent         `json:"content,omitempty"`
	Result         ValidationResult `json:"validation_result"`
	Errors         []string         `json:"validation_errors,omitempty"`
	Warnings       []string         `json:"validation_warnings,omitempty"`
	LatencyMs      float64          `json:"latency_ms,omitempty"`
	SequenceNumber int              `json:"sequence_number,omitempty"`
}

// escalate raises the result to at least r. Severity is monotonic within
// a validation pass: once CRITICAL, no later rule can downgrade it.
func (e *ValidatedEvent) escalate(r ValidationResult) {
	if r > e.Result {
		e.Result = r
	}
}

// addFinding records a rule finding, formatting the message the way the
// host application's log scrapers expect ("<SEVERITY>: <description>").
func (e *ValidatedEvent) addFinding(severity ValidationResult, description string) {
	msg := fmt.Sprintf("%s: %s", severity, description)
	switch {
	case severity >= ResultError:
		e.Errors = append(e.Errors, msg)
	case severity == ResultWarning:
		e.Warnings = append(e.Warnings, msg)
	}
	e.escalate(severity)
}

// addRuleError records an internal rule failure without aborting the
// remaining rules.
func (e *ValidatedEvent) addRuleError(rule string, cause interface{}) {
	e.Errors = append(e.Errors, fmt.Sprintf("RULE_ERROR: %s failed: %v", rule, cause))
	e.escalate(ResultError)
}

// Finding is a single rule verdict: a severity and a human-readable
// description of what was violated.
type Finding struct {
	Severity    ValidationResult
	Description string
}

// Context carries caller-supplied validation context when the envelope
// itself does not identify the thread or run.
type Context struct {
	ThreadID string
	RunID    string
}
