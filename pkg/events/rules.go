package events

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// maxClockSkew is how far an event timestamp may drift from the
// validator's clock before the timing rules flag it.
const maxClockSkew = time.Hour

// minThoughtLength is the shortest agent_thinking thought that passes
// without a warning.
const minThoughtLength = 5

// CheckFunc evaluates one rule against a validated event and returns its
// findings. The payload is the event's type-specific sub-map (possibly
// nil) and now is the validator's clock reading for this pass. A CheckFunc
// that panics is recovered by the validator and recorded as a RULE_ERROR
// without terminating the remaining rules.
type CheckFunc func(ev *ValidatedEvent, payload map[string]interface{}, now time.Time) []Finding

// Rule is one named entry in the validation catalog. A rule declares
// which event types it applies to; a nil type set marks it universal.
type Rule struct {
	name        string
	description string
	eventTypes  map[EventType]bool
	enabled     bool
	check       CheckFunc
}

// NewRule creates a rule that applies to the listed event types, or to
// every event when none are given.
func NewRule(name, description string, check CheckFunc, types ...EventType) *Rule {
	var set map[EventType]bool
	if len(types) > 0 {
		set = make(map[EventType]bool, len(types))
		for _, t := range types {
			set[t] = true
		}
	}
	return &Rule{
		name:        name,
		description: description,
		eventTypes:  set,
		enabled:     true,
		check:       check,
	}
}

// Name returns the rule identifier used in metrics and RULE_ERROR strings.
func (r *Rule) Name() string { return r.name }

// Description returns the human-readable rule description.
func (r *Rule) Description() string { return r.description }

// Enabled reports whether the rule participates in validation.
func (r *Rule) Enabled() bool { return r.enabled }

// SetEnabled toggles the rule.
func (r *Rule) SetEnabled(enabled bool) { r.enabled = enabled }

// AppliesTo reports whether the rule covers the given event type.
func (r *Rule) AppliesTo(t EventType) bool {
	if r.eventTypes == nil {
		return true
	}
	return r.eventTypes[t]
}

// DefaultRules returns the fixed catalog applied by a fresh
// EventValidator: one rule per required lifecycle type plus the universal
// timing sanity check.
func DefaultRules() []*Rule {
	return []*Rule{
		NewRule("agent_started_fields",
			"agent_started payload must carry agent_name and timestamp",
			checkAgentStarted, EventTypeAgentStarted),
		NewRule("agent_thinking_content",
			"agent_thinking payload must carry a meaningful thought",
			checkAgentThinking, EventTypeAgentThinking),
		NewRule("tool_executing_fields",
			"tool_executing payload must carry tool_name and agent_name",
			checkToolExecuting, EventTypeToolExecuting),
		NewRule("tool_completed_fields",
			"tool_completed payload must carry tool_name and an outcome",
			checkToolCompleted, EventTypeToolCompleted),
		NewRule("agent_completed_fields",
			"agent_completed payload must carry agent_name and run_id",
			checkAgentCompleted, EventTypeAgentCompleted),
		NewRule("event_timing",
			"event timestamp must be within an hour of the validator clock",
			checkEventTiming),
	}
}

func checkAgentStarted(ev *ValidatedEvent, payload map[string]interface{}, now time.Time) []Finding {
	var findings []Finding
	if stringField(payload, "agent_name") == "" {
		findings = append(findings, Finding{ResultError, "agent_started missing agent_name"})
	}
	ts, ok := floatField(payload, "timestamp")
	if !ok {
		findings = append(findings, Finding{ResultError, "agent_started missing timestamp"})
	} else if skew := now.Sub(timeFromEpoch(ts)); skew > maxClockSkew || skew < -maxClockSkew {
		findings = append(findings, Finding{ResultWarning,
			fmt.Sprintf("agent_started timestamp drifts %.0fs from current time", skew.Seconds())})
	}
	return findings
}

func checkAgentThinking(ev *ValidatedEvent, payload map[string]interface{}, now time.Time) []Finding {
	thought, ok := payload["thought"].(string)
	if payload == nil || !ok || thought == "" {
		return []Finding{{ResultError, "agent_thinking missing or invalid thought content"}}
	}
	if utf8.RuneCountInString(thought) < minThoughtLength {
		return []Finding{{ResultWarning,
			fmt.Sprintf("agent_thinking thought is suspiciously short (%d chars)", utf8.RuneCountInString(thought))}}
	}
	return nil
}

func checkToolExecuting(ev *ValidatedEvent, payload map[string]interface{}, now time.Time) []Finding {
	var findings []Finding
	if stringField(payload, "tool_name") == "" {
		findings = append(findings, Finding{ResultCritical, "tool_executing missing tool_name"})
	}
	if stringField(payload, "agent_name") == "" {
		findings = append(findings, Finding{ResultCritical, "tool_executing missing agent_name"})
	}
	return findings
}

func checkToolCompleted(ev *ValidatedEvent, payload map[string]interface{}, now time.Time) []Finding {
	var findings []Finding
	if stringField(payload, "tool_name") == "" {
		findings = append(findings, Finding{ResultCritical, "tool_completed missing tool_name"})
	}
	if payload == nil {
		findings = append(findings, Finding{ResultWarning, "tool_completed carries no result, success, or error"})
		return findings
	}
	_, hasResult := payload["result"]
	_, hasSuccess := payload["success"]
	_, hasError := payload["error"]
	if !hasResult && !hasSuccess && !hasError {
		findings = append(findings, Finding{ResultWarning, "tool_completed carries no result, success, or error"})
	}
	return findings
}

func checkAgentCompleted(ev *ValidatedEvent, payload map[string]interface{}, now time.Time) []Finding {
	var findings []Finding
	if stringField(payload, "agent_name") == "" {
		findings = append(findings, Finding{ResultCritical, "agent_completed missing agent_name"})
	}
	if stringField(payload, "run_id") == "" {
		findings = append(findings, Finding{ResultCritical, "agent_completed missing run_id"})
	}
	return findings
}

// checkEventTiming is the universal timing sanity rule. It flags clock
// drift but never forces CRITICAL on its own.
func checkEventTiming(ev *ValidatedEvent, payload map[string]interface{}, now time.Time) []Finding {
	if ev.Timestamp.IsZero() {
		return nil
	}
	skew := now.Sub(ev.Timestamp)
	if skew > maxClockSkew || skew < -maxClockSkew {
		return []Finding{{ResultWarning,
			fmt.Sprintf("event timestamp drifts %.0fs from current time", skew.Seconds())}}
	}
	return nil
}
