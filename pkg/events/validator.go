package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentwatch/eventval/pkg/ids"
)

// EventValidator applies the rule catalog to individual events. It is
// stateless per call apart from its running metrics: each ValidateEvent
// invocation derives a fresh ValidatedEvent from the raw envelope and the
// caller's context.
type EventValidator struct {
	rules   []*Rule
	metrics *EventMetrics
	ids     *ids.Generator
	log     logrus.FieldLogger
	now     func() time.Time
	mu      sync.RWMutex
}

// NewEventValidator creates a validator carrying the default rule
// catalog. A nil logger discards rule diagnostics.
func NewEventValidator(log logrus.FieldLogger) *EventValidator {
	if log == nil {
		log = nopLogger()
	}
	return &EventValidator{
		rules:   DefaultRules(),
		metrics: NewEventMetrics(),
		ids:     ids.NewGenerator(),
		log:     log,
		now:     time.Now,
	}
}

func nopLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(nullWriter{})
	return l
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

// AddRule appends a rule to the catalog.
func (v *EventValidator) AddRule(rule *Rule) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules = append(v.rules, rule)
}

// RemoveRule removes a rule by name and reports whether it was present.
func (v *EventValidator) RemoveRule(name string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, r := range v.rules {
		if r.Name() == name {
			v.rules = append(v.rules[:i], v.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Rules returns a copy of the current catalog.
func (v *EventValidator) Rules() []*Rule {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*Rule, len(v.rules))
	copy(out, v.rules)
	return out
}

// Metrics returns a snapshot of the validator's running counters.
func (v *EventValidator) Metrics() MetricsSnapshot {
	return v.metrics.Snapshot()
}

// ValidateEvent checks a single raw event against every applicable rule
// and returns the resulting ValidatedEvent. The verdict is the highest
// severity any rule triggered; a rule that panics internally is recorded
// as a RULE_ERROR and the remaining rules still run.
func (v *EventValidator) ValidateEvent(raw RawEvent, evctx *Context) *ValidatedEvent {
	start := v.now()

	ev := v.newValidatedEvent(raw, evctx)
	payload := ev.Content.Payload()

	v.mu.RLock()
	rules := make([]*Rule, len(v.rules))
	copy(rules, v.rules)
	v.mu.RUnlock()

	for _, rule := range rules {
		if !rule.Enabled() || !rule.AppliesTo(ev.Type) {
			continue
		}
		for _, finding := range v.applyRule(rule, ev, payload) {
			ev.addFinding(finding.Severity, finding.Description)
			if finding.Severity.IsFailure() {
				v.metrics.RecordRuleFailure(rule.Name())
			}
		}
	}

	ev.LatencyMs = float64(v.now().Sub(start)) / float64(time.Millisecond)
	v.metrics.RecordEvent(ev.LatencyMs, ev.Result.IsFailure())
	return ev
}

// applyRule runs one rule with panic isolation. A panicking rule must not
// crash the caller or starve the rules behind it.
func (v *EventValidator) applyRule(rule *Rule, ev *ValidatedEvent, payload map[string]interface{}) (findings []Finding) {
	defer func() {
		if rec := recover(); rec != nil {
			v.log.WithFields(logrus.Fields{
				"rule":     rule.Name(),
				"event_id": ev.EventID,
				"panic":    rec,
			}).Error("validation rule panicked")
			ev.addRuleError(rule.Name(), rec)
			v.metrics.RecordRuleFailure(rule.Name())
		}
	}()
	return rule.check(ev, payload, v.now())
}

// newValidatedEvent derives the event skeleton from the raw envelope and
// the caller context. The envelope is deep-copied so the caller's map is
// never retained.
func (v *EventValidator) newValidatedEvent(raw RawEvent, evctx *Context) *ValidatedEvent {
	ev := &ValidatedEvent{
		EventID: v.ids.NewEventID(),
		Result:  ResultValid,
	}
	if raw != nil {
		ev.Content = raw.Clone()
		ev.Type = raw.Type()
		ev.ThreadID = raw.ThreadID()
		ev.RunID = raw.RunID()
		ev.Timestamp = raw.Timestamp()
	}
	if evctx != nil {
		if ev.ThreadID == "" {
			ev.ThreadID = evctx.ThreadID
		}
		if ev.RunID == "" {
			ev.RunID = evctx.RunID
		}
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = v.now()
	}
	if raw == nil {
		ev.addFinding(ResultError, "event envelope is nil")
	} else if ev.Type == "" {
		ev.addFinding(ResultError, "event missing type field")
	}
	return ev
}
