package events

import (
	"sync"
	"time"
)

// MetricsSnapshot is a point-in-time copy of EventMetrics, safe to hand
// to reporting callers and to serialize.
type MetricsSnapshot struct {
	TotalEvents        int64            `json:"total_events"`
	SuccessfulEvents   int64            `json:"successful_events"`
	FailedEvents       int64            `json:"failed_events"`
	DroppedEvents      int64            `json:"dropped_events"`
	MinLatencyMs       float64          `json:"min_latency_ms"`
	MaxLatencyMs       float64          `json:"max_latency_ms"`
	AvgLatencyMs       float64          `json:"avg_latency_ms"`
	EventsPerSecond    float64          `json:"events_per_second"`
	RuleFailures       map[string]int64 `json:"rule_failures"`
	SequencesStarted   int64            `json:"sequences_started"`
	SequencesCompleted int64            `json:"sequences_completed"`
	CompletionRate     float64          `json:"completion_rate"`
}

// EventMetrics aggregates validation counters. One instance is owned by
// each EventValidator and by the framework itself; they are never reset
// except through explicit administrative action.
type EventMetrics struct {
	totalEvents        int64
	successfulEvents   int64
	failedEvents       int64
	droppedEvents      int64
	minLatencyMs       float64
	maxLatencyMs       float64
	avgLatencyMs       float64
	eventsPerSecond    float64
	ruleFailures       map[string]int64
	sequencesStarted   int64
	sequencesCompleted int64

	startTime time.Time
	mu        sync.Mutex
}

// NewEventMetrics creates an empty metrics aggregate.
func NewEventMetrics() *EventMetrics {
	return &EventMetrics{
		ruleFailures: make(map[string]int64),
		startTime:    time.Now(),
	}
}

// RecordEvent records one validation outcome and its processing latency.
func (m *EventMetrics) RecordEvent(latencyMs float64, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalEvents++
	if failed {
		m.failedEvents++
	} else {
		m.successfulEvents++
	}

	if m.totalEvents == 1 || latencyMs < m.minLatencyMs {
		m.minLatencyMs = latencyMs
	}
	if latencyMs > m.maxLatencyMs {
		m.maxLatencyMs = latencyMs
	}
	// Running average, no sample list needed here.
	m.avgLatencyMs += (latencyMs - m.avgLatencyMs) / float64(m.totalEvents)

	if elapsed := time.Since(m.startTime).Seconds(); elapsed > 0 {
		m.eventsPerSecond = float64(m.totalEvents) / elapsed
	}
}

// RecordDropped counts an event that bypassed validation.
func (m *EventMetrics) RecordDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.droppedEvents++
}

// RecordRuleFailure counts a failure attributed to a named rule.
func (m *EventMetrics) RecordRuleFailure(rule string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ruleFailures[rule]++
}

// RecordSequenceStarted counts a newly registered sequence.
func (m *EventMetrics) RecordSequenceStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequencesStarted++
}

// RecordSequenceCompleted counts a finalized sequence.
func (m *EventMetrics) RecordSequenceCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequencesCompleted++
}

// Snapshot returns a copy of the current counters.
func (m *EventMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := MetricsSnapshot{
		TotalEvents:        m.totalEvents,
		SuccessfulEvents:   m.successfulEvents,
		FailedEvents:       m.failedEvents,
		DroppedEvents:      m.droppedEvents,
		MinLatencyMs:       m.minLatencyMs,
		MaxLatencyMs:       m.maxLatencyMs,
		AvgLatencyMs:       m.avgLatencyMs,
		EventsPerSecond:    m.eventsPerSecond,
		SequencesStarted:   m.sequencesStarted,
		SequencesCompleted: m.sequencesCompleted,
		RuleFailures:       make(map[string]int64, len(m.ruleFailures)),
	}
	for k, v := range m.ruleFailures {
		out.RuleFailures[k] = v
	}
	if m.sequencesStarted > 0 {
		out.CompletionRate = float64(m.sequencesCompleted) / float64(m.sequencesStarted)
	}
	return out
}
