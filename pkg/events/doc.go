// Package events implements runtime validation for agent lifecycle
// events flowing through a multi-user chat backend.
//
// Every conversation thread is expected to emit five lifecycle events in
// order: agent_started, agent_thinking, tool_executing, tool_completed,
// and agent_completed. The package validates each event's payload against
// a fixed rule catalog, tracks per-thread sequences with ordering, tool
// pairing, and timing checks, and aggregates metrics across all threads.
//
// # Layers
//
//   - EventValidator applies per-event rules and produces a
//     ValidatedEvent with an ordered severity verdict
//     (VALID < WARNING < ERROR < CRITICAL).
//   - EventSequenceValidator maintains one EventSequence per thread and
//     evaluates cross-event constraints as events arrive.
//   - EventValidationFramework is the single entry point hosts call. It
//     adds a circuit breaker for cascading-failure protection, event
//     history and replay, metrics aggregation, and callback
//     notification.
//
// # Basic usage
//
//	fw := events.NewEventValidationFramework(nil)
//	verdict := fw.ValidateEvent(ctx, events.RawEvent{
//		"type":      "agent_started",
//		"thread_id": "thread-1",
//		"timestamp": float64(time.Now().Unix()),
//		"payload": map[string]interface{}{
//			"agent_name": "researcher",
//			"timestamp":  float64(time.Now().Unix()),
//		},
//	}, nil)
//	if verdict.Result >= events.ResultCritical {
//		// block or alarm
//	}
//
// ValidateEvent never returns an error for ordinary validation failures
// and never panics: internal failures are converted into synthetic
// CRITICAL events so the host's emission path stays resilient.
package events
