package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentwatch/eventval/pkg/events"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     [][]byte
	threads  []string
	failures int
}

func (s *fakeSender) Send(ctx context.Context, threadID string, message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("subscriber gone")
	}
	s.sent = append(s.sent, message)
	s.threads = append(s.threads, threadID)
	return nil
}

func (s *fakeSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func rawEvent(eventType events.EventType, threadID string, payload map[string]interface{}) events.RawEvent {
	return events.RawEvent{
		"type":      string(eventType),
		"thread_id": threadID,
		"timestamp": float64(time.Now().Unix()),
		"payload":   payload,
	}
}

func TestNotifier_DeliversValidEvent(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(events.NewEventValidationFramework(nil), sender, nil, nil)

	raw := rawEvent(events.EventTypeAgentStarted, "t1", map[string]interface{}{
		"agent_name": "researcher",
		"timestamp":  float64(time.Now().Unix()),
	})

	verdict, err := n.Notify(context.Background(), raw, nil)
	require.NoError(t, err)
	require.NotNil(t, verdict)
	assert.Equal(t, events.ResultValid, verdict.Result)
	assert.Equal(t, 1, sender.sentCount())
	assert.Equal(t, "t1", sender.threads[0])
}

func TestNotifier_BlocksCriticalEvent(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(events.NewEventValidationFramework(nil), sender, nil, nil)

	// tool_executing without tool_name or agent_name is CRITICAL.
	raw := rawEvent(events.EventTypeToolExecuting, "t1", map[string]interface{}{})

	verdict, err := n.Notify(context.Background(), raw, nil)
	require.ErrorIs(t, err, ErrBlocked)
	assert.Equal(t, events.ResultCritical, verdict.Result)
	assert.Equal(t, 0, sender.sentCount(), "blocked event must not reach the sender")
}

func TestNotifier_DeliversFlaggedEvent(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(events.NewEventValidationFramework(nil), sender, nil, nil)

	// Empty thought is ERROR: flagged but still delivered.
	raw := rawEvent(events.EventTypeAgentThinking, "t1", map[string]interface{}{"thought": ""})

	verdict, err := n.Notify(context.Background(), raw, nil)
	require.NoError(t, err)
	assert.Equal(t, events.ResultError, verdict.Result)
	assert.Equal(t, 1, sender.sentCount())
}

func TestNotifier_RetriesTransientFailure(t *testing.T) {
	sender := &fakeSender{failures: 2}
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	n := NewNotifier(events.NewEventValidationFramework(nil), sender, cfg, nil)

	raw := rawEvent(events.EventTypeAgentStarted, "t1", map[string]interface{}{
		"agent_name": "researcher",
		"timestamp":  float64(time.Now().Unix()),
	})

	_, err := n.Notify(context.Background(), raw, nil)
	require.NoError(t, err, "two transient failures within three attempts should recover")
	assert.Equal(t, 1, sender.sentCount())
}

func TestNotifier_ReportsExhaustedDelivery(t *testing.T) {
	sender := &fakeSender{failures: 10}
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	n := NewNotifier(events.NewEventValidationFramework(nil), sender, cfg, nil)

	raw := rawEvent(events.EventTypeAgentStarted, "t1", map[string]interface{}{
		"agent_name": "researcher",
		"timestamp":  float64(time.Now().Unix()),
	})

	verdict, err := n.Notify(context.Background(), raw, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBlocked)
	// The validation verdict survives a delivery failure.
	require.NotNil(t, verdict)
	assert.Equal(t, events.ResultValid, verdict.Result)
	assert.Equal(t, 0, sender.sentCount())
}
