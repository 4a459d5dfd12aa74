package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// writeWait bounds how long a single client write may block.
const writeWait = 10 * time.Second

// Hub tracks WebSocket subscribers per thread and fans deliveries out to
// them. It implements Sender.
type Hub struct {
	log   logrus.FieldLogger
	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]bool
}

// NewHub creates an empty hub.
func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.New()
	}
	return &Hub{
		log:   log,
		conns: make(map[string]map[*websocket.Conn]bool),
	}
}

// Register subscribes a connection to a thread's events.
func (h *Hub) Register(threadID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[threadID] == nil {
		h.conns[threadID] = make(map[*websocket.Conn]bool)
	}
	h.conns[threadID][conn] = true
}

// Unregister removes a connection. The caller owns closing it.
func (h *Hub) Unregister(threadID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[threadID], conn)
	if len(h.conns[threadID]) == 0 {
		delete(h.conns, threadID)
	}
}

// Subscribers returns how many connections follow a thread.
func (h *Hub) Subscribers(threadID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[threadID])
}

// Send writes the message to every subscriber of the thread. A write
// failure drops that connection but the remaining subscribers still
// receive the message; the first failure is reported after the fan-out.
func (h *Hub) Send(ctx context.Context, threadID string, message []byte) error {
	h.mu.RLock()
	targets := make([]*websocket.Conn, 0, len(h.conns[threadID]))
	for conn := range h.conns[threadID] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	var firstErr error
	for _, conn := range targets {
		deadline := time.Now().Add(writeWait)
		if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
		_ = conn.SetWriteDeadline(deadline)
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			h.log.WithFields(logrus.Fields{
				"thread_id": threadID,
			}).WithError(err).Warn("dropping websocket subscriber")
			h.Unregister(threadID, conn)
			_ = conn.Close()
			if firstErr == nil {
				firstErr = fmt.Errorf("hub: write to subscriber: %w", err)
			}
		}
	}
	return firstErr
}
