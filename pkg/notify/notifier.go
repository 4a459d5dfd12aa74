// Package notify routes outgoing agent events through the validation
// framework before delivering them to WebSocket clients. It is the glue
// between a host application's event pipeline and the validator: CRITICAL
// verdicts block the send, everything else is forwarded with the verdict
// attached to the logs.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/agentwatch/eventval/pkg/events"
)

// ErrBlocked is returned when validation produced a CRITICAL verdict and
// the event was not delivered.
var ErrBlocked = errors.New("notify: event blocked by validation")

// Sender delivers a serialized event to every client subscribed to a
// thread. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, threadID string, message []byte) error
}

// Config tunes delivery resilience.
type Config struct {
	// MaxAttempts is the number of delivery tries per event.
	MaxAttempts uint
	// RatePerSecond and Burst bound outgoing delivery throughput.
	RatePerSecond float64
	Burst         int
	// BreakerTimeout is how long the delivery breaker stays open before
	// probing the sender again.
	BreakerTimeout time.Duration
	// ConsecutiveFailures trips the delivery breaker.
	ConsecutiveFailures uint32
}

// DefaultConfig returns the default delivery tuning.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:         3,
		RatePerSecond:       100,
		Burst:               20,
		BreakerTimeout:      30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Notifier validates and delivers outgoing events. Delivery is protected
// by a circuit breaker and a rate limiter so a dead client pool cannot
// stall the host's event loop; the validation verdict is always returned
// to the caller even when delivery fails.
type Notifier struct {
	framework *events.EventValidationFramework
	sender    Sender
	cfg       *Config
	cb        *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
	log       logrus.FieldLogger
}

// NewNotifier creates a notifier in front of the given sender. A nil
// config uses the defaults.
func NewNotifier(framework *events.EventValidationFramework, sender Sender, cfg *Config, log logrus.FieldLogger) *Notifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logrus.New()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "eventval-notify",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > cfg.ConsecutiveFailures
		},
	})
	return &Notifier{
		framework: framework,
		sender:    sender,
		cfg:       cfg,
		cb:        cb,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		log:       log,
	}
}

// Notify validates the event and, unless the verdict is CRITICAL,
// delivers it to the thread's subscribers. The verdict is returned in all
// cases so callers can surface it.
func (n *Notifier) Notify(ctx context.Context, raw events.RawEvent, evctx *events.Context) (*events.ValidatedEvent, error) {
	verdict := n.framework.ValidateEvent(ctx, raw, evctx)

	entry := n.log.WithFields(logrus.Fields{
		"event_id":  verdict.EventID,
		"thread_id": verdict.ThreadID,
		"type":      string(verdict.Type),
		"result":    verdict.Result.String(),
	})

	switch {
	case verdict.Result == events.ResultCritical:
		entry.WithField("errors", verdict.Errors).Error("event blocked")
		return verdict, ErrBlocked
	case verdict.Result == events.ResultError:
		entry.WithField("errors", verdict.Errors).Warn("event flagged, delivering anyway")
	case verdict.Result == events.ResultWarning:
		entry.WithField("warnings", verdict.Warnings).Debug("event delivered with warnings")
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return verdict, fmt.Errorf("notify: rate limit wait: %w", err)
	}

	message, err := json.Marshal(raw)
	if err != nil {
		return verdict, fmt.Errorf("notify: marshal event: %w", err)
	}

	_, err = n.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(n.cfg.MaxAttempts),
		)
		return nil, r.Do(func() error {
			return n.sender.Send(ctx, verdict.ThreadID, message)
		})
	})
	if err != nil {
		entry.WithError(err).Error("delivery failed")
		return verdict, fmt.Errorf("notify: deliver: %w", err)
	}
	return verdict, nil
}
