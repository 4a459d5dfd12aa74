package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/agentwatch/eventval/pkg/events"
)

// Metrics exposes validation activity to Prometheus.
type Metrics struct {
	EventsTotal        *prometheus.CounterVec
	ValidationLatency  prometheus.Histogram
	BreakerState       prometheus.Gauge
	ActiveSequences    prometheus.Gauge
	CompletedSequences prometheus.Gauge
}

// NewMetrics registers the collectors with reg. A nil registerer gets a
// private registry so library users can stay unplugged.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Metrics{
		EventsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "eventval_events_total",
			Help: "Validated events by result.",
		}, []string{"result"}),

		ValidationLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "eventval_validation_duration_seconds",
			Help:    "Histogram of per-event validation latency.",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}),

		BreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "eventval_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}),

		ActiveSequences: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "eventval_active_sequences",
			Help: "Number of live per-thread sequences.",
		}),

		CompletedSequences: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "eventval_completed_sequences",
			Help: "Number of retained finalized sequences.",
		}),
	}
}

// Instrument hooks the collectors into the framework's callback stream.
func (m *Metrics) Instrument(fw *events.EventValidationFramework) {
	fw.RegisterValidationCallback(func(ev *events.ValidatedEvent) {
		m.EventsTotal.WithLabelValues(ev.Result.String()).Inc()
		m.ValidationLatency.Observe(ev.LatencyMs / 1000)

		switch fw.CircuitBreakerState() {
		case events.BreakerClosed:
			m.BreakerState.Set(0)
		case events.BreakerOpen:
			m.BreakerState.Set(1)
		case events.BreakerHalfOpen:
			m.BreakerState.Set(2)
		}

		seq := fw.SequenceValidator()
		m.ActiveSequences.Set(float64(seq.ActiveCount()))
		m.CompletedSequences.Set(float64(seq.CompletedCount()))
	})
}
