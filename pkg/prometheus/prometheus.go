// Package prometheus reports splice record and mirror activity as
// Prometheus metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zoobzio/splice"
	"github.com/zoobzio/splice/store"
)

const namespace = "splice"

// Metrics implements splice.MetricsProvider.
type Metrics struct {
	Transitions   *prometheus.CounterVec
	BuildDuration *prometheus.HistogramVec
	Emits         *prometheus.CounterVec
	Aborts        prometheus.Counter
	Reloads       *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to
// expose them on the default handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "record",
			Name:      "state_transitions_total",
			Help:      "Record construction state transitions",
		}, []string{"from", "to"}),
		BuildDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "build_duration_seconds",
			Help:      "Merged snapshot build latency by mode and outcome",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"mode", "status"}),
		Emits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "record",
			Name:      "events_total",
			Help:      "Events delivered to record observers by type",
		}, []string{"event"}),
		Aborts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "record",
			Name:      "aborts_total",
			Help:      "Records that cancelled their observers after a path failed",
		}),
		Reloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "reloads_total",
			Help:      "Mirrored source documents by outcome",
		}, []string{"status"}),
	}
}

func (m *Metrics) OnStateChange(from, to splice.State) {
	m.Transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) OnBuildSuccess(mode string, d time.Duration) {
	m.BuildDuration.WithLabelValues(mode, "success").Observe(d.Seconds())
}

func (m *Metrics) OnBuildFailure(mode string, d time.Duration) {
	m.BuildDuration.WithLabelValues(mode, "error").Observe(d.Seconds())
}

func (m *Metrics) OnEmit(event store.EventType) {
	m.Emits.WithLabelValues(event.String()).Inc()
}

func (m *Metrics) OnAbort() {
	m.Aborts.Inc()
}

func (m *Metrics) OnSourceReload(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.Reloads.WithLabelValues(status).Inc()
}

var _ splice.MetricsProvider = (*Metrics)(nil)
