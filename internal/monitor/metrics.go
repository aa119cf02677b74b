package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the executor service.
type Metrics struct {
	Registry *prometheus.Registry

	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	EventsTotal      *prometheus.CounterVec
	LastOutcome      *prometheus.GaugeVec
	DiscardedBytes   prometheus.Counter
	ScriptSizeBytes  prometheus.Histogram
	AuditDropped     prometheus.Counter
	RequestsInFlight prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "executor",
				Name:      "runs_total",
				Help:      "Total number of script runs by status.",
			},
			[]string{"status"},
		),

		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "executor",
				Name:      "run_duration_seconds",
				Help:      "Duration of script runs in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),

		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "executor",
				Name:      "events_total",
				Help:      "Total evaluation events by outcome and sub-kind.",
			},
			[]string{"outcome", "sub_kind"},
		),

		LastOutcome: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "executor",
				Name:      "last_outcome",
				Help:      "1 for the outcome of the most recent event, 0 for the others.",
			},
			[]string{"outcome"},
		),

		DiscardedBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "executor",
				Name:      "discarded_bytes_total",
				Help:      "Bytes of incomplete trailing fragments dropped from scripts.",
			},
		),

		ScriptSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "executor",
				Name:      "script_size_bytes",
				Help:      "Size of executed scripts in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),

		AuditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "executor",
				Subsystem: "audit",
				Name:      "dropped_total",
				Help:      "Audit records dropped because the buffer was full.",
			},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "executor",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),
	}

	// Register all collectors
	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.EventsTotal,
		m.LastOutcome,
		m.DiscardedBytes,
		m.ScriptSizeBytes,
		m.AuditDropped,
		m.RequestsInFlight,
	)

	return m
}

// RecordRun records metrics for a finished run.
func (m *Metrics) RecordRun(status string, durationSec float64) {
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(durationSec)
}

// RecordEvent counts one classified event and moves the last-outcome gauge.
func (m *Metrics) RecordEvent(outcome, subKind string) {
	m.EventsTotal.WithLabelValues(outcome, subKind).Inc()
	for _, o := range []string{"success", "warning", "failure"} {
		v := 0.0
		if o == outcome {
			v = 1
		}
		m.LastOutcome.WithLabelValues(o).Set(v)
	}
}
