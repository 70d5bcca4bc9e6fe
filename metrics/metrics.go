// Package metrics exposes Prometheus metrics for ingestion runs and driver
// link reconciliation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the collectors registered on one registry.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	ingestRuns        *prometheus.CounterVec
	ingestDuration    prometheus.Histogram
	pollAttempts      prometheus.Counter
	pollTransient     prometheus.Counter
	ingestInFlight    prometheus.Gauge
	reconcileRuns     *prometheus.CounterVec
	linkChanges       *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
}

var globalManager = NewManager()

// Option configures a Manager.
type Option func(*Manager)

func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = buckets
		}
	}
}

// WithRegistry registers collectors on r instead of a fresh registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "racedata",
		histogramBuckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		registry:         prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.init()
	return m
}

func (m *Manager) init() {
	auto := promauto.With(m.registry)

	m.ingestRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "ingest",
		Name:      "runs_total",
		Help:      "Ingestion runs by outcome status.",
	}, []string{"status"})

	m.ingestDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "ingest",
		Name:      "run_duration_seconds",
		Help:      "Wall time of ingestion runs that reached the job client.",
		Buckets:   m.histogramBuckets,
	})

	m.pollAttempts = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "ingest",
		Name:      "poll_attempts_total",
		Help:      "Job status polls issued.",
	})

	m.pollTransient = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "ingest",
		Name:      "poll_transient_errors_total",
		Help:      "Poll errors absorbed as transient.",
	})

	m.ingestInFlight = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "ingest",
		Name:      "runs_in_flight",
		Help:      "Ingestion runs currently executing.",
	})

	m.reconcileRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "matching",
		Name:      "reconcile_runs_total",
		Help:      "Driver link reconciliation passes by result.",
	}, []string{"result"})

	m.linkChanges = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "matching",
		Name:      "link_changes_total",
		Help:      "Driver links created or updated, by kind and resulting status.",
	}, []string{"kind", "status"})

	m.reconcileDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "matching",
		Name:      "reconcile_duration_seconds",
		Help:      "Wall time of reconciliation passes.",
		Buckets:   prometheus.DefBuckets,
	})
}

// Handler serves the manager's registry in the Prometheus text format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Manager) Registry() *prometheus.Registry { return m.registry }

func (m *Manager) RecordIngestRun(status string, seconds float64) {
	m.ingestRuns.WithLabelValues(status).Inc()
	if seconds > 0 {
		m.ingestDuration.Observe(seconds)
	}
}

func (m *Manager) RecordPoll(transient bool) {
	m.pollAttempts.Inc()
	if transient {
		m.pollTransient.Inc()
	}
}

func (m *Manager) IngestStarted()  { m.ingestInFlight.Inc() }
func (m *Manager) IngestFinished() { m.ingestInFlight.Dec() }

func (m *Manager) RecordReconcile(result string, seconds float64) {
	m.reconcileRuns.WithLabelValues(result).Inc()
	m.reconcileDuration.Observe(seconds)
}

func (m *Manager) RecordLinkChange(kind, status string) {
	m.linkChanges.WithLabelValues(kind, status).Inc()
}

// Global helpers record on the process-wide manager.

func Default() *Manager { return globalManager }

func Handler() http.Handler { return globalManager.Handler() }

func RecordIngestRun(status string, seconds float64) { globalManager.RecordIngestRun(status, seconds) }

func RecordPoll(transient bool) { globalManager.RecordPoll(transient) }

func IngestStarted() { globalManager.IngestStarted() }

func IngestFinished() { globalManager.IngestFinished() }

func RecordReconcile(result string, seconds float64) { globalManager.RecordReconcile(result, seconds) }

func RecordLinkChange(kind, status string) { globalManager.RecordLinkChange(kind, status) }
