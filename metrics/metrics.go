package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	StatusFailed    = "failed"
	StatusCompleted = "completed"
)

type Metrics struct {
	// Build-related metrics.
	BuildCount    *prometheus.CounterVec
	BuildDuration *prometheus.HistogramVec

	// Serving-related metrics.
	RequestCount      *prometheus.CounterVec
	LiveReloadClients prometheus.Gauge

	// Remote-control-related metrics.
	RemoteCallCount *prometheus.CounterVec
	MarkerWaitCount *prometheus.CounterVec
	MarkerCount     prometheus.Counter

	// Page connection breaker metrics.
	RemoteBreakerState   prometheus.Gauge
	RemoteBreakerRejects prometheus.Counter
}

// NewMetrics creates AND registers metrics. It will panic if a collector has already been registered.
// Note: we are not specifying namespace in the metrics; the provided registerer may specify a "namespace"
// using [prometheus.WrapRegistererWithPrefix].
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		// Build-related metrics.

		// Cardinality: 2 modes, 2 statuses.
		BuildCount: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "builds",
			Name:      "total",
			Help:      "The count of bundle builds, including incremental rebuilds.",
		}, []string{"mode", "status"}),
		BuildDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "builds",
			Name:      "duration_seconds",
			Help:      "The duration of bundle builds, in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"mode"}),

		// Serving-related metrics.

		// NOTE: route is bounded; every compiled asset collapses into "asset".
		RequestCount: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "requests",
			Name:      "total",
			Help:      "The count of HTTP requests served by the harness.",
		}, []string{"route", "method", "code"}),
		LiveReloadClients: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Subsystem: "livereload",
			Name:      "clients",
			Help:      "The number of connected live-reload event streams.",
		}),

		// Remote-control-related metrics.

		// Cardinality: ~10 fixture methods, 2 statuses.
		RemoteCallCount: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "remote_calls",
			Name:      "total",
			Help:      "The count of operations marshalled into the page.",
		}, []string{"method", "status"}),
		MarkerWaitCount: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "marker_waits",
			Name:      "total",
			Help:      "The count of marker-change waits.",
		}, []string{"status"}),
		MarkerCount: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Subsystem: "markers",
			Name:      "received_total",
			Help:      "The number of markers returned across all marker waits.",
		}),

		// Page connection breaker metrics.

		RemoteBreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Subsystem: "remote_breaker",
			Name:      "state",
			Help:      "The state of the page connection breaker: 0 closed, 0.5 half-open, 1 open.",
		}),
		RemoteBreakerRejects: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Subsystem: "remote_breaker",
			Name:      "rejects_total",
			Help:      "The count of operations rejected while the page connection breaker was open.",
		}),
	}
}
