// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Stream metrics
	EventsReceived   prometheus.Counter
	EventsDispatched prometheus.Counter
	EventsDropped    *prometheus.CounterVec
	HandlerPanics    *prometheus.CounterVec
	ConnectAttempts  *prometheus.CounterVec
	DispatchLatency  prometheus.Histogram
	Subscriptions    prometheus.Gauge

	// Snapshot (REST) metrics
	SnapshotLatency *prometheus.HistogramVec
	SnapshotErrors  *prometheus.CounterVec

	// Archive metrics
	EventsArchived prometheus.Counter
	ArchiveErrors  prometheus.Counter

	// Health metrics
	LastEventTimestamp prometheus.Gauge
	CursorTimestamp    prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered on
// the given registerer. A nil registerer uses the default one.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "movefeed"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		EventsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_received_total",
			Help:      "Total number of raw records received from the transport",
		}),
		EventsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_dispatched_total",
			Help:      "Total number of events that passed the cursor filter",
		}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_dropped_total",
			Help:      "Total number of records dropped, by reason",
		}, []string{"reason"}),
		HandlerPanics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "handler_panics_total",
			Help:      "Total number of recovered subscriber panics, by event type",
		}, []string{"event_type"}),
		ConnectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connect_attempts_total",
			Help:      "Total number of connect attempts, by result",
		}, []string{"result"}),
		DispatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "dispatch_latency_seconds",
			Help:      "Time spent normalizing, matching and invoking handlers per record",
			Buckets:   prometheus.DefBuckets,
		}),
		Subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "subscription_patterns",
			Help:      "Current number of live subscription patterns",
		}),

		SnapshotLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "request_latency_seconds",
			Help:      "Snapshot REST request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		SnapshotErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "request_errors_total",
			Help:      "Total number of snapshot REST request errors",
		}, []string{"endpoint"}),

		EventsArchived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "events_archived_total",
			Help:      "Total number of envelopes written to the archive",
		}),
		ArchiveErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "errors_total",
			Help:      "Total number of archive write errors",
		}),

		LastEventTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_event_timestamp_ms",
			Help:      "Producer timestamp of the most recently dispatched event",
		}),
		CursorTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "cursor_timestamp_ms",
			Help:      "Current resume cursor value",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
