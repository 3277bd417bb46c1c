// Package metrics defines the Prometheus collectors exported by ordermon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ordermon"

// Outcome labels for OrdersProcessed.
const (
	OutcomeTransitioned = "transitioned"
	OutcomeConflict     = "conflict"
	OutcomeFailed       = "failed"
	OutcomeRetried      = "retried"
	OutcomeExhausted    = "exhausted"
	OutcomeSkipped      = "skipped"
	OutcomeHeld         = "held"
)

// Metrics holds every collector, registered on a private registry so that
// tests can create as many instances as they like.
type Metrics struct {
	Registry *prometheus.Registry

	Cycles          prometheus.Counter
	CycleDuration   prometheus.Histogram
	OrdersProcessed *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	BatchSize       prometheus.Gauge
	IntervalSeconds prometheus.Gauge
	BacklogSize     prometheus.Gauge
	CacheDegraded   prometheus.Counter

	Reconciles     prometheus.Counter
	FlagChanges    *prometheus.CounterVec
	OrdersByStatus *prometheus.GaugeVec
	ActiveUsers    prometheus.Gauge
	ActiveGroups   prometheus.Gauge

	Events *prometheus.CounterVec
}

// New creates and registers all collectors, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cycles_total",
			Help:      "Dispatch cycles run.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one dispatch cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		OrdersProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "orders_processed_total",
			Help:      "Orders handled by workers, by outcome.",
		}, []string{"outcome"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "transitions_total",
			Help:      "Committed status transitions.",
		}, []string{"from", "to"}),
		BatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "batch_size",
			Help:      "Current dispatch batch size after throttling.",
		}),
		IntervalSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "interval_seconds",
			Help:      "Current dispatch interval after throttling.",
		}),
		BacklogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "retry_backlog_size",
			Help:      "Orders waiting for retry after a transport error.",
		}),
		CacheDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cache_degraded_total",
			Help:      "Flag lookups that failed safe because the cache errored.",
		}),

		Reconciles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "reconciles_total",
			Help:      "Flag reconcile passes completed.",
		}),
		FlagChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "flag_changes_total",
			Help:      "Observed enable-flag flips.",
		}, []string{"kind", "enabled"}),
		OrdersByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "orders",
			Help:      "Orders by lifecycle status at the last snapshot.",
		}, []string{"status"}),
		ActiveUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "active_users",
			Help:      "Enabled users at the last snapshot.",
		}),
		ActiveGroups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "active_groups",
			Help:      "Enabled groups of enabled users at the last snapshot.",
		}),

		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "total",
			Help:      "Events observed by the metrics reaction, by kind.",
		}, []string{"kind"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Cycles,
		m.CycleDuration,
		m.OrdersProcessed,
		m.Transitions,
		m.BatchSize,
		m.IntervalSeconds,
		m.BacklogSize,
		m.CacheDegraded,
		m.Reconciles,
		m.FlagChanges,
		m.OrdersByStatus,
		m.ActiveUsers,
		m.ActiveGroups,
		m.Events,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
