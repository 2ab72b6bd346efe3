// Package metrics exposes the Prometheus instrumentation of the sync server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/domain/reconcile"
	"rollcall/internal/domain/records"
)

var _ reconcile.Observer = (*Metrics)(nil)

// Metrics owns every collector. Each instance registers into its own registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	operationsTotal  *prometheus.CounterVec
	reconcilesTotal  *prometheus.CounterVec
	reconcileLatency prometheus.Histogram
	changesReturned  prometheus.Histogram
	ledgerPruned     prometheus.Counter
	batchesPruned    prometheus.Counter
}

// New creates the collectors, including Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		}, []string{"method", "route", "status"}),

		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rollcall_http_request_duration_seconds",
			Help:    "Histogram of latencies for HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		operationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_sync_operations_total",
			Help: "Client operations by entity kind, action and outcome.",
		}, []string{"kind", "action", "outcome"}),

		reconcilesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_sync_reconciles_total",
			Help: "Reconcile calls by result.",
		}, []string{"result"}),

		reconcileLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rollcall_sync_reconcile_duration_seconds",
			Help:    "Histogram of reconcile latencies, transaction included.",
			Buckets: prometheus.DefBuckets,
		}),

		changesReturned: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rollcall_sync_changes_returned",
			Help:    "Rows returned in the change set of a successful reconcile.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),

		ledgerPruned: f.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_sync_ledger_pruned_total",
			Help: "Idempotency ledger entries removed by retention.",
		}),

		batchesPruned: f.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_sync_batches_pruned_total",
			Help: "Batch audit entries removed by retention.",
		}),
	}
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request metrics. Routes are labelled by their pattern,
// never by the raw path.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		m.httpRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// OperationApplied implements reconcile.Observer.
func (m *Metrics) OperationApplied(kind records.Kind, action reconcile.Action, outcome reconcile.Outcome) {
	m.operationsTotal.WithLabelValues(string(kind), string(action), outcome.String()).Inc()
}

// OperationReplayed implements reconcile.Observer.
func (m *Metrics) OperationReplayed(kind records.Kind, action reconcile.Action) {
	m.operationsTotal.WithLabelValues(string(kind), string(action), "replayed").Inc()
}

// ReconcileFinished implements reconcile.Observer.
func (m *Metrics) ReconcileFinished(result string, elapsed time.Duration, changes int) {
	m.reconcilesTotal.WithLabelValues(result).Inc()
	m.reconcileLatency.Observe(elapsed.Seconds())
	if result == "ok" {
		m.changesReturned.Observe(float64(changes))
	}
}

// Pruned records the entries removed by a retention pass.
func (m *Metrics) Pruned(stats reconcile.PruneStats) {
	m.ledgerPruned.Add(float64(stats.Ops))
	m.batchesPruned.Add(float64(stats.Batches))
}
