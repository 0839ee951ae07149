// Package metrics exposes the proxy's Prometheus instrumentation,
// labeled by pipeline stage rather than by source file/line: statements
// classified by kind, rewrites applied by kind, gate rejections by
// reason, pool wait time, and backend call latency.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StatementsClassified counts statements by the classifier's
	// StatementKind.
	StatementsClassified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tbproxy_statements_classified_total",
			Help: "Total statements classified, by statement kind",
		},
		[]string{"kind"},
	)

	// RewritesApplied counts successful rewrite passes by kind.
	RewritesApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tbproxy_rewrites_applied_total",
			Help: "Total rewrite passes applied, by rewrite kind",
		},
		[]string{"kind"},
	)

	// GateRejections counts statements rejected by a policy gate.
	GateRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tbproxy_gate_rejections_total",
			Help: "Total statements rejected by a policy gate, by reason",
		},
		[]string{"reason"},
	)

	// PoolWaitSeconds tracks how long callers wait to acquire a backend
	// slot.
	PoolWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tbproxy_pool_wait_seconds",
			Help:    "Time spent waiting to acquire a backend connection slot",
			Buckets: prometheus.DefBuckets,
		},
	)

	// BackendCallSeconds tracks backend round-trip latency.
	BackendCallSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tbproxy_backend_call_seconds",
			Help:    "Backend call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	once sync.Once
)

// Init registers all metrics with the default Prometheus registry.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(StatementsClassified)
		prometheus.MustRegister(RewritesApplied)
		prometheus.MustRegister(GateRejections)
		prometheus.MustRegister(PoolWaitSeconds)
		prometheus.MustRegister(BackendCallSeconds)
	})
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
