package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the orchestrator's prometheus collectors.
type Metrics struct {
	QueriesTotal     *prometheus.CounterVec
	QuotaRejections  prometheus.Counter
	DispatchOutcomes *prometheus.CounterVec
	DispatchLatency  prometheus.Histogram
}

// NewMetrics registers the collectors with the given registerer. Pass
// prometheus.DefaultRegisterer in production; a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_queries_total",
			Help: "Queries processed, by terminal outcome.",
		}, []string{"outcome"}),
		QuotaRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_quota_rejections_total",
			Help: "Queries rejected before any work because the caller's daily allowance was spent.",
		}),
		DispatchOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_dispatch_outcomes_total",
			Help: "Per-agent dispatch outcomes.",
		}, []string{"outcome"}),
		DispatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "switchboard_dispatch_latency_seconds",
			Help:    "Latency of individual agent calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
