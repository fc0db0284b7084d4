// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts requests by route pattern rather than raw path
	// so identity path parameters cannot blow up cardinality.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_http_requests_total",
			Help: "HTTP requests handled, by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "report_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	SubmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "report_submissions_total",
		Help: "Reports accepted and persisted.",
	})

	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_rejections_total",
			Help: "Report submissions rejected, by pipeline stage and reason.",
		},
		[]string{"stage", "reason"},
	)
)

// RegisterBucketGauge exports the size of the in-memory rate-limit table.
func RegisterBucketGauge(size func() int) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "report_ratelimit_buckets",
		Help: "Identities currently tracked by the in-memory rate limiter.",
	}, func() float64 { return float64(size()) })
}
