// Package metrics exposes Prometheus collectors for the router.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// GenerationBuckets spans fast synchronous calls up to long async jobs.
var GenerationBuckets = []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300}

var (
	// RequestsTotal counts inbound completion requests by provider and HTTP status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgrouter_requests_total",
			Help: "Inbound completion requests",
		},
		[]string{"provider", "status"},
	)

	// VendorCallsTotal counts outbound vendor operations.
	VendorCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgrouter_vendor_calls_total",
			Help: "Vendor calls",
		},
		[]string{"provider", "operation", "result"},
	)

	// VendorLatency records end-to-end adapter latency.
	VendorLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imgrouter_vendor_latency_seconds",
			Help:    "Adapter latency",
			Buckets: GenerationBuckets,
		},
		[]string{"provider"},
	)

	// PollAttemptsTotal counts individual status polls by outcome.
	PollAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgrouter_poll_attempts_total",
			Help: "Task status polls",
		},
		[]string{"outcome"},
	)

	// PoolFailoversTotal counts endpoint pool candidates that failed.
	PoolFailoversTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgrouter_pool_failovers_total",
			Help: "Failed endpoint pool candidates",
		},
		[]string{"pool"},
	)

	// ImageConversionsTotal counts transcoder conversions.
	ImageConversionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgrouter_image_conversions_total",
			Help: "Image representation conversions",
		},
		[]string{"direction", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		VendorCallsTotal,
		VendorLatency,
		PollAttemptsTotal,
		PoolFailoversTotal,
		ImageConversionsTotal,
	)
}
