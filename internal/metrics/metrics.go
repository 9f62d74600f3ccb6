// Package metrics defines the Prometheus instrumentation for SyncGuard.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncguard_deliveries_total",
			Help: "Total number of queued record deliveries by category and outcome.",
		},
		[]string{"category", "outcome"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncguard_retries_total",
			Help: "Total number of delivery retries by category.",
		},
		[]string{"category"},
	)

	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncguard_delivery_latency_seconds",
			Help:    "Latency of delivery attempts to the server.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncguard_queue_depth",
			Help: "Number of records currently pending delivery per category.",
		},
		[]string{"category"},
	)

	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncguard_cache_requests_total",
			Help: "Total number of intercepted requests by strategy and outcome.",
		},
		[]string{"strategy", "outcome"}, // e.g. network_first/cache_hit, cache_first/offline_fallback
	)
)

// RecordDelivery records one delivery attempt and its latency.
func RecordDelivery(category, outcome string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(category, outcome).Inc()
	DeliveryLatency.WithLabelValues(category).Observe(latency.Seconds())
}

// RecordRetry counts a record retained for retry after a failed delivery.
func RecordRetry(category string) {
	RetriesTotal.WithLabelValues(category).Inc()
}

// UpdateQueueDepth sets the pending-record gauge for a category.
func UpdateQueueDepth(category string, depth int) {
	QueueDepth.WithLabelValues(category).Set(float64(depth))
}

// RecordCacheRequest counts one intercepted request.
func RecordCacheRequest(strategy, outcome string) {
	CacheRequestsTotal.WithLabelValues(strategy, outcome).Inc()
}

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(DeliveriesTotal, RetriesTotal, DeliveryLatency, QueueDepth, CacheRequestsTotal)
}
