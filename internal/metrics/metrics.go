package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "splitsync"

var (
	once sync.Once

	drains = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drains_total",
			Help:      "Drain cycles by transport that resolved them.",
		},
		[]string{"transport"},
	)

	drainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "drain_duration_seconds",
			Help:      "Wall time of a drain cycle.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	items = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_items_total",
			Help:      "Queue items by reconciliation outcome.",
		},
		[]string{"outcome"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Unprocessed items in the local mutation queue.",
		},
	)

	bulkFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_failures_total",
			Help:      "Bulk sessions that ended without completion, by reason.",
		},
		[]string{"reason"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Fallback transport requests by endpoint and status class.",
		},
		[]string{"endpoint", "status"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(drains, drainDuration, items, queueDepth, bulkFailures, httpRequests)
	})
}

// ObserveDrain records a finished drain cycle.
func ObserveDrain(transport string, elapsed time.Duration) {
	drains.WithLabelValues(transport).Inc()
	drainDuration.Observe(elapsed.Seconds())
}

// IncItems adds n items with the given outcome (synced, retried, dropped, in_flight).
func IncItems(outcome string, n int) {
	if n <= 0 {
		return
	}
	items.WithLabelValues(outcome).Add(float64(n))
}

// SetQueueDepth reports the current number of unprocessed queue items.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// IncBulkFailure counts a bulk session that fell back.
func IncBulkFailure(reason string) {
	bulkFailures.WithLabelValues(reason).Inc()
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint, status string) {
	httpRequests.WithLabelValues(endpoint, status).Inc()
}
