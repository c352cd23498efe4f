package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SaleMetrics aggregates the counters and histograms the sale node exposes.
type SaleMetrics struct {
	events   *prometheus.CounterVec
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	saleMetricsOnce sync.Once
	saleRegistry    *SaleMetrics
)

// Metrics returns the lazily-initialised sale metrics registry.
func Metrics() *SaleMetrics {
	saleMetricsOnce.Do(func() {
		saleRegistry = &SaleMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tiersale",
				Subsystem: "ledger",
				Name:      "events_total",
				Help:      "Committed ledger events segmented by event type.",
			}, []string{"type"}),
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tiersale",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tiersale",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(saleRegistry.events, saleRegistry.requests, saleRegistry.latency)
	})
	return saleRegistry
}

// CountEvent increments the committed-event counter for the given type.
func CountEvent(eventType string) {
	if eventType == "" {
		return
	}
	Metrics().events.WithLabelValues(eventType).Inc()
}

// ObserveRequest records a JSON-RPC request outcome and latency.
func ObserveRequest(method, outcome string, start time.Time) {
	m := Metrics()
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
