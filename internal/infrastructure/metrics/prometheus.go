package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the delivery engine
type Metrics struct {
	// Delivery metrics
	DeliveriesTotal  *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec

	// Backlog metrics
	MessagesPending prometheus.Gauge
	RetryQueueDepth prometheus.Gauge

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Custom registry
	Registry *prometheus.Registry
}

// NewMetrics creates and registers all metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	// Register default collectors
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	registry.MustRegister(prometheus.NewGoCollector())

	return &Metrics{
		Registry: registry,

		DeliveriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_total",
				Help:      "Total number of delivery cycles by outcome",
			},
			[]string{"webhook", "outcome"},
		),

		DeliveryDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_duration_seconds",
				Help:      "Duration of outbound webhook requests in seconds",
				Buckets:   []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"webhook"},
		),

		MessagesPending: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "messages_pending",
				Help:      "Number of messages currently in PENDING status",
			},
		),

		RetryQueueDepth: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "retry_queue_depth",
				Help:      "Number of messages in FAILED status, with or without a scheduled retry",
			},
		),

		RequestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		RequestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
	}
}

// ObserveDelivery implements the delivery worker's metrics hook
func (m *Metrics) ObserveDelivery(webhookName, result string, duration time.Duration) {
	m.DeliveriesTotal.WithLabelValues(webhookName, result).Inc()
	if result == "delivered" && duration > 0 {
		m.DeliveryDuration.WithLabelValues(webhookName).Observe(duration.Seconds())
	}
}
