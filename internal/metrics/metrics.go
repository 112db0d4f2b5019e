// ABOUTME: Prometheus metrics for ingestion, response generation and delivery
// ABOUTME: Registered via promauto, served on /metrics by the gateway

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook metrics
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_webhooks_received_total",
			Help: "Total webhook deliveries received",
		},
		[]string{"platform", "outcome"}, // "ok", "rejected", "malformed"
	)

	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_ingested_total",
			Help: "Total inbound messages persisted",
		},
		[]string{"platform"},
	)

	// Response metrics
	RepliesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_replies_generated_total",
			Help: "Total replies generated",
		},
		[]string{"strategy"}, // "template", "agent", "pipeline"
	)

	Escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_escalations_total",
			Help: "Total conversations escalated to staff",
		},
	)

	ModelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_model_latency_seconds",
			Help:    "Model call latency",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	// Delivery metrics
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Total delivery attempts",
		},
		[]string{"platform", "outcome"}, // "sent", "retried", "dead_lettered"
	)

	DeliveryAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_delivery_attempts",
			Help:    "Attempts needed per successful delivery",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
		[]string{"platform"},
	)

	// Dashboard metrics
	DashboardConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_dashboard_connections",
			Help: "Open dashboard event streams",
		},
	)
)
