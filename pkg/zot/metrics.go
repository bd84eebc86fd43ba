package zot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks protocol engine activity
type Metrics struct {
	// Channel metrics
	ChannelsCreated prometheus.Counter

	// Discovery metrics
	InfoRequests    *prometheus.CounterVec // result
	FingerRequests  *prometheus.CounterVec // scheme, result
	FingerFallbacks prometheus.Counter
	FingerLatency   prometheus.Histogram

	// Import metrics
	Imports           *prometheus.CounterVec // record, action
	SignatureFailures *prometheus.CounterVec // record

	// Delivery metrics
	Deliveries       *prometheus.CounterVec // type, action
	DeliveryFailures *prometheus.CounterVec // kind
	MessagesQueued   prometheus.Counter
	MessagesPickedUp prometheus.Counter
	NotifySent       *prometheus.CounterVec // result

	// Endpoint metrics
	EndpointPosts *prometheus.CounterVec // type
}

// NewMetrics creates and registers Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	return &Metrics{
		ChannelsCreated: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "zot_channels_created_total",
			Help: "Total number of local channels created",
		}),

		InfoRequests: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "zot_info_requests_total",
			Help: "Discovery queries answered, by result",
		}, []string{"result"}),
		FingerRequests: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "zot_finger_requests_total",
			Help: "Discovery requests sent, by scheme and result",
		}, []string{"scheme", "result"}),
		FingerFallbacks: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "zot_finger_fallbacks_total",
			Help: "Discovery requests retried over plain HTTP",
		}),
		FingerLatency: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "zot_finger_latency_seconds",
			Help:    "Discovery request latency including fallback",
			Buckets: prometheus.DefBuckets,
		}),

		Imports: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "zot_imports_total",
			Help: "Imported records, by record kind and action",
		}, []string{"record", "action"}),
		SignatureFailures: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "zot_signature_failures_total",
			Help: "Signatures that failed verification, by record kind",
		}, []string{"record"}),

		Deliveries: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "zot_deliveries_total",
			Help: "Messages accepted for local delivery, by type and action",
		}, []string{"type", "action"}),
		DeliveryFailures: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "zot_delivery_failures_total",
			Help: "Messages skipped during delivery, by error kind",
		}, []string{"kind"}),
		MessagesQueued: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "zot_messages_queued_total",
			Help: "Messages queued for pickup by remote hubs",
		}),
		MessagesPickedUp: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "zot_messages_picked_up_total",
			Help: "Queued messages handed to remote hubs",
		}),
		NotifySent: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "zot_notify_sent_total",
			Help: "Notify packets sent to remote hubs, by result",
		}, []string{"result"}),

		EndpointPosts: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "zot_endpoint_posts_total",
			Help: "Callback endpoint posts, by packet type",
		}, []string{"type"}),
	}
}
