// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tripchat_websocket_connections_active",
			Help: "Current number of authenticated WebSocket connections",
		},
	)

	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripchat_websocket_connections_rejected_total",
			Help: "Handshakes refused before upgrade",
		},
		[]string{"reason"},
	)

	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripchat_events_handled_total",
			Help: "Client events processed by the gateway",
		},
		[]string{"event", "outcome"},
	)

	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripchat_messages_persisted_total",
			Help: "Messages stored, by entry point",
		},
		[]string{"source"},
	)

	BroadcastDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tripchat_broadcast_drops_total",
			Help: "Clients evicted because their outbound queue was full",
		},
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tripchat_store_latency_seconds",
			Help:    "Latency of message store and membership calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripchat_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripchat_events_published_total",
			Help: "Chat events handed to the notification publisher",
		},
		[]string{"type", "outcome"},
	)
)
