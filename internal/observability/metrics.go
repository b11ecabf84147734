package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records store latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "messenger_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// WebSocketConnectionsTotal is the gauge of registered live connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "messenger_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketRooms is the gauge of rooms with at least one subscriber.
	WebSocketRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "messenger_websocket_rooms",
		Help: "Number of rooms with at least one connected subscriber",
	})

	// FanoutDeliveries counts events enqueued to connections by event type.
	FanoutDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_fanout_deliveries_total",
		Help: "Total number of events enqueued to live connections",
	}, []string{"event_type"})

	// IntentsTotal counts inbound live-channel intents by type and outcome.
	IntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_intents_total",
		Help: "Total inbound intents by type and outcome",
	}, []string{"intent", "outcome"})

	// WebSocketBackpressureDrops counts events dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// RecordIntent increments the intent counter. outcome is "ok" or an error code.
func RecordIntent(intent, outcome string) {
	IntentsTotal.WithLabelValues(intent, outcome).Inc()
}
