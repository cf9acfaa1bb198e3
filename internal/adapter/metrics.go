package adapter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// BridgeCallDuration tracks bridge order-call latency by operation.
	BridgeCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mt5_copier_bridge_call_duration_seconds",
		Help:    "Duration of bridge order calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// BridgeCallErrorsTotal tracks failed bridge calls by operation and class.
	BridgeCallErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mt5_copier_bridge_call_errors_total",
		Help: "Total number of failed bridge calls",
	}, []string{"op", "class"})

	// StreamConnected is 1 while the notification stream is up.
	StreamConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mt5_copier_stream_connected",
		Help: "Whether the bridge notification stream is connected",
	})

	// StreamNotificationsTotal counts delivered raw notifications.
	StreamNotificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mt5_copier_stream_notifications_total",
		Help: "Total number of raw notifications delivered",
	})

	// StreamDroppedTotal counts notifications dropped by backpressure.
	StreamDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mt5_copier_stream_dropped_total",
		Help: "Total number of raw notifications dropped because the consumer fell behind",
	})

	// StreamReconnectsTotal counts reconnection attempts.
	StreamReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mt5_copier_stream_reconnects_total",
		Help: "Total number of stream reconnection attempts",
	})
)
