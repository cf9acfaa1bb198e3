package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// ConnectedClients tracks dashboard websocket connections.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mt5_copier_dashboard_clients",
		Help: "Number of connected dashboard websocket clients",
	})

	// MessagesTotal counts pushed frames by event name.
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mt5_copier_push_messages_total",
		Help: "Total number of frames pushed to dashboards",
	}, []string{"event"})

	// DroppedClientsTotal counts clients disconnected for being slow.
	DroppedClientsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mt5_copier_dropped_clients_total",
		Help: "Total number of dashboard clients dropped for slow consumption",
	})
)
