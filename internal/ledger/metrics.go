package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// ActiveMappings tracks mappings occupying a (ticket, account) slot.
	ActiveMappings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mt5_copier_active_mappings",
		Help: "Number of active copy mappings",
	})

	// ArchivedMappings counts mappings retired to the archive.
	ArchivedMappings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mt5_copier_archived_mappings_total",
		Help: "Total number of copy mappings archived after close",
	})

	// TransitionsTotal counts state machine transitions.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mt5_copier_mapping_transitions_total",
		Help: "Total number of mapping state transitions",
	}, []string{"from", "to"})
)
