package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessedTotal counts trade events by kind.
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mt5_copier_engine_events_processed_total",
			Help: "Total number of trade events processed by kind",
		},
		[]string{"kind"},
	)

	// EventProcessingDuration tracks end-to-end event handling latency.
	EventProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mt5_copier_engine_event_processing_duration_seconds",
			Help:    "Duration of trade event processing",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CopiesTotal counts copy outcomes.
	CopiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mt5_copier_engine_copies_total",
			Help: "Total number of copy attempts by outcome",
		},
		[]string{"outcome"},
	)

	// RetriesTotal counts order retries across opens and closes.
	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mt5_copier_engine_order_retries_total",
			Help: "Total number of order retries",
		},
	)

	// DegradedDroppedTotal counts live events held back while the
	// ledger is degraded after a failed reconciliation.
	DegradedDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mt5_copier_engine_degraded_dropped_total",
			Help: "Total number of live events dropped while degraded",
		},
	)

	// StaleEventsTotal counts events discarded by sequence checks.
	StaleEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mt5_copier_engine_stale_events_total",
			Help: "Total number of events discarded as stale",
		},
	)
)
