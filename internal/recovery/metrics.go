package recovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconciliationsTotal counts reconciliation passes.
	ReconciliationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mt5_copier_recovery_reconciliations_total",
			Help: "Total number of reconciliation passes started",
		},
	)

	// ReconciliationFailuresTotal counts passes that failed to snapshot.
	ReconciliationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mt5_copier_recovery_failures_total",
			Help: "Total number of reconciliation passes that failed",
		},
	)

	// ReconciliationDuration tracks successful pass duration.
	ReconciliationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mt5_copier_recovery_duration_seconds",
			Help:    "Duration of successful reconciliation passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SyntheticEventsTotal counts replayed events by kind.
	SyntheticEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mt5_copier_recovery_synthetic_events_total",
			Help: "Total number of synthetic events generated by kind",
		},
		[]string{"kind"},
	)
)
