package normalizer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// EventsTotal counts normalized events by kind.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mt5_copier_normalized_events_total",
		Help: "Total number of normalized trade events",
	}, []string{"kind"})

	// DuplicatesTotal counts redelivered notifications collapsed by dedupe.
	DuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mt5_copier_duplicate_notifications_total",
		Help: "Total number of duplicate notifications dropped",
	})

	// NormalizationErrorsTotal counts malformed notifications dropped.
	NormalizationErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mt5_copier_normalization_errors_total",
		Help: "Total number of malformed notifications dropped",
	})
)
