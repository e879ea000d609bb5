package scanner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bagwatch"

var (
	favoritesErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "favorites_errors_total",
			Help:      "Failed attempts to fetch a favorites page",
		},
	)

	itemAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "item_available",
			Help:      "Items available per listing as of the last cycle",
		},
		[]string{"item_id", "display_name"},
	)

	itemNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "notifications_total",
			Help:      "Availability events dispatched per listing",
		},
		[]string{"item_id", "display_name"},
	)

	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one scan cycle",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	lastCycleTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last scan cycle finished",
		},
	)
)

func recordCycle(start, end time.Time) {
	cycleDuration.Observe(end.Sub(start).Seconds())
	lastCycleTimestamp.Set(float64(end.Unix()))
}
