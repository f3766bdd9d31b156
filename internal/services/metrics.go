package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// broadcastRuns counts orchestrator runs by kind (refresh, send, test,
	// delete) and outcome (ok, partial, error, busy, skipped, already_sent).
	broadcastRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_runs_total",
			Help: "Telegram broadcast runs by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// broadcastItems counts per-listing steps of the daily refresh.
	broadcastItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_items_total",
			Help: "Daily refresh items by phase (delete, send) and outcome (ok, error).",
		},
		[]string{"phase", "outcome"},
	)

	broadcastRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broadcast_run_duration_seconds",
			Help:    "Duration of broadcast runs in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(broadcastRuns, broadcastItems, broadcastRunDuration)
}
