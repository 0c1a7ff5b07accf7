package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idscan_scan_ticks_total",
			Help: "Detection polls performed by capture state machines",
		},
	)

	capturesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idscan_captures_total",
			Help: "Capture attempts by side, mode and status",
		},
		[]string{"side", "mode", "status"}, // mode: auto, forced
	)

	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idscan_sessions_total",
			Help: "Finished scan sessions by outcome",
		},
		[]string{"outcome"},
	)

	sessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "idscan_session_duration_seconds",
			Help:    "Time from starting a side until its outcome",
			Buckets: []float64{.25, .5, 1, 2, 4, 6, 8, 12, 20},
		},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "idscan_active_sessions",
			Help: "Scan sessions currently detecting",
		},
	)
)
