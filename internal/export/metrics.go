package export

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	exportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idscan_exports_total",
			Help: "Session exports by sink and status",
		},
		[]string{"sink", "status"},
	)

	exportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idscan_export_duration_seconds",
			Help:    "Time spent exporting one session per sink",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)
)
