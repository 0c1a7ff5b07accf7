package detector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Detection outcomes.
const (
	outcomeDetected = "detected"
	outcomeBlurry   = "blurry"
	outcomeNone     = "none"
	outcomePending  = "engine_pending"
	outcomeDisabled = "disabled"
	outcomeError    = "error"
)

var (
	detectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idscan_detections_total",
			Help: "Frames analysed by the document detector",
		},
		[]string{"outcome"},
	)

	detectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "idscan_detection_duration_seconds",
			Help:    "Time spent detecting a document in one frame",
			Buckets: []float64{.005, .01, .025, .05, .1, .2, .4, .8},
		},
	)

	slowDetectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idscan_detection_over_budget_total",
			Help: "Detections that took longer than the frame budget",
		},
	)
)
