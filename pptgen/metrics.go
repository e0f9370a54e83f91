package pptgen

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Slides generated, by outcome (ok, failed)
	slidesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slidegen",
			Subsystem: "pptgen",
			Name:      "slides_total",
			Help:      "Total number of slides attempted",
		},
		[]string{"outcome"},
	)

	slideDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "slidegen",
			Subsystem: "pptgen",
			Name:      "slide_duration_seconds",
			Help:      "Time to synthesize one slide",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	outlinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slidegen",
			Subsystem: "pptgen",
			Name:      "outlines_total",
			Help:      "Outline requests by source (cached, generated, provided, failed)",
		},
		[]string{"source"},
	)

	// Repair loops that ran out of attempts, by stage
	exhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slidegen",
			Subsystem: "pptgen",
			Name:      "retries_exhausted_total",
			Help:      "Repair loops that used every attempt",
		},
		[]string{"stage"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slidegen",
			Subsystem: "pptgen",
			Name:      "runs_total",
			Help:      "Generation runs by outcome (ok, partial, aborted, failed)",
		},
		[]string{"outcome"},
	)
)
