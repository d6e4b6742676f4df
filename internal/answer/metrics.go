package answer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Requests counts answers by how they were produced.
	// Labels: mode (generated, fallback, extractive, empty)
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "answer",
			Name:      "requests_total",
			Help:      "Total number of answers by mode",
		},
		[]string{"mode"},
	)

	// GenerationDuration tracks model call latency.
	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "answer",
			Name:      "generation_duration_seconds",
			Help:      "Duration of answer generation calls in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)
