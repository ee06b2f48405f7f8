package progress

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProgressOps tracks store mutations by backend and resulting status
	ProgressOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "descgen_progress_operations_total",
			Help: "Total number of progress store mutations",
		},
		[]string{"backend", "status"}, // "pending", "processed", "failed", "reset"
	)

	// ProgressErrors tracks store operation errors
	ProgressErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "descgen_progress_errors_total",
			Help: "Total number of progress store errors",
		},
		[]string{"backend", "operation"},
	)

	// ProgressWriteSeconds tracks the durable write latency per mutation
	ProgressWriteSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "descgen_progress_write_seconds",
			Help:    "Time spent persisting a progress mutation",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"backend"},
	)
)
