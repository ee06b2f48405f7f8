package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "descgen_items_total",
		Help: "Items finished, by terminal status",
	}, []string{"status"})

	itemDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "descgen_item_duration_seconds",
		Help:    "End-to-end processing time per item",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	stageFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "descgen_stage_failures_total",
		Help: "Failures by pipeline stage",
	}, []string{"stage"})

	localesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "descgen_locales_total",
		Help: "Locale outcomes: generated, repaired, degraded, resumed or failed",
	}, []string{"outcome"})
)
