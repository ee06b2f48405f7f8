package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lookups counts cache lookups by result: fresh, stale or miss.
	Lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "descgen_page_cache_lookups_total",
			Help: "Total page cache lookups by result",
		},
		[]string{"result"},
	)

	// Revalidations counts conditional fetches by result: not_modified or changed.
	Revalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "descgen_page_cache_revalidations_total",
			Help: "Total conditional page fetches by result",
		},
		[]string{"result"},
	)

	// StoredBytes counts bytes written to the cache.
	StoredBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "descgen_page_cache_stored_bytes_total",
			Help: "Total bytes written to the page cache",
		},
	)

	// Errors counts failed cache operations.
	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "descgen_page_cache_errors_total",
			Help: "Total number of page cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
