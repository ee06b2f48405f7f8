// Package metrics exposes the descgen Prometheus metrics.
// All metrics are defined in their respective packages with promauto and
// registered on the default registry; this package serves them.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the registerer every descgen package registers with.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Fetch (pkg/fetcher, pkg/ratelimit):
//   - descgen_fetch_requests_total{outcome} (Counter): attempts by outcome (ok or error kind)
//   - descgen_fetch_duration_seconds (Histogram): fetch duration including retries
//   - descgen_fetch_in_flight (Gauge): attempts holding a connection slot
//   - descgen_fetch_retries_total{error_kind} (Counter)
//   - descgen_fetch_retry_backoff_seconds{error_kind} (Histogram)
//   - descgen_fetch_retry_exhausted_total{error_kind} (Counter)
//   - descgen_rate_limit_wait_seconds (Histogram): time spent waiting for a start
//   - descgen_rate_limit_cooldowns_total (Counter): 429 responses
//
// Page cache (pkg/cache):
//   - descgen_page_cache_lookups_total{result} (Counter): fresh, stale or miss
//   - descgen_page_cache_revalidations_total{result} (Counter): not_modified or changed
//   - descgen_page_cache_stored_bytes_total (Counter)
//   - descgen_page_cache_errors_total{operation} (Counter)
//
// Admission (pkg/gate, pkg/budget):
//   - descgen_gate_in_flight{gate} (Gauge), descgen_gate_wait_seconds{gate} (Histogram)
//   - descgen_budget_calls_total{call_type}, descgen_budget_denied_total{call_type} (Counter)
//
// Pipeline (pkg/pipeline, pkg/generate):
//   - descgen_items_total{status} (Counter), descgen_item_duration_seconds (Histogram)
//   - descgen_stage_failures_total{stage} (Counter)
//   - descgen_locales_total{outcome} (Counter)
//   - descgen_generator_calls_total{task, outcome} (Counter)
//   - descgen_generator_call_duration_seconds{task} (Histogram)
//
// Storage (pkg/progress, pkg/export):
//   - descgen_progress_operations_total{backend, status} (Counter)
//   - descgen_progress_errors_total{backend, operation} (Counter)
//   - descgen_progress_write_seconds{backend} (Histogram)
//   - descgen_export_rows_total{status}, descgen_export_fallbacks_total (Counter)
//
// Example Prometheus Queries:
//
//   # Share of degraded locales
//   sum(rate(descgen_locales_total{outcome="degraded"}[5m])) / sum(rate(descgen_locales_total[5m]))
//
//   # 429 pressure
//   rate(descgen_rate_limit_cooldowns_total[5m])

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server serves /metrics and /health until its context ends.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger zerolog.Logger
}

// Listen binds addr and returns a server ready to Serve.
func Listen(addr string, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return &Server{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:     ln,
		logger: logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve blocks until ctx ends, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.Addr()).Msg("Serving metrics")
		errCh <- s.srv.Serve(s.ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
