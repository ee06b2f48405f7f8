package fetcher

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	fetchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "descgen_fetch_retries_total",
		Help: "Total number of fetch retry attempts by error kind",
	}, []string{"error_kind"})

	fetchRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "descgen_fetch_retry_backoff_seconds",
		Help:    "Backoff duration before fetch retries by error kind",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_kind"})

	fetchRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "descgen_fetch_retry_exhausted_total",
		Help: "Total number of fetches that exhausted their retries by error kind",
	}, []string{"error_kind"})
)

// RetryPolicy is the backoff schedule for one error kind.
type RetryPolicy struct {
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps every delay.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay per attempt.
	BackoffMultiplier float64

	// Jitter spreads each delay by ±Jitter (0.2 = ±20%).
	Jitter float64
}

// Delay returns the wait before retry number attempt (0-based):
// InitialBackoff * BackoffMultiplier^attempt, capped and jittered.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.InitialBackoff) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	if p.Jitter > 0 {
		d *= 1 - p.Jitter + rand.Float64()*2*p.Jitter
	}
	return time.Duration(d)
}

// PolicyFor returns the backoff schedule for an error kind. Rate-limited
// responses back off RateLimitMultiplier times longer than server errors.
func (c Config) PolicyFor(kind ErrorKind) RetryPolicy {
	p := RetryPolicy{
		InitialBackoff:    c.BaseDelay,
		MaxBackoff:        c.MaxBackoff,
		BackoffMultiplier: c.BackoffFactor,
		Jitter:            c.Jitter,
	}
	if kind == KindRateLimited {
		m := c.RateLimitMultiplier
		if m < 1 {
			m = 1
		}
		p.InitialBackoff = time.Duration(float64(p.InitialBackoff) * m)
		p.MaxBackoff = time.Duration(float64(p.MaxBackoff) * m)
	}
	return p
}

// retryWithBackoff runs fn up to retries+1 times. fn returns nil on success.
// Non-retryable failures and context cancellation stop immediately. The
// returned error carries the number of attempts made.
func retryWithBackoff(ctx context.Context, cfg Config, logger zerolog.Logger, fn func(attempt int) *FetchError) *FetchError {
	var lastErr *FetchError

	maxAttempts := cfg.Retries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ferr := fn(attempt)
		if ferr == nil {
			if attempt > 1 {
				logger.Info().
					Int("attempt", attempt).
					Msg("Fetch succeeded after retry")
			}
			return nil
		}

		ferr.Attempts = attempt
		lastErr = ferr

		if !shouldRetry(ferr.Kind) {
			return lastErr
		}

		if attempt >= maxAttempts {
			break
		}

		delay := cfg.PolicyFor(ferr.Kind).Delay(attempt - 1)
		if ferr.Kind == KindRateLimited && ferr.RetryAfter > delay {
			delay = ferr.RetryAfter
		}

		fetchRetriesTotal.WithLabelValues(string(ferr.Kind)).Inc()
		fetchRetryBackoffSeconds.WithLabelValues(string(ferr.Kind)).Observe(delay.Seconds())

		logger.Warn().
			Str("key", ferr.URL).
			Str("error_kind", string(ferr.Kind)).
			Int("status", ferr.StatusCode).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying fetch after backoff")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return &FetchError{
				Kind:     KindCanceled,
				URL:      ferr.URL,
				Attempts: attempt,
				Err:      fmt.Errorf("context ended during backoff: %w", ctx.Err()),
			}
		case <-t.C:
		}
	}

	fetchRetryExhaustedTotal.WithLabelValues(string(lastErr.Kind)).Inc()
	logger.Warn().
		Str("key", lastErr.URL).
		Str("error_kind", string(lastErr.Kind)).
		Int("max_attempts", maxAttempts).
		Msg("Fetch retry attempts exhausted")

	lastErr.Err = fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, maxAttempts, lastErr.Err)
	return lastErr
}
