package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for fetch rate limiting.
var (
	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "descgen_rate_limit_wait_seconds",
		Help:    "Time fetch starts spent waiting for a rate limit token or cooldown",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	rateLimitCooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "descgen_rate_limit_cooldowns_total",
		Help: "Total number of 429 responses that opened or extended a cooldown",
	})
)

// Limiter admits fetch starts at a fixed rate, shared by every goroutine of
// the process.
type Limiter struct {
	bucket *rate.Limiter
	rps    float64
	logger zerolog.Logger

	mu          sync.Mutex
	pausedUntil time.Time
	throttled   int64
	waits       int64

	now func() time.Time
}

// New creates a limiter admitting rps starts per second with a burst of one.
func New(rps float64, logger zerolog.Logger) (*Limiter, error) {
	if rps <= 0 {
		return nil, fmt.Errorf("rps must be > 0 (got %v)", rps)
	}
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(rps), 1),
		rps:    rps,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Wait blocks until the caller may start a request: first until any cooldown
// has passed, then until a token is available. It returns ctx.Err() if the
// context ends first.
func (l *Limiter) Wait(ctx context.Context) error {
	start := l.now()
	waited := false

	for {
		l.mu.Lock()
		pause := l.pausedUntil.Sub(l.now())
		l.mu.Unlock()
		if pause <= 0 {
			break
		}

		waited = true
		l.logger.Debug().Dur("pause", pause).Msg("Fetch start held by cooldown")
		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	r := l.bucket.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate limiter cannot admit request")
	}
	if d := r.Delay(); d > 0 {
		waited = true
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			r.Cancel()
			return ctx.Err()
		case <-t.C:
		}
	}

	if waited {
		l.mu.Lock()
		l.waits++
		l.mu.Unlock()
		rateLimitWaitSeconds.Observe(time.Since(start).Seconds())
	}
	return nil
}

// Cooldown pauses all starts for d. A shorter cooldown never shortens one
// that is already in effect.
func (l *Limiter) Cooldown(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.throttled++
	rateLimitCooldownsTotal.Inc()
	if d <= 0 {
		return
	}
	until := l.now().Add(d)
	if until.After(l.pausedUntil) {
		l.pausedUntil = until
		l.logger.Warn().
			Dur("cooldown", d).
			Time("paused_until", until).
			Msg("Server asked to slow down - pausing fetch starts")
	}
}

// State returns a snapshot of the limiter.
func (l *Limiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State{
		RPS:         l.rps,
		PausedUntil: l.pausedUntil,
		Throttled:   l.throttled,
		Waits:       l.waits,
	}
}
