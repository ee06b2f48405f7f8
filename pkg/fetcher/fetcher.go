// Package fetcher performs page fetches under a process-wide rate limit and a
// bounded number of in-flight requests, retrying timeouts, 5xx and 429
// responses with exponential backoff. Every fetch returns a typed Result; no
// error escapes as a panic or an untyped value.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/cache"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/ratelimit"
)

// Prometheus metrics for fetch operations.
var (
	fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "descgen_fetch_requests_total",
		Help: "Total fetch attempts by outcome",
	}, []string{"outcome"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "descgen_fetch_duration_seconds",
		Help:    "Duration of a whole fetch including retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	fetchInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "descgen_fetch_in_flight",
		Help: "Number of fetch attempts currently holding a connection slot",
	})
)

// Doer is the transport used for each attempt. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// PageCache stores fetched pages between runs. *cache.Manager satisfies it.
type PageCache interface {
	Get(ctx context.Context, url string) (*cache.Entry, error)
	Set(ctx context.Context, url string, entry *cache.Entry) error
}

// Config holds the fetcher configuration.
type Config struct {
	// Concurrency caps simultaneous in-flight attempts.
	Concurrency int `yaml:"concurrency"`

	// RPS caps fetch starts per second process-wide.
	RPS float64 `yaml:"rps_limit"`

	// Timeout bounds a single attempt.
	Timeout time.Duration `yaml:"timeout"`

	// Retries is the number of retries after the first attempt.
	Retries int `yaml:"retries"`

	// BaseDelay is the backoff before the first retry.
	BaseDelay time.Duration `yaml:"base_delay"`

	// BackoffFactor grows the backoff per attempt.
	BackoffFactor float64 `yaml:"backoff_factor"`

	// MaxBackoff caps a single 5xx/timeout backoff.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// RateLimitMultiplier stretches backoff for 429 responses.
	RateLimitMultiplier float64 `yaml:"rate_limit_multiplier"`

	// Jitter spreads each backoff by ±Jitter.
	Jitter float64 `yaml:"jitter"`

	// UserAgent is sent with every request.
	UserAgent string `yaml:"user_agent"`

	// MaxBodyBytes caps the payload read per response.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// DefaultConfig returns the default fetch configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:         6,
		RPS:                 3,
		Timeout:             10 * time.Second,
		Retries:             2,
		BaseDelay:           500 * time.Millisecond,
		BackoffFactor:       2,
		MaxBackoff:          10 * time.Second,
		RateLimitMultiplier: 3,
		Jitter:              0.2,
		UserAgent:           "descgen/1.0",
		MaxBodyBytes:        8 << 20,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be > 0 (got %d)", c.Concurrency)
	}
	if c.RPS <= 0 {
		return fmt.Errorf("rps_limit must be > 0 (got %v)", c.RPS)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0 (got %s)", c.Timeout)
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must be >= 0 (got %d)", c.Retries)
	}
	if c.BackoffFactor < 1 {
		return fmt.Errorf("backoff_factor must be >= 1 (got %v)", c.BackoffFactor)
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1) (got %v)", c.Jitter)
	}
	return nil
}

// Result is the outcome of one fetch. Exactly one of Payload and Err is set.
type Result struct {
	Key        string        `json:"key"`
	Payload    []byte        `json:"-"`
	StatusCode int           `json:"status_code"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration"`
	Err        *FetchError   `json:"error,omitempty"`

	// Cached is set when the payload came from the page cache without a
	// request; Revalidated when a 304 confirmed the cached payload.
	Cached      bool `json:"cached,omitempty"`
	Revalidated bool `json:"revalidated,omitempty"`
}

// OK reports whether the fetch produced a payload.
func (r Result) OK() bool {
	return r.Err == nil
}

// Error returns the fetch error as an error value, or nil on success.
func (r Result) Error() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}

// Fetcher fetches pages. It is safe for concurrent use; one Fetcher should be
// shared by every task of a run so the limits apply process-wide.
type Fetcher struct {
	client  Doer
	limiter *ratelimit.Limiter
	slots   *semaphore.Weighted
	config  Config
	logger  zerolog.Logger

	cache    PageCache
	cacheTTL time.Duration
}

// New creates a fetcher with its own rate limiter.
func New(cfg Config, logger zerolog.Logger) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fetch config: %w", err)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	limiter, err := ratelimit.New(cfg.RPS, logger.With().Str("component", "ratelimit").Logger())
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}

	f := &Fetcher{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: cfg.Concurrency,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: limiter,
		slots:   semaphore.NewWeighted(int64(cfg.Concurrency)),
		config:  cfg,
		logger:  logger,
	}

	logger.Info().
		Int("concurrency", cfg.Concurrency).
		Float64("rps", cfg.RPS).
		Dur("timeout", cfg.Timeout).
		Int("retries", cfg.Retries).
		Msg("Fetcher initialized")

	return f, nil
}

// SetHTTPClient replaces the transport (used by tests).
func (f *Fetcher) SetHTTPClient(client Doer) {
	f.client = client
}

// SetCache enables the page cache. ttl is the freshness given to pages that
// send no caching headers.
func (f *Fetcher) SetCache(c PageCache, ttl time.Duration) {
	f.cache = c
	f.cacheTTL = ttl
}

// RateLimitState returns the limiter snapshot.
func (f *Fetcher) RateLimitState() ratelimit.State {
	return f.limiter.State()
}

// Fetch retrieves key, retrying transient failures. It always returns a
// Result; a failed fetch has Err set and makes at most Retries+1 attempts.
func (f *Fetcher) Fetch(ctx context.Context, key string) Result {
	start := time.Now()
	res := Result{Key: key}

	cached := f.cached(ctx, key)
	if cached != nil && !cached.IsExpired(time.Now()) {
		fetchRequestsTotal.WithLabelValues("cached").Inc()
		res.Payload = cached.Body
		res.StatusCode = cached.StatusCode
		res.Cached = true
		res.Duration = time.Since(start)
		f.logger.Debug().Str("key", key).Int("bytes", len(res.Payload)).Msg("Fetch served from page cache")
		return res
	}

	var last *page
	ferr := retryWithBackoff(ctx, f.config, f.logger, func(attempt int) *FetchError {
		p, err := f.attempt(ctx, key, attempt, cached)
		res.Attempts = attempt
		res.StatusCode = p.status
		if err != nil {
			fetchRequestsTotal.WithLabelValues(string(err.Kind)).Inc()
			return err
		}
		fetchRequestsTotal.WithLabelValues("ok").Inc()
		res.Payload = p.body
		last = &p
		return nil
	})

	res.Duration = time.Since(start)
	fetchDuration.Observe(res.Duration.Seconds())

	if ferr != nil {
		if ferr.Attempts > res.Attempts {
			res.Attempts = ferr.Attempts
		}
		res.Err = ferr
		res.Payload = nil
		f.logger.Warn().
			Str("key", key).
			Str("error_kind", string(ferr.Kind)).
			Int("status", ferr.StatusCode).
			Int("attempts", res.Attempts).
			Dur("duration", res.Duration).
			Msg("Fetch failed")
		return res
	}

	if last != nil {
		res.Revalidated = last.status == http.StatusNotModified
		f.store(ctx, key, cached, *last)
	}

	f.logger.Debug().
		Str("key", key).
		Int("status", res.StatusCode).
		Bool("revalidated", res.Revalidated).
		Int("attempts", res.Attempts).
		Int("bytes", len(res.Payload)).
		Dur("duration", res.Duration).
		Msg("Fetch complete")
	return res
}

// FetchPair fetches both keys concurrently. The legs are independent: one
// failing does not cancel the other.
func (f *Fetcher) FetchPair(ctx context.Context, primaryKey, secondaryKey string) (Result, Result) {
	var primary, secondary Result
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		primary = f.Fetch(ctx, primaryKey)
	}()
	go func() {
		defer wg.Done()
		secondary = f.Fetch(ctx, secondaryKey)
	}()
	wg.Wait()
	return primary, secondary
}

// cached returns the cache entry for key, or nil when there is no cache, no
// entry, or the lookup failed. Cache failures never fail a fetch.
func (f *Fetcher) cached(ctx context.Context, key string) *cache.Entry {
	if f.cache == nil {
		return nil
	}
	entry, err := f.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) && ctx.Err() == nil {
			f.logger.Warn().Err(err).Str("key", key).Msg("Page cache lookup failed")
		}
		return nil
	}
	return entry
}

// store writes a successful fetch back to the cache: a 304 refreshes the
// expiry of the entry it confirmed, a cacheable 200 replaces it.
func (f *Fetcher) store(ctx context.Context, key string, prev *cache.Entry, p page) {
	if f.cache == nil {
		return
	}
	now := time.Now()
	var entry *cache.Entry
	switch {
	case p.status == http.StatusNotModified && prev != nil:
		cache.Revalidations.WithLabelValues("not_modified").Inc()
		entry = cache.Revalidated(prev, p.header, now, f.cacheTTL)
	case cache.Cacheable(p.status, p.header):
		if prev != nil {
			cache.Revalidations.WithLabelValues("changed").Inc()
		}
		entry = cache.NewEntry(key, p.status, p.header, p.body, now, f.cacheTTL)
	default:
		return
	}
	if err := f.cache.Set(context.WithoutCancel(ctx), key, entry); err != nil {
		f.logger.Warn().Err(err).Str("key", key).Msg("Page cache store failed")
	}
}

// page is the successful response of one attempt.
type page struct {
	body   []byte
	status int
	header http.Header
}

// attempt performs one request: wait for the limiter, take a connection
// slot, then GET with the per-attempt timeout. A stale cache entry turns the
// request conditional.
func (f *Fetcher) attempt(ctx context.Context, key string, n int, cached *cache.Entry) (page, *FetchError) {
	if err := f.limiter.Wait(ctx); err != nil {
		return page{}, &FetchError{Kind: KindCanceled, URL: key, Err: fmt.Errorf("rate limit wait: %w", err)}
	}
	if err := f.slots.Acquire(ctx, 1); err != nil {
		return page{}, &FetchError{Kind: KindCanceled, URL: key, Err: fmt.Errorf("acquire fetch slot: %w", err)}
	}
	defer f.slots.Release(1)
	fetchInFlight.Inc()
	defer fetchInFlight.Dec()

	actx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, key, nil)
	if err != nil {
		return page{}, &FetchError{Kind: KindClient, URL: key, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	cache.AddConditionalHeaders(req, cached)

	f.logger.Debug().Str("key", key).Int("attempt", n).Msg("Fetch attempt")

	resp, err := f.client.Do(req)
	if err != nil {
		return page{}, &FetchError{Kind: classifyTransportError(ctx, err), URL: key, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && cached != nil:
		return page{body: cached.Body, status: resp.StatusCode, header: resp.Header}, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes))
		if err != nil {
			return page{status: resp.StatusCode}, &FetchError{
				Kind:       classifyTransportError(ctx, err),
				URL:        key,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("read body: %w", err),
			}
		}
		return page{body: body, status: resp.StatusCode, header: resp.Header}, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		wait := ratelimit.ParseRetryAfter(resp.Header, time.Now())
		f.limiter.Cooldown(wait)
		return page{status: resp.StatusCode}, &FetchError{
			Kind:       KindRateLimited,
			URL:        key,
			StatusCode: resp.StatusCode,
			RetryAfter: wait,
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}

	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return page{status: resp.StatusCode}, &FetchError{
			Kind:       classifyStatus(resp.StatusCode),
			URL:        key,
			StatusCode: resp.StatusCode,
			Err:        errors.New("unexpected status " + strconv.Itoa(resp.StatusCode)),
		}
	}
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindServer
	default:
		return KindClient
	}
}

// classifyTransportError separates the caller's cancellation from a
// per-attempt timeout and from other network failures.
func classifyTransportError(parent context.Context, err error) ErrorKind {
	if parent.Err() != nil {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}
