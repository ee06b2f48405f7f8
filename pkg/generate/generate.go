// Package generate holds the text-generation collaborators the pipeline
// calls through its Generator interface.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/content"
)

var (
	generatorCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "descgen_generator_calls_total",
			Help: "Total generation service calls by task and outcome",
		},
		[]string{"task", "outcome"},
	)

	generatorCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "descgen_generator_call_duration_seconds",
			Help:    "Duration of generation service calls",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"task"},
	)
)

var (
	// ErrEmptyResponse is returned when the service answers without a body text.
	ErrEmptyResponse = errors.New("generator returned empty content")

	// ErrNoFacts is returned when there is nothing to generate from.
	ErrNoFacts = errors.New("no facts to generate from")
)

const (
	taskGenerate = "generate"
	taskRepair   = "repair"
)

// Config configures the HTTP generator.
type Config struct {
	// Endpoint receives one POST per generate or repair call. Empty selects
	// the passthrough generator.
	Endpoint string `yaml:"endpoint"`

	// APIKey is sent as a bearer token when set.
	APIKey string `yaml:"api_key"`

	// Model is forwarded to the service unchanged.
	Model string `yaml:"model"`

	// Timeout bounds a single call.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a passthrough configuration with a 60s call timeout.
func DefaultConfig() Config {
	return Config{Timeout: 60 * time.Second}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("generator timeout must be > 0 (got %v)", c.Timeout)
	}
	if c.Endpoint != "" && !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
		return fmt.Errorf("generator endpoint must be an http(s) URL (got %q)", c.Endpoint)
	}
	return nil
}

// StatusError is returned for a non-2xx answer from the service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("generator returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("generator returned HTTP %d: %s", e.StatusCode, e.Body)
}

type request struct {
	Task   string        `json:"task"`
	Kind   string        `json:"kind,omitempty"`
	Locale string        `json:"locale"`
	Model  string        `json:"model,omitempty"`
	Facts  content.Facts `json:"facts"`
}

type response struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// HTTPGenerator calls a JSON generation service.
type HTTPGenerator struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	logger   zerolog.Logger
}

// NewHTTP creates a generator for cfg.Endpoint.
func NewHTTP(cfg Config, logger zerolog.Logger) (*HTTPGenerator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("generator endpoint is required")
	}
	return &HTTPGenerator{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}, nil
}

// Generate asks the service for a full description.
func (g *HTTPGenerator) Generate(ctx context.Context, facts content.Facts, locale string) (content.Content, error) {
	c, err := g.call(ctx, request{Task: taskGenerate, Locale: locale, Model: g.model, Facts: facts})
	c.Source = content.SourceGenerated
	return c, err
}

// Repair asks the service for a reduced description of the given kind.
func (g *HTTPGenerator) Repair(ctx context.Context, facts content.Facts, locale, kind string) (content.Content, error) {
	c, err := g.call(ctx, request{Task: taskRepair, Kind: kind, Locale: locale, Model: g.model, Facts: facts})
	c.Source = content.SourceRepaired
	return c, err
}

func (g *HTTPGenerator) call(ctx context.Context, payload request) (content.Content, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		generatorCallsTotal.WithLabelValues(payload.Task, outcome).Inc()
		generatorCallDuration.WithLabelValues(payload.Task).Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return content.Content{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return content.Content{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return content.Content{}, fmt.Errorf("generator request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return content.Content{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Warn().
			Str("task", payload.Task).
			Str("locale", payload.Locale).
			Int("status", resp.StatusCode).
			Msg("Generator call failed")
		return content.Content{}, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 200)}
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return content.Content{}, fmt.Errorf("decode response: %w", err)
	}
	if strings.TrimSpace(out.Body) == "" {
		return content.Content{}, ErrEmptyResponse
	}
	if out.Title == "" {
		out.Title = payload.Facts.Title
	}

	outcome = "ok"
	g.logger.Debug().
		Str("task", payload.Task).
		Str("locale", payload.Locale).
		Dur("duration", time.Since(start)).
		Msg("Generator call completed")
	return content.Content{Title: out.Title, Body: out.Body}, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Passthrough builds content from the extracted facts without calling any
// service. It is used when no endpoint is configured.
type Passthrough struct{}

// Generate returns the facts rendered as content.
func (Passthrough) Generate(ctx context.Context, facts content.Facts, locale string) (content.Content, error) {
	if err := ctx.Err(); err != nil {
		return content.Content{}, err
	}
	if facts.Empty() {
		return content.Content{}, ErrNoFacts
	}
	c := content.FromFacts(facts)
	c.Source = content.SourceGenerated
	return c, nil
}

// Repair returns the facts rendered as content.
func (Passthrough) Repair(ctx context.Context, facts content.Facts, locale, kind string) (content.Content, error) {
	if err := ctx.Err(); err != nil {
		return content.Content{}, err
	}
	if facts.Empty() {
		return content.Content{}, ErrNoFacts
	}
	c := content.FromFacts(facts)
	c.Source = content.SourceRepaired
	return c, nil
}
