// Package config loads the descgen run configuration: defaults, then a YAML
// file, then DESCGEN_* environment variables. Command-line flags are applied
// by the caller on top.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/budget"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/cache"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/export"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/fetcher"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/generate"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/logging"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/pipeline"
	"github.com/v-overkovskiy/Uni-Horoshop-sub001/pkg/progress"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DESCGEN_"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete run configuration.
type Config struct {
	Fetch     fetcher.Config  `yaml:"fetch"`
	Cache     cache.Config    `yaml:"cache"`
	Budget    budget.Limits   `yaml:"budget"`
	Pipeline  pipeline.Config `yaml:"pipeline"`
	Progress  progress.Config `yaml:"progress"`
	Export    ExportConfig    `yaml:"export"`
	Generator generate.Config `yaml:"generator"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ExportConfig locates the run's artifacts.
type ExportConfig struct {
	// Output is the export file; .csv or .json.
	Output string `yaml:"output"`

	// Report is the JSON run report. Empty derives <output stem>_report.json.
	Report string `yaml:"report"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Fetch:     fetcher.DefaultConfig(),
		Cache:     cache.DefaultConfig(),
		Budget:    budget.DefaultLimits(),
		Pipeline:  pipeline.DefaultConfig(),
		Progress:  progress.DefaultConfig(),
		Export:    ExportConfig{Output: "descriptions.csv"},
		Generator: generate.DefaultConfig(),
		Log:       LogConfig{Level: string(logging.LevelInfo)},
	}
}

// Load returns the defaults overlaid with path (when non-empty) and the
// environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.Overlay(data); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Overlay decodes YAML data over c. Unknown keys are rejected.
func (c *Config) Overlay(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ReportPath returns the report location.
func (c Config) ReportPath() string {
	if c.Export.Report != "" {
		return c.Export.Report
	}
	ext := filepath.Ext(c.Export.Output)
	return strings.TrimSuffix(c.Export.Output, ext) + "_report.json"
}

// Validate checks every section.
func (c Config) Validate() error {
	checks := []struct {
		section string
		err     error
	}{
		{"fetch", c.Fetch.Validate()},
		{"cache", c.Cache.Validate()},
		{"budget", c.Budget.Validate()},
		{"pipeline", c.Pipeline.Validate()},
		{"progress", c.Progress.Validate()},
		{"generator", c.Generator.Validate()},
	}
	for _, ch := range checks {
		if ch.err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, ch.section, ch.err)
		}
	}
	if c.Export.Output == "" {
		return fmt.Errorf("%w: export: output is required", ErrInvalid)
	}
	if _, err := export.FormatFor(c.Export.Output); err != nil {
		return fmt.Errorf("%w: export: %v", ErrInvalid, err)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		return fmt.Errorf("%w: log: unknown level %q", ErrInvalid, c.Log.Level)
	}
	return nil
}

// ApplyEnv overlays DESCGEN_* variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.intVar("CONCURRENCY", &c.Fetch.Concurrency)
	e.floatVar("RPS_LIMIT", &c.Fetch.RPS)
	e.durationVar("TIMEOUT", &c.Fetch.Timeout)
	e.intVar("RETRIES", &c.Fetch.Retries)
	e.floatVar("BACKOFF_FACTOR", &c.Fetch.BackoffFactor)
	e.strVar("USER_AGENT", &c.Fetch.UserAgent)

	e.boolVar("CACHE_ENABLED", &c.Cache.Enabled)
	e.strVar("CACHE_REDIS_ADDR", &c.Cache.RedisAddr)
	e.durationVar("CACHE_TTL", &c.Cache.DefaultTTL)

	e.intVar("MAX_CALLS_PER_ITEM", &c.Budget.MaxCallsPerItem)
	e.intVar("MAX_CALLS_PER_LOCALE", &c.Budget.MaxCallsPerLocale)
	e.intVar("MAX_REPAIR_CALLS", &c.Budget.MaxRepairCalls)

	e.intVar("CONCURRENT_ITEMS", &c.Pipeline.ConcurrentItems)
	e.intVar("CONCURRENT_CALLS", &c.Pipeline.ConcurrentCalls)
	e.durationVar("CALL_TIMEOUT", &c.Pipeline.CallTimeout)
	e.boolVar("SKIP_FAILED", &c.Pipeline.SkipFailed)
	if v, ok := e.get("LOCALES"); ok {
		c.Pipeline.Locales = splitList(v)
	}

	e.strVar("PROGRESS_BACKEND", &c.Progress.Backend)
	e.strVar("PROGRESS_PATH", &c.Progress.Path)
	e.strVar("REDIS_ADDR", &c.Progress.RedisAddr)
	e.strVar("PROGRESS_NAMESPACE", &c.Progress.Namespace)

	e.strVar("OUTPUT", &c.Export.Output)
	e.strVar("REPORT", &c.Export.Report)

	e.strVar("GENERATOR_ENDPOINT", &c.Generator.Endpoint)
	e.strVar("GENERATOR_API_KEY", &c.Generator.APIKey)
	e.strVar("GENERATOR_MODEL", &c.Generator.Model)

	e.strVar("LOG_LEVEL", &c.Log.Level)
	e.boolVar("LOG_PRETTY", &c.Log.Pretty)
	e.strVar("METRICS_ADDR", &c.Metrics.Addr)

	if len(e.errs) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalid, errors.Join(e.errs...))
	}
	return nil
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) strVar(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) intVar(name string, dst *int) {
	if v, ok := e.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) floatVar(name string, dst *float64) {
	if v, ok := e.get(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) boolVar(name string, dst *bool) {
	if v, ok := e.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = b
	}
}

// durationVar accepts Go durations ("750ms") and plain seconds ("10").
func (e *envReader) durationVar(name string, dst *time.Duration) {
	if v, ok := e.get(name); ok {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = time.Duration(secs * float64(time.Second))
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = d
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
