// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs per-attempt fetch, gate and budget events.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs item completion and run milestones.
	LevelInfo LogLevel = "info"

	// LevelWarn logs retries, degradation and budget denials.
	LevelWarn LogLevel = "warn"

	// LevelError logs failed items and fatal run errors.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it. Writes to
// Output are serialized.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(string(cfg.Level)))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	// Pipeline stages log from many goroutines and Output may be any writer.
	out = zerolog.SyncWriter(out)

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to zerolog.Level. Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a logger derived from the global one, tagged with the component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// OrDefault tags l with the component name, or derives a component logger
// from the global logger when l is nil.
func OrDefault(l *zerolog.Logger, component string) zerolog.Logger {
	if l == nil {
		return NewLogger(component)
	}
	return l.With().Str("component", component).Logger()
}

// Context fields used across packages:
//   - key: item key (product page URL)
//   - index: 1-based input position
//   - locale: target locale
//   - attempt: fetch attempt number (1-based)
//   - status: HTTP status or item status
//   - error_kind: fetch error classification
//   - call_type: generate or repair
//   - gate: items or calls
//   - duration: elapsed time of the operation
