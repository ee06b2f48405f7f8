// Package progress records per-(key, locale) processing status so an
// interrupted run can resume. Every mutation is durable before it returns.
//
// Backends:
//
//	memory  in-process map, for tests and dry runs
//	file    JSON document rewritten atomically after every mutation
//	redis   one hash per namespace, one HSET per mutation
//	sqlite  one row per pair, one upsert per mutation
//
// A pair has at most one record; the latest mutation wins.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned by Get for a pair with no record.
	ErrNotFound = errors.New("progress record not found")

	// ErrCorrupt is returned when persisted state cannot be decoded.
	ErrCorrupt = errors.New("progress state corrupt")
)

// Store is the progress ledger.
type Store interface {
	// IsProcessed reports whether the pair completed in this or a prior run.
	IsProcessed(ctx context.Context, key, locale string) (bool, error)

	// Get returns a copy of the pair's record or ErrNotFound.
	Get(ctx context.Context, key, locale string) (Record, error)

	// MarkPending records a first touch, or a retry of a known pair.
	MarkPending(ctx context.Context, key, locale, reason string) error

	// MarkProcessed records completion with the pair's summary.
	MarkProcessed(ctx context.Context, key, locale string, summary json.RawMessage) error

	// MarkFailed records an unrecoverable failure.
	MarkFailed(ctx context.Context, key, locale, reason string) error

	// ListPending returns the pending records sorted by record key.
	ListPending(ctx context.Context) ([]Record, error)

	// ListFailed returns the failed records sorted by record key.
	ListFailed(ctx context.Context) ([]Record, error)

	// Stats summarizes the store.
	Stats(ctx context.Context) (Stats, error)

	// Session returns the current session.
	Session(ctx context.Context) (Session, error)

	// ResetSession drops every record and starts a new session.
	ResetSession(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Backend names.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config selects and configures a backend.
type Config struct {
	// Backend is one of memory, file, redis, sqlite.
	Backend string `yaml:"backend"`

	// Path is the JSON file (file) or database file (sqlite).
	Path string `yaml:"path"`

	// RedisAddr is the redis server address.
	RedisAddr string `yaml:"redis_addr"`

	// RedisDB is the redis logical database.
	RedisDB int `yaml:"redis_db"`

	// Namespace separates runs sharing one redis or sqlite database.
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns a file store at progress.json.
func DefaultConfig() Config {
	return Config{
		Backend:   BackendFile,
		Path:      "progress.json",
		RedisAddr: "localhost:6379",
		Namespace: "default",
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendFile, BackendSQLite:
		if c.Path == "" {
			return fmt.Errorf("progress path is required for %s backend", c.Backend)
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for redis backend")
		}
	default:
		return fmt.Errorf("unknown progress backend %q", c.Backend)
	}
	return nil
}

// Open creates the configured store.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}

	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return OpenFileStore(cfg.Path, logger)
	case BackendSQLite:
		return OpenSQLiteStore(ctx, cfg.Path, cfg.Namespace)
	case BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisStore(ctx, client, cfg.Namespace)
	}
	return nil, fmt.Errorf("unknown progress backend %q", cfg.Backend)
}

var nowFunc = time.Now
