package cache

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
	// ErrCacheMiss indicates the requested page is not in the cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored entry could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Config holds the page cache configuration.
type Config struct {
	// Enabled turns the page cache on.
	Enabled bool `yaml:"enabled"`

	// RedisAddr is the Redis server address.
	RedisAddr string `yaml:"redis_addr"`

	// RedisDB selects the Redis database.
	RedisDB int `yaml:"redis_db"`

	// KeyPrefix namespaces entries.
	KeyPrefix string `yaml:"key_prefix"`

	// DefaultTTL is the freshness of pages that send no caching headers.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// StaleTTL keeps expired entries around for revalidation.
	StaleTTL time.Duration `yaml:"stale_ttl"`
}

// DefaultConfig returns a disabled cache pointing at a local Redis.
func DefaultConfig() Config {
	return Config{
		RedisAddr:  "localhost:6379",
		KeyPrefix:  DefaultKeyPrefix,
		DefaultTTL: DefaultTTL,
		StaleTTL:   24 * time.Hour,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("cache redis_addr is required when the cache is enabled")
	}
	if c.DefaultTTL < 0 {
		return fmt.Errorf("cache default_ttl must be >= 0 (got %s)", c.DefaultTTL)
	}
	if c.StaleTTL < 0 {
		return fmt.Errorf("cache stale_ttl must be >= 0 (got %s)", c.StaleTTL)
	}
	return nil
}

// Manager stores pages in Redis.
type Manager struct {
	redis      *redis.Client
	prefix     string
	defaultTTL time.Duration
	staleTTL   time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

// NewManager creates a cache manager on an existing Redis client.
func NewManager(redisClient *redis.Client, cfg Config, logger zerolog.Logger) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	return &Manager{
		redis:      redisClient,
		prefix:     cfg.KeyPrefix,
		defaultTTL: cfg.DefaultTTL,
		staleTTL:   cfg.StaleTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// Open connects to the configured Redis and returns a manager. The caller
// owns the returned manager and must Close it.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	m := NewManager(client, cfg, logger)
	logger.Info().
		Str("redis_addr", cfg.RedisAddr).
		Str("prefix", m.prefix).
		Dur("default_ttl", m.defaultTTL).
		Msg("Page cache enabled")
	return m, nil
}

// DefaultTTL returns the freshness used for pages without caching headers.
func (m *Manager) DefaultTTL() time.Duration {
	return m.defaultTTL
}

// Get returns the entry for url, fresh or stale. Freshness is the caller's
// decision; Get only reports ErrCacheMiss when nothing is stored.
func (m *Manager) Get(ctx context.Context, url string) (*Entry, error) {
	key := Key(m.prefix, url)

	data, err := m.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			Lookups.WithLabelValues("miss").Inc()
			return nil, ErrCacheMiss
		}
		Errors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		Errors.WithLabelValues("get").Inc()
		m.logger.Warn().Err(err).Str("key", url).Msg("Dropping undecodable cache entry")
		_ = m.Delete(ctx, url)
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired(m.now()) {
		Lookups.WithLabelValues("stale").Inc()
	} else {
		Lookups.WithLabelValues("fresh").Inc()
	}
	return &entry, nil
}

// Set stores entry under url. The Redis TTL is the entry's remaining
// freshness plus the stale window; an entry with neither is not stored.
func (m *Manager) Set(ctx context.Context, url string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL(m.now()) + m.staleTTL
	if ttl <= 0 {
		return nil
	}
	if !entry.HasValidators() && entry.TTL(m.now()) <= 0 {
		// Stale and unrevalidatable: nothing could ever use it.
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		Errors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, Key(m.prefix, url), data, ttl).Err(); err != nil {
		Errors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	StoredBytes.Add(float64(len(data)))
	return nil
}

// Delete removes the entry for url.
func (m *Manager) Delete(ctx context.Context, url string) error {
	if err := m.redis.Del(ctx, Key(m.prefix, url)).Err(); err != nil {
		Errors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (m *Manager) Close() error {
	return m.redis.Close()
}
