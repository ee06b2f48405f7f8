package cache

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupTestRedis connects to a local Redis and skips the test when none is
// running.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   14, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available for testing: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
	})

	return client
}

func newTestManager(t *testing.T, stale time.Duration) *Manager {
	t.Helper()
	client := setupTestRedis(t)
	cfg := DefaultConfig()
	cfg.KeyPrefix = "test:" + uuid.NewString()
	cfg.StaleTTL = stale
	m := NewManager(client, cfg, zerolog.Nop())
	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), cfg.KeyPrefix+":*").Result()
		if len(keys) > 0 {
			client.Del(context.Background(), keys...)
		}
	})
	return m
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil, DefaultConfig(), zerolog.Nop())
}

func TestNewManager_Defaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	m := NewManager(client, Config{}, zerolog.Nop())
	if m.prefix != DefaultKeyPrefix {
		t.Errorf("prefix = %q, want %q", m.prefix, DefaultKeyPrefix)
	}
	if m.DefaultTTL() != DefaultTTL {
		t.Errorf("DefaultTTL() = %s, want %s", m.DefaultTTL(), DefaultTTL)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"disabled default", func(c *Config) {}, false},
		{"enabled default", func(c *Config) { c.Enabled = true }, false},
		{"enabled without addr", func(c *Config) { c.Enabled = true; c.RedisAddr = "" }, true},
		{"disabled without addr", func(c *Config) { c.RedisAddr = "" }, false},
		{"negative ttl", func(c *Config) { c.Enabled = true; c.DefaultTTL = -time.Second }, true},
		{"negative stale", func(c *Config) { c.Enabled = true; c.StaleTTL = -time.Second }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestManager_SetAndGet(t *testing.T) {
	m := newTestManager(t, time.Hour)
	ctx := context.Background()
	url := "https://shop.example/kettle"

	entry := NewEntry(url, http.StatusOK, http.Header{"Etag": {`"abc"`}}, []byte("<h1>Kettle</h1>"), time.Now(), time.Hour)
	if err := m.Set(ctx, url, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := m.Get(ctx, url+"#reviews")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Body) != "<h1>Kettle</h1>" || got.ETag != `"abc"` {
		t.Errorf("Get() = %+v", got)
	}
	if got.IsExpired(time.Now()) {
		t.Error("fresh entry reported as expired")
	}
}

func TestManager_Get_CacheMiss(t *testing.T) {
	m := newTestManager(t, 0)

	if _, err := m.Get(context.Background(), "https://shop.example/none"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_StaleEntryKeptForRevalidation(t *testing.T) {
	m := newTestManager(t, time.Hour)
	ctx := context.Background()
	url := "https://shop.example/stale"

	entry := &Entry{
		URL:     url,
		Body:    []byte("old"),
		ETag:    `"v1"`,
		Expires: time.Now().Add(-time.Minute),
	}
	if err := m.Set(ctx, url, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := m.Get(ctx, url)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.IsExpired(time.Now()) || got.ETag != `"v1"` {
		t.Errorf("Get() = %+v, want the stale entry with its validator", got)
	}
}

func TestManager_Set_SkipsUnusableEntries(t *testing.T) {
	tests := []struct {
		name  string
		stale time.Duration
		entry *Entry
	}{
		{
			name:  "expired without stale window",
			entry: &Entry{ETag: `"v1"`, Expires: time.Now().Add(-time.Minute)},
		},
		{
			name:  "expired without validators",
			stale: time.Hour,
			entry: &Entry{Expires: time.Now().Add(-time.Minute)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, tt.stale)
			ctx := context.Background()
			url := "https://shop.example/" + uuid.NewString()

			if err := m.Set(ctx, url, tt.entry); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if _, err := m.Get(ctx, url); !errors.Is(err, ErrCacheMiss) {
				t.Errorf("Get() error = %v, want ErrCacheMiss", err)
			}
		})
	}
}

func TestManager_Set_NilEntry(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()
	m := NewManager(client, DefaultConfig(), zerolog.Nop())

	if err := m.Set(context.Background(), "https://shop.example/x", nil); err == nil {
		t.Error("expected error for nil entry")
	}
}

func TestManager_Get_InvalidEntry(t *testing.T) {
	m := newTestManager(t, time.Hour)
	ctx := context.Background()
	url := "https://shop.example/corrupt"

	if err := m.redis.Set(ctx, Key(m.prefix, url), "{not json", time.Minute).Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := m.Get(ctx, url); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("Get() error = %v, want ErrInvalidEntry", err)
	}
	if _, err := m.Get(ctx, url); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("second Get() error = %v, want ErrCacheMiss after the bad entry was dropped", err)
	}
}

func TestManager_Delete(t *testing.T) {
	m := newTestManager(t, time.Hour)
	ctx := context.Background()
	url := "https://shop.example/delete-me"

	entry := &Entry{URL: url, Body: []byte("x"), Expires: time.Now().Add(time.Hour)}
	if err := m.Set(ctx, url, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := m.Delete(ctx, url); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := m.Get(ctx, url); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after Delete error = %v, want ErrCacheMiss", err)
	}
}
