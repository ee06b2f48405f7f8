package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps progress in a redis hash per namespace, so several
// processes can share one resume state. Each mutation is a single HSET of
// the pair's JSON record.
type RedisStore struct {
	redis      *redis.Client
	recordsKey string
	metaKey    string
}

// NewRedisStore creates a store under namespace, starting a session if the
// namespace has none.
func NewRedisStore(ctx context.Context, client *redis.Client, namespace string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if namespace == "" {
		namespace = "default"
	}
	s := &RedisStore{
		redis:      client,
		recordsKey: fmt.Sprintf("descgen:progress:%s:records", namespace),
		metaKey:    fmt.Sprintf("descgen:progress:%s:meta", namespace),
	}
	if err := s.ensureSession(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RedisStore) ensureSession(ctx context.Context) error {
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSetNX(ctx, s.metaKey, "session_id", uuid.NewString())
		p.HSetNX(ctx, s.metaKey, "session_start", nowFunc().UTC().Format(time.RFC3339Nano))
		return nil
	})
	if err != nil {
		ProgressErrors.WithLabelValues(BackendRedis, "session").Inc()
		return fmt.Errorf("redis init session: %w", err)
	}
	return nil
}

func (s *RedisStore) IsProcessed(ctx context.Context, key, locale string) (bool, error) {
	r, err := s.Get(ctx, key, locale)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return r.Status == StatusProcessed, nil
}

func (s *RedisStore) Get(ctx context.Context, key, locale string) (Record, error) {
	data, err := s.redis.HGet(ctx, s.recordsKey, RecordKey(key, locale)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Record{}, ErrNotFound
		}
		ProgressErrors.WithLabelValues(BackendRedis, "get").Inc()
		return Record{}, fmt.Errorf("redis hget: %w", err)
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		ProgressErrors.WithLabelValues(BackendRedis, "get").Inc()
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return r, nil
}

func (s *RedisStore) MarkPending(ctx context.Context, key, locale, reason string) error {
	return s.mark(ctx, key, locale, StatusPending, reason, nil)
}

func (s *RedisStore) MarkProcessed(ctx context.Context, key, locale string, summary json.RawMessage) error {
	return s.mark(ctx, key, locale, StatusProcessed, "", summary)
}

func (s *RedisStore) MarkFailed(ctx context.Context, key, locale, reason string) error {
	return s.mark(ctx, key, locale, StatusFailed, reason, nil)
}

// mark reads the previous record for the retry count, then writes the new
// one. A pair is only ever mutated by the task that owns its item.
func (s *RedisStore) mark(ctx context.Context, key, locale string, status Status, reason string, summary json.RawMessage) error {
	start := time.Now()

	prev, err := s.Get(ctx, key, locale)
	existed := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrCorrupt) {
		return err
	}

	data, err := json.Marshal(transition(prev, existed, key, locale, status, reason, summary, nowFunc()))
	if err != nil {
		ProgressErrors.WithLabelValues(BackendRedis, string(status)).Inc()
		return fmt.Errorf("marshal progress record: %w", err)
	}

	if err := s.redis.HSet(ctx, s.recordsKey, RecordKey(key, locale), data).Err(); err != nil {
		ProgressErrors.WithLabelValues(BackendRedis, string(status)).Inc()
		return fmt.Errorf("redis hset: %w", err)
	}

	ProgressOps.WithLabelValues(BackendRedis, string(status)).Inc()
	ProgressWriteSeconds.WithLabelValues(BackendRedis).Observe(time.Since(start).Seconds())
	return nil
}

func (s *RedisStore) all(ctx context.Context) (map[string]Record, error) {
	raw, err := s.redis.HGetAll(ctx, s.recordsKey).Result()
	if err != nil {
		ProgressErrors.WithLabelValues(BackendRedis, "list").Inc()
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}

	records := make(map[string]Record, len(raw))
	for k, v := range raw {
		var r Record
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, fmt.Errorf("%w: record %s: %v", ErrCorrupt, k, err)
		}
		records[k] = r
	}
	return records, nil
}

func (s *RedisStore) list(ctx context.Context, status Status) ([]Record, error) {
	records, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(records))
	for k, r := range records {
		if r.Status == status {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, records[k])
	}
	return out, nil
}

func (s *RedisStore) ListPending(ctx context.Context) ([]Record, error) {
	return s.list(ctx, StatusPending)
}

func (s *RedisStore) ListFailed(ctx context.Context) ([]Record, error) {
	return s.list(ctx, StatusFailed)
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	records, err := s.all(ctx)
	if err != nil {
		return Stats{}, err
	}
	return computeStats(records), nil
}

func (s *RedisStore) Session(ctx context.Context) (Session, error) {
	meta, err := s.redis.HGetAll(ctx, s.metaKey).Result()
	if err != nil {
		return Session{}, fmt.Errorf("redis hgetall: %w", err)
	}
	sess := Session{ID: meta["session_id"]}
	if ts, err := time.Parse(time.RFC3339Nano, meta["session_start"]); err == nil {
		sess.Start = ts
	}
	return sess, nil
}

func (s *RedisStore) ResetSession(ctx context.Context) error {
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.recordsKey)
		p.HSet(ctx, s.metaKey,
			"session_id", uuid.NewString(),
			"session_start", nowFunc().UTC().Format(time.RFC3339Nano))
		return nil
	})
	if err != nil {
		ProgressErrors.WithLabelValues(BackendRedis, "reset").Inc()
		return fmt.Errorf("redis reset session: %w", err)
	}
	ProgressOps.WithLabelValues(BackendRedis, "reset").Inc()
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.redis.Close()
}
