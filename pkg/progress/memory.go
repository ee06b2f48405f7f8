package progress

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ledger is the in-memory state shared by the memory and file backends.
type ledger struct {
	session Session
	records map[string]Record
}

func newLedger() ledger {
	return ledger{
		session: Session{ID: uuid.NewString(), Start: nowFunc().UTC()},
		records: make(map[string]Record),
	}
}

func (l *ledger) get(key, locale string) (Record, error) {
	r, ok := l.records[RecordKey(key, locale)]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r.clone(), nil
}

func (l *ledger) apply(key, locale string, status Status, reason string, summary json.RawMessage) {
	k := RecordKey(key, locale)
	prev, existed := l.records[k]
	l.records[k] = transition(prev, existed, key, locale, status, reason, summary, nowFunc())
}

func (l *ledger) list(status Status) []Record {
	keys := make([]string, 0, len(l.records))
	for k, r := range l.records {
		if r.Status == status {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, l.records[k].clone())
	}
	return out
}

// MemoryStore keeps progress in process memory only.
type MemoryStore struct {
	mu sync.RWMutex
	l  ledger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{l: newLedger()}
}

func (s *MemoryStore) IsProcessed(_ context.Context, key, locale string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.l.records[RecordKey(key, locale)].Status == StatusProcessed, nil
}

func (s *MemoryStore) Get(_ context.Context, key, locale string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.l.get(key, locale)
}

func (s *MemoryStore) MarkPending(_ context.Context, key, locale, reason string) error {
	s.mark(key, locale, StatusPending, reason, nil)
	return nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, key, locale string, summary json.RawMessage) error {
	s.mark(key, locale, StatusProcessed, "", summary)
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, key, locale, reason string) error {
	s.mark(key, locale, StatusFailed, reason, nil)
	return nil
}

func (s *MemoryStore) mark(key, locale string, status Status, reason string, summary json.RawMessage) {
	s.mu.Lock()
	s.l.apply(key, locale, status, reason, summary)
	s.mu.Unlock()
	ProgressOps.WithLabelValues(BackendMemory, string(status)).Inc()
}

func (s *MemoryStore) ListPending(context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.l.list(StatusPending), nil
}

func (s *MemoryStore) ListFailed(context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.l.list(StatusFailed), nil
}

func (s *MemoryStore) Stats(context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return computeStats(s.l.records), nil
}

func (s *MemoryStore) Session(context.Context) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.l.session, nil
}

func (s *MemoryStore) ResetSession(context.Context) error {
	s.mu.Lock()
	s.l = newLedger()
	s.mu.Unlock()
	ProgressOps.WithLabelValues(BackendMemory, "reset").Inc()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
