package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/v-overkovskiy/Uni-Horoshop-sub001/internal/fsx"
)

// fileState is the on-disk layout of a FileStore.
type fileState struct {
	Version      uint64            `json:"version"`
	SessionID    string            `json:"session_id"`
	SessionStart string            `json:"session_start"`
	Records      map[string]Record `json:"records"`

	// Layout written by earlier releases: one map per status.
	Processed map[string]legacyEntry `json:"processed,omitempty"`
	Pending   map[string]legacyEntry `json:"pending,omitempty"`
	Failed    map[string]legacyEntry `json:"failed,omitempty"`
}

type legacyEntry struct {
	Reason     string          `json:"reason"`
	RetryCount int             `json:"retry_count"`
	Result     json.RawMessage `json:"result"`
}

// FileStore persists progress as one JSON document. Each mutation updates
// the in-memory ledger under a lock, takes a version number, and then writes
// the ledger outside that lock. Writes are serialized and a mutation already
// covered by a later write is not written again. A mutation whose write
// fails is rolled back.
type FileStore struct {
	path   string
	logger zerolog.Logger

	mu      sync.RWMutex
	l       ledger
	version uint64

	writeMu sync.Mutex
	written uint64
}

// OpenFileStore loads path, or starts a new session if it does not exist.
func OpenFileStore(path string, logger zerolog.Logger) (*FileStore, error) {
	s := &FileStore{path: path, logger: logger, l: newLedger()}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info().Str("path", path).Str("session", s.l.session.ID).Msg("Starting new progress session")
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress file: %w", err)
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	s.load(st)

	stats := computeStats(s.l.records)
	logger.Info().
		Str("path", path).
		Str("session", s.l.session.ID).
		Int("processed", stats.Processed).
		Int("pending", stats.Pending).
		Int("failed", stats.Failed).
		Msg("Progress loaded")
	return s, nil
}

func (s *FileStore) load(st fileState) {
	if st.SessionID != "" {
		s.l.session.ID = st.SessionID
	}
	if ts, err := time.Parse(time.RFC3339Nano, st.SessionStart); err == nil {
		s.l.session.Start = ts
	}
	s.version = st.Version
	s.written = st.Version

	for k, r := range st.Records {
		s.l.records[k] = r
	}
	legacy := func(m map[string]legacyEntry, status Status) {
		for k, e := range m {
			key, locale, ok := SplitRecordKey(k)
			if !ok {
				s.logger.Warn().Str("record", k).Msg("Skipping malformed progress key")
				continue
			}
			r := Record{Key: key, Locale: locale, Status: status, Reason: e.Reason, RetryCount: e.RetryCount}
			if status == StatusProcessed {
				r.Summary = e.Result
			}
			s.l.records[k] = r
		}
	}
	legacy(st.Pending, StatusPending)
	legacy(st.Failed, StatusFailed)
	legacy(st.Processed, StatusProcessed)
}

// Path returns the progress file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) IsProcessed(_ context.Context, key, locale string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.l.records[RecordKey(key, locale)].Status == StatusProcessed, nil
}

func (s *FileStore) Get(_ context.Context, key, locale string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.l.get(key, locale)
}

func (s *FileStore) MarkPending(_ context.Context, key, locale, reason string) error {
	return s.mark(StatusPending, key, locale, reason, nil)
}

func (s *FileStore) MarkProcessed(_ context.Context, key, locale string, summary json.RawMessage) error {
	return s.mark(StatusProcessed, key, locale, "", summary)
}

func (s *FileStore) MarkFailed(_ context.Context, key, locale, reason string) error {
	return s.mark(StatusFailed, key, locale, reason, nil)
}

// mark applies one transition. If it cannot be persisted the pair goes back
// to its previous state, unless a later mark has replaced it since.
func (s *FileStore) mark(status Status, key, locale, reason string, summary json.RawMessage) error {
	k := RecordKey(key, locale)
	return s.mutate(string(status), func(l *ledger) func(*ledger) {
		prev, existed := l.records[k]
		l.apply(key, locale, status, reason, summary)
		next := l.records[k]
		return func(l *ledger) {
			if cur, ok := l.records[k]; !ok || !sameRecord(cur, next) {
				return
			}
			if existed {
				l.records[k] = prev
			} else {
				delete(l.records, k)
			}
		}
	})
}

func (s *FileStore) ListPending(context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.l.list(StatusPending), nil
}

func (s *FileStore) ListFailed(context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.l.list(StatusFailed), nil
}

func (s *FileStore) Stats(context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return computeStats(s.l.records), nil
}

func (s *FileStore) Session(context.Context) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.l.session, nil
}

func (s *FileStore) ResetSession(context.Context) error {
	err := s.mutate("reset", func(l *ledger) func(*ledger) {
		prev := *l
		*l = newLedger()
		id := l.session.ID
		return func(l *ledger) {
			if l.session.ID == id {
				*l = prev
			}
		}
	})
	if err == nil {
		s.logger.Info().Str("path", s.path).Msg("Progress session reset")
	}
	return err
}

func (s *FileStore) Close() error { return nil }

// mutate applies fn to the ledger and persists the result. fn returns the
// undo used when the write fails, so memory never runs ahead of the file.
func (s *FileStore) mutate(op string, fn func(*ledger) func(*ledger)) error {
	s.mu.Lock()
	undo := fn(&s.l)
	s.version++
	v := s.version
	s.mu.Unlock()

	if err := s.persist(v, undo); err != nil {
		ProgressErrors.WithLabelValues(BackendFile, op).Inc()
		return err
	}
	ProgressOps.WithLabelValues(BackendFile, op).Inc()
	return nil
}

// persist writes the current ledger unless a write at or after version v
// already succeeded. Snapshots are taken under writeMu, so a rolled back
// mutation is never part of a later write.
func (s *FileStore) persist(v uint64, undo func(*ledger)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// a newer snapshot already contains this mutation
	if s.written >= v {
		return nil
	}

	s.mu.RLock()
	cur := s.version
	data, err := json.MarshalIndent(fileState{
		Version:      cur,
		SessionID:    s.l.session.ID,
		SessionStart: s.l.session.Start.Format(time.RFC3339Nano),
		Records:      s.l.records,
	}, "", "  ")
	s.mu.RUnlock()

	if err == nil {
		start := time.Now()
		if werr := fsx.WriteFileAtomic(s.path, data, 0o644); werr != nil {
			err = fmt.Errorf("write progress file %s: %w", s.path, werr)
		} else {
			s.written = cur
			ProgressWriteSeconds.WithLabelValues(BackendFile).Observe(time.Since(start).Seconds())
			return nil
		}
	} else {
		err = fmt.Errorf("encode progress: %w", err)
	}

	s.mu.Lock()
	undo(&s.l)
	s.mu.Unlock()
	s.logger.Warn().Err(err).Str("path", s.path).Msg("Progress write failed - change rolled back")
	return err
}

func sameRecord(a, b Record) bool {
	return a.Key == b.Key &&
		a.Locale == b.Locale &&
		a.Status == b.Status &&
		a.Reason == b.Reason &&
		a.RetryCount == b.RetryCount &&
		a.UpdatedAt.Equal(b.UpdatedAt) &&
		bytes.Equal(a.Summary, b.Summary)
}
