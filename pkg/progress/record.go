package progress

import (
	"encoding/json"
	"time"
)

// Status is the processing state of one (key, locale) pair.
type Status string

const (
	// StatusPending means the pair was touched but not finished.
	StatusPending Status = "pending"

	// StatusProcessed means the pair completed and its summary is stored.
	StatusProcessed Status = "processed"

	// StatusFailed means the pair ended in an unrecoverable error.
	StatusFailed Status = "failed"
)

// Record is the stored state of one (key, locale) pair. Callers always get
// copies; mutating a Record never changes the store.
type Record struct {
	Key        string          `json:"key"`
	Locale     string          `json:"locale"`
	Status     Status          `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	RetryCount int             `json:"retry_count"`
	Summary    json.RawMessage `json:"summary,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Stats summarizes the store.
type Stats struct {
	Processed      int     `json:"processed"`
	Pending        int     `json:"pending"`
	Failed         int     `json:"failed"`
	Total          int     `json:"total"`
	CompletionRate float64 `json:"completion_rate"`
}

// Session identifies one progress session. ResetSession starts a new one.
type Session struct {
	ID    string    `json:"session_id"`
	Start time.Time `json:"session_start"`
}

func (r Record) clone() Record {
	if r.Summary != nil {
		r.Summary = append(json.RawMessage(nil), r.Summary...)
	}
	return r
}

func computeStats(records map[string]Record) Stats {
	var s Stats
	for _, r := range records {
		switch r.Status {
		case StatusProcessed:
			s.Processed++
		case StatusPending:
			s.Pending++
		case StatusFailed:
			s.Failed++
		}
	}
	s.Total = s.Processed + s.Pending + s.Failed
	if s.Total > 0 {
		s.CompletionRate = float64(s.Processed) / float64(s.Total)
	}
	return s
}

// transition builds the next record for a pair from its previous state.
// A pending mark on a pair seen before counts as a retry.
func transition(prev Record, existed bool, key, locale string, status Status, reason string, summary json.RawMessage, now time.Time) Record {
	next := Record{
		Key:       key,
		Locale:    locale,
		Status:    status,
		Reason:    reason,
		UpdatedAt: now.UTC(),
	}
	if existed {
		next.RetryCount = prev.RetryCount
		if status == StatusPending {
			next.RetryCount++
		}
	}
	if status == StatusProcessed {
		next.Summary = append(json.RawMessage(nil), summary...)
	}
	return next
}
