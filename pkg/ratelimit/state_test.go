package ratelimit

import (
	"net/http"
	"testing"
	"time"
)

func TestState_IsPaused(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"no cooldown", State{}, false},
		{"cooldown in future", State{PausedUntil: now.Add(time.Second)}, true},
		{"cooldown passed", State{PausedUntil: now.Add(-time.Second)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsPaused(now); got != tt.expected {
				t.Errorf("IsPaused() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_TimeUntilResume(t *testing.T) {
	now := time.Now()

	s := State{PausedUntil: now.Add(5 * time.Second)}
	if got := s.TimeUntilResume(now); got != 5*time.Second {
		t.Errorf("TimeUntilResume() = %v, want 5s", got)
	}

	s = State{PausedUntil: now.Add(-5 * time.Second)}
	if got := s.TimeUntilResume(now); got != 0 {
		t.Errorf("TimeUntilResume() = %v, want 0 for past cooldown", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name     string
		value    string
		expected time.Duration
	}{
		{"absent", "", 0},
		{"seconds", "7", 7 * time.Second},
		{"zero seconds", "0", 0},
		{"negative seconds", "-3", 0},
		{"garbage", "soon", 0},
		{"http date", now.Add(30 * time.Second).Format(http.TimeFormat), 30 * time.Second},
		{"http date in past", now.Add(-30 * time.Second).Format(http.TimeFormat), 0},
		{"clamped", "86400", MaxCooldown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.value != "" {
				h.Set("Retry-After", tt.value)
			}
			if got := ParseRetryAfter(h, now); got != tt.expected {
				t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.value, got, tt.expected)
			}
		})
	}
}
