// Package ratelimit gates fetch starts process-wide. A token bucket admits at
// most RPS starts per second, and a cooldown window opened by 429 responses
// pauses every start until the server's Retry-After has passed.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MaxCooldown caps how long a single Retry-After can pause the limiter.
const MaxCooldown = 2 * time.Minute

// State is a snapshot of the limiter.
type State struct {
	// RPS is the configured start rate.
	RPS float64 `json:"rps"`

	// PausedUntil is the end of the current 429 cooldown (zero if none).
	PausedUntil time.Time `json:"paused_until"`

	// Throttled is the number of 429 responses reported to the limiter.
	Throttled int64 `json:"throttled"`

	// Waits is the number of starts that had to wait for a token or cooldown.
	Waits int64 `json:"waits"`
}

// IsPaused reports whether a cooldown is active at now.
func (s State) IsPaused(now time.Time) bool {
	return now.Before(s.PausedUntil)
}

// TimeUntilResume returns how long starts stay paused. Returns 0 if not paused.
func (s State) TimeUntilResume(now time.Time) time.Duration {
	d := s.PausedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ParseRetryAfter reads a Retry-After header value, either delta-seconds or
// an HTTP date. It returns 0 when the header is absent or unparseable.
func ParseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return clampCooldown(time.Duration(secs) * time.Second)
	}
	if at, err := http.ParseTime(v); err == nil {
		return clampCooldown(at.Sub(now))
	}
	return 0
}

func clampCooldown(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > MaxCooldown {
		return MaxCooldown
	}
	return d
}
