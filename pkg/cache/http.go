package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is the freshness given to pages that send no caching headers.
const DefaultTTL = 6 * time.Hour

// Cacheable reports whether a response with header h may be stored.
func Cacheable(status int, h http.Header) bool {
	if status != http.StatusOK {
		return false
	}
	for _, directive := range cacheControl(h) {
		if directive == "no-store" {
			return false
		}
	}
	return true
}

// NewEntry builds an entry for a 200 response. fallback is the freshness
// used when the response carries neither max-age nor Expires.
func NewEntry(rawURL string, status int, h http.Header, body []byte, now time.Time, fallback time.Duration) *Entry {
	entry := &Entry{
		URL:        rawURL,
		Body:       body,
		ETag:       h.Get("ETag"),
		StatusCode: status,
		CachedAt:   now,
		Expires:    FreshUntil(h, now, fallback),
	}
	if lm := h.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			entry.LastModified = t
		}
	}
	return entry
}

// FreshUntil returns the expiry implied by h: Cache-Control max-age wins
// over Expires, and no-cache makes the page stale immediately.
func FreshUntil(h http.Header, now time.Time, fallback time.Duration) time.Time {
	if fallback <= 0 {
		fallback = DefaultTTL
	}
	for _, directive := range cacheControl(h) {
		switch {
		case directive == "no-cache":
			return now
		case strings.HasPrefix(directive, "max-age="):
			secs, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age="))
			if err == nil && secs >= 0 {
				return now.Add(time.Duration(secs) * time.Second)
			}
		}
	}

	if v := h.Get("Expires"); v != "" {
		expires, err := http.ParseTime(v)
		if err != nil {
			// Unparseable Expires means already expired.
			return now
		}
		if expires.Before(now) {
			return now
		}
		return expires
	}
	return now.Add(fallback)
}

// Revalidated returns a copy of e with its expiry and validators refreshed
// from the headers of a 304 response.
func Revalidated(e *Entry, h http.Header, now time.Time, fallback time.Duration) *Entry {
	next := *e
	next.CachedAt = now
	next.Expires = FreshUntil(h, now, fallback)
	if etag := h.Get("ETag"); etag != "" {
		next.ETag = etag
	}
	if lm := h.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			next.LastModified = t
		}
	}
	return &next
}

// AddConditionalHeaders sets If-None-Match, or If-Modified-Since when the
// entry has no ETag.
func AddConditionalHeaders(req *http.Request, e *Entry) {
	if req == nil || !e.HasValidators() {
		return
	}
	if e.ETag != "" {
		req.Header.Set("If-None-Match", e.ETag)
	} else {
		req.Header.Set("If-Modified-Since", e.LastModified.UTC().Format(http.TimeFormat))
	}
}

func cacheControl(h http.Header) []string {
	var out []string
	for _, v := range h.Values("Cache-Control") {
		for _, part := range strings.Split(v, ",") {
			if d := strings.ToLower(strings.TrimSpace(part)); d != "" {
				out = append(out, d)
			}
		}
	}
	return out
}
