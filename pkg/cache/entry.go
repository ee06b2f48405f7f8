package cache

import "time"

// Entry is a cached page.
type Entry struct {
	// URL is the page address the entry was fetched from.
	URL string `json:"url"`

	// Body is the page payload.
	Body []byte `json:"body"`

	// ETag is the validator for If-None-Match.
	ETag string `json:"etag,omitempty"`

	// LastModified is the validator for If-Modified-Since.
	LastModified time.Time `json:"last_modified,omitempty"`

	// Expires is when the entry stops being fresh.
	Expires time.Time `json:"expires"`

	// StatusCode is the status of the response that produced Body.
	StatusCode int `json:"status_code"`

	// CachedAt is when the body was stored or last revalidated.
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired reports whether the entry is stale at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.Expires)
}

// TTL returns how long the entry stays fresh after now. Returns 0 if stale.
func (e *Entry) TTL(now time.Time) time.Duration {
	ttl := e.Expires.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// HasValidators reports whether a stale entry can be revalidated.
func (e *Entry) HasValidators() bool {
	return e != nil && (e.ETag != "" || !e.LastModified.IsZero())
}
