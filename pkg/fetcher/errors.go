package fetcher

import (
	"errors"
	"fmt"
	"time"
)

// Common errors returned by the fetcher.
var (
	// ErrRetryExhausted is wrapped into the final error when all attempts failed.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// ErrorKind classifies a failed fetch attempt.
type ErrorKind string

const (
	// KindTimeout is a per-attempt timeout (connect, headers or body).
	KindTimeout ErrorKind = "timeout"

	// KindNetwork is a transport failure other than a timeout.
	KindNetwork ErrorKind = "network"

	// KindServer is a 5xx response.
	KindServer ErrorKind = "server_error"

	// KindRateLimited is a 429 response.
	KindRateLimited ErrorKind = "rate_limited"

	// KindClient is any other non-2xx response, or a malformed request.
	KindClient ErrorKind = "client_error"

	// KindCanceled means the caller's context ended.
	KindCanceled ErrorKind = "canceled"
)

// FetchError describes why a fetch produced no payload.
type FetchError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Attempts   int
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: %s (status %d, attempts %d): %v",
			e.URL, e.Kind, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s (attempts %d): %v", e.URL, e.Kind, e.Attempts, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// shouldRetry reports whether an attempt that failed with kind may be repeated.
func shouldRetry(kind ErrorKind) bool {
	switch kind {
	case KindTimeout, KindNetwork, KindServer, KindRateLimited:
		return true
	case KindClient:
		// 4xx other than 429 will not change on retry
		return false
	default:
		return false
	}
}
