// Package testutil provides testing utilities for the description pipeline.
package testutil

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock page response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockSite is a configurable mock shop server for testing.
type MockSite struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	hits     map[string]int
	total    int

	inFlight    int
	maxInFlight int
}

// NewMockSite creates a new mock site. Unconfigured paths answer 404.
func NewMockSite() *MockSite {
	mock := &MockSite{
		handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.total++
		mock.hits[r.URL.Path]++
		mock.inFlight++
		if mock.inFlight > mock.maxInFlight {
			mock.maxInFlight = mock.inFlight
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		defer func() {
			mock.mu.Lock()
			mock.inFlight--
			mock.mu.Unlock()
		}()

		if exists {
			handler(w, r)
			return
		}
		http.NotFound(w, r)
	}))

	return mock
}

// URL returns the mock server base URL.
func (m *MockSite) URL() string {
	return m.server.URL
}

// PageURL returns the absolute URL of path on the mock server.
func (m *MockSite) PageURL(path string) string {
	return m.server.URL + path
}

// Close shuts down the mock server.
func (m *MockSite) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockSite) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = 0
	m.maxInFlight = 0
	m.hits = make(map[string]int)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockSite) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockSite) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, r, resp)
	})
}

// SetSequence answers successive requests to path with the given responses
// in order. The last response repeats once the sequence is used up.
func (m *MockSite) SetSequence(path string, seq ...MockResponse) {
	var mu sync.Mutex
	next := 0
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := seq[next]
		if next < len(seq)-1 {
			next++
		}
		mu.Unlock()
		writeResponse(w, r, resp)
	})
}

// Hits returns the number of requests made to path.
func (m *MockSite) Hits(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hits[path]
}

// TotalHits returns the number of requests made to the server.
func (m *MockSite) TotalHits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// MaxInFlight returns the highest number of concurrent requests observed.
func (m *MockSite) MaxInFlight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxInFlight
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp MockResponse) {
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

// NewProductPage creates a 200 response with a minimal product page.
func NewProductPage(title, description string) MockResponse {
	body := fmt.Sprintf(`<!DOCTYPE html>
<html><head><title>%[1]s</title>
<meta property="og:title" content="%[1]s">
<meta name="description" content="%[2]s">
</head><body>
<h1 class="product-title">%[1]s</h1>
<div class="product-description"><p>%[2]s</p></div>
<table class="product-features">
<tr><td>Brand</td><td>Acme</td></tr>
<tr><td>Weight</td><td>1 kg</td></tr>
</table>
</body></html>`, html.EscapeString(title), html.EscapeString(description))

	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "text/html; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockResponse {
	headers := map[string]string{"Content-Type": "text/plain"}
	if retryAfter != "" {
		headers["Retry-After"] = retryAfter
	}
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       "Too Many Requests",
		Headers:    headers,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       "Internal Server Error",
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       "Not Found",
	}
}
