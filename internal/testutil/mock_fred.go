// Package testutil provides testing utilities for the FRED client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// MockFRED is a configurable mock FRED server for testing.
type MockFRED struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	requestCount int
	seenOffsets  []int
}

// NewMockFRED creates a new mock FRED server.
func NewMockFRED() *MockFRED {
	mock := &MockFRED{
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		if off := r.URL.Query().Get("offset"); off != "" {
			if n, err := strconv.Atoi(off); err == nil {
				mock.seenOffsets = append(mock.seenOffsets, n)
			}
		}
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockFRED) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockFRED) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockFRED) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.seenOffsets = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockFRED) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// RequestCount returns the number of requests made to the server.
func (m *MockFRED) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// SeenOffsets returns the offset query values observed, in arrival order.
func (m *MockFRED) SeenOffsets() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.seenOffsets...)
}

// defaultHandler returns an empty single-page body.
func (m *MockFRED) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

// NewPaginatedHandler serves count/limit pagination over the given items
// under the "observations" field, slicing by the request's offset.
func NewPaginatedHandler(items []string, limit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset := 0
		if off := r.URL.Query().Get("offset"); off != "" {
			if n, err := strconv.Atoi(off); err == nil {
				offset = n
			}
		}

		end := offset + limit
		if end > len(items) {
			end = len(items)
		}
		var page []string
		if offset < len(items) {
			page = items[offset:end]
		}

		body := map[string]any{
			"count":        len(items),
			"limit":        limit,
			"offset":       offset,
			"observations": page,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(body)
	}
}

// NewRateLimitedHandler replies 429 for the first rejections calls, then
// delegates to next.
func NewRateLimitedHandler(rejections int, next http.HandlerFunc) http.HandlerFunc {
	var mu sync.Mutex
	calls := 0

	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		reject := calls <= rejections
		mu.Unlock()

		if reject {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error_code":429,"error_message":"Too Many Requests"}`)
			return
		}
		next(w, r)
	}
}

// NewStatusHandler replies with a fixed status and body.
func NewStatusHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}
}
