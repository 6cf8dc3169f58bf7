package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/bgrams/fredio/internal/testutil"
)

// newTestClient builds a client pointed at the mock server with a fast
// rate limit window so retry tests finish quickly.
func newTestClient(t *testing.T, mock *testutil.MockFRED, mutate func(*Config)) *Client {
	t.Helper()

	cfg := DefaultConfig("test-key")
	cfg.BaseURL = mock.URL() + "/fred"
	cfg.RateLimit = 10
	cfg.RatePeriod = 200 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_Validation(t *testing.T) {
	t.Setenv(EnvAPIKey, "")

	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{
			name:        "valid config",
			config:      DefaultConfig("abc123"),
			expectError: false,
		},
		{
			name:        "missing api key",
			config:      DefaultConfig(""),
			expectError: true,
		},
		{
			name: "rate limit above quota",
			config: func() Config {
				cfg := DefaultConfig("abc123")
				cfg.RateLimit = 500
				return cfg
			}(),
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Error("expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c == nil {
				t.Fatal("client is nil")
			}
			c.Close()
		})
	}
}

func TestNew_APIKeyFromEnv(t *testing.T) {
	t.Setenv(EnvAPIKey, "env-key")

	c, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	if c.config.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want %q", c.config.APIKey, "env-key")
	}
}

func TestFetchAll_TwoPages(t *testing.T) {
	mock := testutil.NewMockFRED()
	defer mock.Close()
	mock.SetHandler("/fred/series/observations", testutil.NewPaginatedHandler([]string{"a", "b"}, 1))

	c := newTestClient(t, mock, nil)

	pages, err := c.FetchAll(context.Background(), mock.URL()+"/fred/series/observations", nil, 0)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	if len(pages) != 2 {
		t.Fatalf("len(pages) = %d, want 2", len(pages))
	}
	if mock.RequestCount() != 2 {
		t.Errorf("requests issued = %d, want 2", mock.RequestCount())
	}

	// Pages come back in offset order: probe (0) then 1.
	if pages[0].Offset != 0 || pages[1].Offset != 1 {
		t.Errorf("page offsets = %d,%d, want 0,1", pages[0].Offset, pages[1].Offset)
	}

	var obs []string
	if ok, err := pages[1].Decode("observations", &obs); !ok || err != nil {
		t.Fatalf("Decode() = (%v, %v)", ok, err)
	}
	if len(obs) != 1 || obs[0] != "b" {
		t.Errorf("second page observations = %v, want [b]", obs)
	}
}

func TestFetchAll_ManyPagesInOffsetOrder(t *testing.T) {
	items := make([]string, 25)
	for i := range items {
		items[i] = string(rune('a' + i))
	}

	mock := testutil.NewMockFRED()
	defer mock.Close()
	mock.SetHandler("/fred/series/observations", testutil.NewPaginatedHandler(items, 10))

	c := newTestClient(t, mock, nil)

	pages, err := c.FetchAll(context.Background(), mock.URL()+"/fred/series/observations", nil, 0)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	// 25 items at limit 10: offsets 0, 10, 20.
	if len(pages) != 3 {
		t.Fatalf("len(pages) = %d, want 3", len(pages))
	}
	for i, want := range []int{0, 10, 20} {
		if pages[i].Offset != want {
			t.Errorf("pages[%d].Offset = %d, want %d", i, pages[i].Offset, want)
		}
	}
}

func TestFetchAll_SinglePage(t *testing.T) {
	mock := testutil.NewMockFRED()
	defer mock.Close()
	mock.SetHandler("/fred/series", testutil.NewStatusHandler(http.StatusOK,
		`{"seriess":[{"id":"GNPCA"}]}`))

	c := newTestClient(t, mock, nil)

	pages, err := c.FetchAll(context.Background(), mock.URL()+"/fred/series", nil, 0)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("len(pages) = %d, want 1", len(pages))
	}
	if mock.RequestCount() != 1 {
		t.Errorf("requests issued = %d, want 1", mock.RequestCount())
	}
	if pages[0].Paginated() {
		t.Error("Paginated() = true for a body with no pagination fields")
	}
}

func TestFetchAll_ZeroLimitGuard(t *testing.T) {
	mock := testutil.NewMockFRED()
	defer mock.Close()
	mock.SetHandler("/fred/tags", testutil.NewStatusHandler(http.StatusOK,
		`{"count":5,"limit":0,"offset":0,"tags":[]}`))

	c := newTestClient(t, mock, nil)

	pages, err := c.FetchAll(context.Background(), mock.URL()+"/fred/tags", nil, 0)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	// limit 0 means no further pages even though count > 0.
	if len(pages) != 1 {
		t.Errorf("len(pages) = %d, want 1", len(pages))
	}
	if mock.RequestCount() != 1 {
		t.Errorf("requests issued = %d, want 1", mock.RequestCount())
	}
}

func TestFetchAll_PageFailureFailsWholeCall(t *testing.T) {
	mock := testutil.NewMockFRED()
	defer mock.Close()
	mock.SetHandler("/fred/release/series", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") == "2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		testutil.NewPaginatedHandler([]string{"a", "b", "c", "d"}, 1)(w, r)
	})

	c := newTestClient(t, mock, nil)

	_, err := c.FetchAll(context.Background(), mock.URL()+"/fred/release/series", nil, 0)
	if err == nil {
		t.Fatal("FetchAll() succeeded despite a failed page")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Class != ErrorClassServer {
		t.Errorf("Class = %q, want %q", apiErr.Class, ErrorClassServer)
	}
}

func TestFetchAll_MergesParams(t *testing.T) {
	mock := testutil.NewMockFRED()
	defer mock.Close()

	var gotQuery url.Values
	mock.SetHandler("/fred/series/observations", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		testutil.NewStatusHandler(http.StatusOK, `{}`)(w, r)
	})

	c := newTestClient(t, mock, nil)

	params := url.Values{"series_id": []string{"GNPCA"}, "tag_names": []string{"usa;m2"}}
	if _, err := c.FetchAll(context.Background(), mock.URL()+"/fred/series/observations", params, 0); err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	if gotQuery.Get("series_id") != "GNPCA" {
		t.Errorf("series_id = %q, want GNPCA", gotQuery.Get("series_id"))
	}
	if gotQuery.Get("tag_names") != "usa;m2" {
		t.Errorf("tag_names = %q, want usa;m2", gotQuery.Get("tag_names"))
	}
}

func TestRequest_RetryExhausted(t *testing.T) {
	mock := testutil.NewMockFRED()
	defer mock.Close()
	mock.SetHandler("/fred/series", testutil.NewRateLimitedHandler(100,
		testutil.NewStatusHandler(http.StatusOK, `{}`)))

	c := newTestClient(t, mock, nil)

	_, err := c.Request(context.Background(), http.MethodGet, mock.URL()+"/fred/series", 2)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("error = %v, want %v", err, ErrRetryExhausted)
	}

	// retries=2 means exactly 3 total attempts.
	if mock.RequestCount() != 3 {
		t.Errorf("attempts = %d, want 3", mock.RequestCount())
	}
}

func TestRequest_RetrySucceeds(t *testing.T) {
	mock := testutil.NewMockFRED()
	defer mock.Close()
	mock.SetHandler("/fred/series", testutil.NewRateLimitedHandler(3,
		testutil.NewStatusHandler(http.StatusOK, `{"seriess":[]}`)))

	c := newTestClient(t, mock, nil)

	page, err := c.Request(context.Background(), http.MethodGet, mock.URL()+"/fred/series", 3)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if page == nil {
		t.Fatal("Request() returned nil page")
	}

	// Three 429s then a 200: four attempts in total.
	if mock.RequestCount() != 4 {
		t.Errorf("attempts = %d, want 4", mock.RequestCount())
	}
}

func TestRequest_FatalStatusNoRetry(t *testing.T) {
	tests := []struct {
		name   string
		status int
		class  ErrorClass
	}{
		{"server error", http.StatusInternalServerError, ErrorClassServer},
		{"not found", http.StatusNotFound, ErrorClassClient},
		{"bad request", http.StatusBadRequest, ErrorClassClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockFRED()
			defer mock.Close()
			mock.SetHandler("/fred/series", testutil.NewStatusHandler(tt.status, `{"error_message":"nope"}`))

			c := newTestClient(t, mock, nil)

			_, err := c.Request(context.Background(), http.MethodGet, mock.URL()+"/fred/series", 5)
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.Class != tt.class {
				t.Errorf("Class = %q, want %q", apiErr.Class, tt.class)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}

			// Fatal statuses never retry, even with retries available.
			if mock.RequestCount() != 1 {
				t.Errorf("attempts = %d, want 1", mock.RequestCount())
			}
		})
	}
}

func TestRequest_TransportError(t *testing.T) {
	mock := testutil.NewMockFRED()
	c := newTestClient(t, mock, nil)
	mock.Close() // connection refused from here on

	_, err := c.Request(context.Background(), http.MethodGet, mock.URL()+"/fred/series", 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Class != ErrorClassNetwork {
		t.Errorf("Class = %q, want %q", apiErr.Class, ErrorClassNetwork)
	}
}

func TestRequest_PublishesEvent(t *testing.T) {
	mock := testutil.NewMockFRED()
	defer mock.Close()
	mock.SetHandler("/fred/series/observations", testutil.NewStatusHandler(http.StatusOK,
		`{"count":1,"limit":100,"offset":0,"observations":[{"value":"2.5"}]}`))

	c := newTestClient(t, mock, func(cfg *Config) {
		cfg.EnableEvents = true
	})

	got := make(chan *Page, 1)
	if err := c.Events().On("observations", func(ctx context.Context, payload any) error {
		got <- payload.(*Page)
		return nil
	}); err != nil {
		t.Fatalf("On() error = %v", err)
	}
	c.Events().Listen()

	if _, err := c.Request(context.Background(), http.MethodGet, mock.URL()+"/fred/series/observations", 0); err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	select {
	case page := <-got:
		if page.Count != 1 {
			t.Errorf("event page Count = %d, want 1", page.Count)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestRequest_ContextCancelled(t *testing.T) {
	mock := testutil.NewMockFRED()
	defer mock.Close()

	c := newTestClient(t, mock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Request(ctx, http.MethodGet, mock.URL()+"/fred/series", 0)
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("error = %v, want %v", err, ErrContextCancelled)
	}
}

func TestGet_AppliesDefaults(t *testing.T) {
	mock := testutil.NewMockFRED()
	defer mock.Close()

	var gotQuery url.Values
	mock.SetHandler("/fred/series/observations", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		testutil.NewStatusHandler(http.StatusOK, `{}`)(w, r)
	})

	c := newTestClient(t, mock, nil)

	if _, err := c.Get(context.Background(), "series/observations", url.Values{
		"series_id": []string{"GNPCA"},
	}); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if gotQuery.Get("api_key") != "test-key" {
		t.Errorf("api_key = %q, want test-key", gotQuery.Get("api_key"))
	}
	if gotQuery.Get("file_type") != "json" {
		t.Errorf("file_type = %q, want json", gotQuery.Get("file_type"))
	}
	if gotQuery.Get("series_id") != "GNPCA" {
		t.Errorf("series_id = %q, want GNPCA", gotQuery.Get("series_id"))
	}
}

func TestPageOffsets(t *testing.T) {
	tests := []struct {
		name                 string
		count, limit, offset int
		want                 []int
	}{
		{"two pages", 2, 1, 0, []int{1}},
		{"exact multiple", 30, 10, 0, []int{10, 20}},
		{"ragged tail", 25, 10, 0, []int{10, 20}},
		{"single page", 5, 10, 0, nil},
		{"zero limit", 100, 0, 0, nil},
		{"resume mid-way", 30, 10, 10, []int{20}},
		{"zero count", 0, 10, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pageOffsets(tt.count, tt.limit, tt.offset)
			if len(got) != len(tt.want) {
				t.Fatalf("pageOffsets() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("pageOffsets()[%d] = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLastPathSegment(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/fred/series/observations", "observations"},
		{"/fred/series/observations/", "observations"},
		{"/fred/category", "category"},
		{"observations", "observations"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := lastPathSegment(tt.path); got != tt.want {
			t.Errorf("lastPathSegment(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
