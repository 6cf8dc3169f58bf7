// Package client provides the core FRED HTTP client with rate limiting,
// pagination fan-out, caching, and event publication.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bgrams/fredio/pkg/cache"
	"github.com/bgrams/fredio/pkg/clock"
	"github.com/bgrams/fredio/pkg/events"
	"github.com/bgrams/fredio/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the FRED API root.
const DefaultBaseURL = "https://api.stlouisfed.org/fred"

// EnvAPIKey is the environment variable consulted when no API key is
// configured explicitly.
const EnvAPIKey = "FRED_API_KEY"

// Prometheus metrics for FRED client operations.
var (
	fredRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fred_requests_total",
		Help: "Total FRED requests by endpoint and status",
	}, []string{"endpoint", "status"})

	fredRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fred_request_duration_seconds",
		Help:    "FRED request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"endpoint"})

	fredErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fred_errors_total",
		Help: "Total FRED errors by class",
	}, []string{"class"})

	fredRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fred_retries_total",
		Help: "Total 429 retry attempts",
	})

	fredRetryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fred_retry_backoff_seconds",
		Help:    "Backoff duration for 429 retries",
		Buckets: []float64{1, 2, 5, 10, 30, 60},
	})

	fredRetryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fred_retry_exhausted_total",
		Help: "Total requests that exhausted their 429 retries",
	})
)

// Client is the main FRED client.
type Client struct {
	httpClient *http.Client
	gate       *ratelimit.Gate
	bus        *events.Bus
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root (default DefaultBaseURL).
	BaseURL string

	// APIKey is the FRED API key. Falls back to FRED_API_KEY.
	APIKey string

	// Defaults are query parameters merged into every request
	// (file_type=json and the api_key are always included).
	Defaults url.Values

	// Rate limiting: permits per window and the window period.
	RateLimit  int
	RatePeriod time.Duration

	// MaxRetries bounds 429 retries per request (attempts = retries + 1).
	MaxRetries int

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// EnableEvents attaches an event bus; register handlers via Events()
	// and start dispatch with Events().Listen().
	EnableEvents bool

	// EventQueueSize bounds the undelivered event queue.
	EventQueueSize int

	// DrainTimeout bounds the event drain on Close.
	DrainTimeout time.Duration

	// Redis enables response caching when set together with CacheTTL.
	Redis    *redis.Client
	CacheTTL time.Duration
}

// DefaultConfig returns a safe default configuration for the published
// FRED quota.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		APIKey:         apiKey,
		RateLimit:      ratelimit.DefaultCapacity,
		RatePeriod:     ratelimit.DefaultPeriod,
		MaxRetries:     3,
		Timeout:        30 * time.Second,
		EventQueueSize: events.DefaultQueueSize,
		DrainTimeout:   5 * time.Second,
	}
}

// APIKeyFromEnv returns the API key from the FRED_API_KEY environment
// variable.
func APIKeyFromEnv() string {
	return os.Getenv(EnvAPIKey)
}

// New creates a new FRED client. The rate limiter's replenishment loop is
// started; callers own the returned client and release it with Close.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = APIKeyFromEnv()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required (set %s or Config.APIKey)", EnvAPIKey)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = ratelimit.DefaultCapacity
	}
	if cfg.RateLimit > ratelimit.DefaultCapacity {
		return nil, fmt.Errorf("rate_limit must be <= %d (got %d)", ratelimit.DefaultCapacity, cfg.RateLimit)
	}
	if cfg.RatePeriod <= 0 {
		cfg.RatePeriod = ratelimit.DefaultPeriod
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "fred-client").Logger()
	clk := clock.NewMonotonicClock()

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		gate:   ratelimit.NewGate(cfg.RateLimit, cfg.RatePeriod, clk, logger),
		config: cfg,
		logger: logger,
	}

	if cfg.EnableEvents {
		c.bus = events.NewBus(cfg.EventQueueSize, logger)
	}
	if cfg.Redis != nil && cfg.CacheTTL > 0 {
		c.cache = cache.NewManager(cfg.Redis, cfg.CacheTTL)
	}

	return c, nil
}

// Events returns the attached event bus, or nil when events are disabled.
func (c *Client) Events() *events.Bus {
	return c.bus
}

// RateGate returns the admission gate; Reconfigure changes the active
// limits without disturbing in-flight work.
func (c *Client) RateGate() *ratelimit.Gate {
	return c.gate
}

// Request performs one rate-limited HTTP request and decodes the JSON
// body. 429 responses are retried up to retries times with epoch-aligned
// backoff; any other non-2xx status is fatal immediately. The permit is
// always released before a backoff sleep so the freed slot rejoins the
// pool at the next epoch instead of being held for the sleep.
func (c *Client) Request(ctx context.Context, method, rawurl string, retries int) (*Page, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	endpoint := u.Path

	start := time.Now()
	defer func() {
		fredRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	if method == http.MethodGet && c.cache != nil {
		if page, ok := c.cacheLookup(ctx, u); ok {
			fredRequestsTotal.WithLabelValues(endpoint, "cached").Inc()
			return page, nil
		}
	}

	attempts := 0
	for {
		body, status, err := c.doOnce(ctx, method, rawurl)
		attempts++

		if err != nil {
			if errors.Is(err, ErrContextCancelled) {
				return nil, err
			}
			fredErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			fredRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
			return nil, &APIError{
				Class:    ErrorClassNetwork,
				Message:  "transport failure",
				Attempts: attempts,
				Err:      err,
			}
		}

		if status == http.StatusTooManyRequests {
			fredErrorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			fredRequestsTotal.WithLabelValues(endpoint, "429").Inc()

			if attempts > retries {
				fredRetryExhaustedTotal.Inc()
				c.logger.Warn().
					Str("endpoint", endpoint).
					Int("attempts", attempts).
					Msg("Rate limit retries exhausted")
				return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, attempts, &APIError{
					StatusCode: status,
					Class:      ErrorClassRateLimit,
					Message:    "too many requests",
					Attempts:   attempts,
				})
			}

			// The permit was released inside doOnce, before this sleep.
			backoff := c.gate.Backoff()
			fredRetriesTotal.Inc()
			fredRetryBackoffSeconds.Observe(backoff.Seconds())
			c.logger.Debug().
				Str("endpoint", endpoint).
				Int("attempt", attempts).
				Dur("backoff", backoff).
				Msg("Rate limited, retrying at next window")

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
			case <-time.After(backoff):
			}
			continue
		}

		if status < 200 || status >= 300 {
			class := classifyStatus(status)
			fredErrorsTotal.WithLabelValues(string(class)).Inc()
			fredRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", status)).Inc()
			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", status).
				Str("error_class", string(class)).
				Msg("FRED request error")
			return nil, &APIError{
				StatusCode: status,
				Class:      class,
				Message:    http.StatusText(status),
				Attempts:   attempts,
			}
		}

		var page Page
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}

		fredRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", status)).Inc()

		if c.bus != nil && c.bus.Listening() {
			c.bus.Produce(lastPathSegment(endpoint), &page)
		}
		if method == http.MethodGet && c.cache != nil {
			c.cacheStore(ctx, u, body)
		}

		return &page, nil
	}
}

// doOnce performs exactly one gated HTTP round trip, returning the body
// and status. The permit is released before returning in every path.
func (c *Client) doOnce(ctx context.Context, method, rawurl string) ([]byte, int, error) {
	release, err := c.gate.Acquire(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrContextCancelled, err)
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, method, rawurl, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response body: %w", err)
	}

	return body, resp.StatusCode, nil
}

// FetchAll performs a paginated GET: a probe request first, then one
// concurrent request per remaining offset once the total count is known.
// True parallelism is bounded by the rate limiter's capacity, not by any
// worker pool here. Any page failure fails the whole call; pages come back
// in offset order with the probe first.
//
// The upstream result set is assumed stable between the probe and the
// fan-out; a concurrent upstream mutation can produce gaps or duplicates
// across pages. Known limitation.
func (c *Client) FetchAll(ctx context.Context, rawurl string, params url.Values, retries int) ([]*Page, error) {
	u := rawurl
	if len(params) > 0 {
		var err error
		if u, err = WithParams(rawurl, params); err != nil {
			return nil, fmt.Errorf("build url: %w", err)
		}
	}

	probe, err := c.Request(ctx, http.MethodGet, u, retries)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Int("count", probe.Count).
		Int("limit", probe.Limit).
		Int("offset", probe.Offset).
		Msg("Probe page fetched")

	if !probe.Paginated() {
		return []*Page{probe}, nil
	}

	offsets := pageOffsets(probe.Count, probe.Limit, probe.Offset)
	if len(offsets) == 0 {
		return []*Page{probe}, nil
	}

	c.logger.Debug().
		Int("additional_requests", len(offsets)).
		Msg("Fanning out paginated requests")

	pages := make([]*Page, len(offsets)+1)
	pages[0] = probe
	errs := make(chan error, len(offsets))

	var wg sync.WaitGroup
	for i, offset := range offsets {
		wg.Add(1)
		go func(i, offset int) {
			defer wg.Done()

			pu, err := WithOffset(u, offset)
			if err != nil {
				errs <- fmt.Errorf("offset %d: %w", offset, err)
				return
			}

			page, err := c.Request(ctx, http.MethodGet, pu, retries)
			if err != nil {
				errs <- fmt.Errorf("offset %d: %w", offset, err)
				return
			}
			pages[i+1] = page
		}(i, offset)
	}
	wg.Wait()
	close(errs)

	// No partial-success mode: one failed page fails the whole fetch.
	if err := <-errs; err != nil {
		return nil, err
	}
	return pages, nil
}

// Get fetches all pages for an endpoint path (e.g. "series/observations")
// relative to the configured base URL, with the client's default
// parameters and API key applied.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) ([]*Page, error) {
	rawurl := strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.Trim(endpoint, "/")

	merged := url.Values{
		"api_key":   []string{c.config.APIKey},
		"file_type": []string{"json"},
	}
	for key, vals := range c.config.Defaults {
		merged[key] = vals
	}
	for key, vals := range params {
		merged[key] = vals
	}

	return c.FetchAll(ctx, rawurl, merged, c.config.MaxRetries)
}

// Close stops the rate limiter loop and drains the event bus.
func (c *Client) Close() error {
	c.gate.Stop()

	if c.bus != nil {
		if n, err := c.bus.Cancel(c.config.DrainTimeout); err != nil {
			return fmt.Errorf("event drain: %d undelivered: %w", n, err)
		}
	}
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// cacheLookup returns a decoded cached page for u, if one exists.
func (c *Client) cacheLookup(ctx context.Context, u *url.URL) (*Page, bool) {
	entry, err := c.cache.Get(ctx, cacheKeyFor(u))
	if err != nil {
		if err != cache.ErrCacheMiss {
			c.logger.Warn().Err(err).Str("endpoint", u.Path).Msg("Cache get error")
		}
		return nil, false
	}

	var page Page
	if err := json.Unmarshal(entry.Data, &page); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", u.Path).Msg("Corrupt cache entry")
		return nil, false
	}
	return &page, true
}

// cacheStore writes a successful response body to the cache. Failures
// degrade to uncached operation.
func (c *Client) cacheStore(ctx context.Context, u *url.URL, body []byte) {
	if err := c.cache.Set(ctx, cacheKeyFor(u), body); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", u.Path).Msg("Failed to cache response")
	}
}

// cacheKeyFor builds a cache key for a request URL, excluding the api_key
// so credentials never reach the cache backend.
func cacheKeyFor(u *url.URL) cache.Key {
	q := u.Query()
	q.Del("api_key")
	return cache.Key{Endpoint: u.Path, Query: q}
}

// pageOffsets computes the remaining page offsets after the probe:
// starting at offset+limit, stepping by limit, while below count.
// A zero limit means no further pages even when count is positive.
func pageOffsets(count, limit, offset int) []int {
	if limit <= 0 {
		return nil
	}

	var offsets []int
	for next := offset + limit; next < count; next += limit {
		offsets = append(offsets, next)
	}
	return offsets
}

// lastPathSegment derives the event name from a request path:
// "/fred/series/observations" -> "observations".
func lastPathSegment(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
