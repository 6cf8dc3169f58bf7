// Package metrics provides the centralized Prometheus metrics registry for
// the FRED client. All metrics are defined in their respective packages
// (client, cache, ratelimit, events) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the FRED client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - fred_rate_limit_permits_in_use (Gauge): Permits held against the active window
//   - fred_rate_limit_acquire_wait_seconds (Histogram): Time spent waiting for a permit
//   - fred_rate_limit_permits_replenished_total (Counter): Permits returned by the loop
//
// Request Metrics (pkg/client):
//   - fred_requests_total{endpoint, status} (Counter): Requests by endpoint and outcome
//   - fred_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - fred_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - fred_retries_total (Counter): 429 retry attempts
//   - fred_retry_backoff_seconds (Histogram): Backoff duration before retries
//   - fred_retry_exhausted_total (Counter): Requests that exhausted their retries
//
// Event Metrics (pkg/events):
//   - fred_events_dispatched_total{event} (Counter): Events dispatched by name
//   - fred_events_dropped_total (Counter): Events abandoned during shutdown drain
//   - fred_event_handler_errors_total{event} (Counter): Handler errors by event name
//
// Cache Metrics (pkg/cache):
//   - fred_cache_hits_total (Counter): Cache hits
//   - fred_cache_misses_total (Counter): Cache misses
//   - fred_cache_size_bytes (Gauge): Bytes written to the cache
//   - fred_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   rate(fred_cache_hits_total[5m]) /
//   (rate(fred_cache_hits_total[5m]) + rate(fred_cache_misses_total[5m]))
//
//   # Quota Pressure (permits in use vs the 120 cap)
//   fred_rate_limit_permits_in_use
//
//   # Request Error Rate
//   rate(fred_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(fred_request_duration_seconds_bucket[5m]))
//
//   # Retry Pressure
//   rate(fred_retries_total[5m])
