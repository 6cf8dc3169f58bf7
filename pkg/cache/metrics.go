package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for cache operations.
var (
	// CacheHits counts successful cache lookups.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fred_cache_hits_total",
		Help: "Total cache hits",
	})

	// CacheMisses counts lookups that fell through to the upstream.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fred_cache_misses_total",
		Help: "Total cache misses",
	})

	// CacheSize tracks bytes written to the cache.
	CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fred_cache_size_bytes",
		Help: "Bytes written to the response cache",
	})

	// CacheErrors counts failed cache operations by operation name.
	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fred_cache_errors_total",
		Help: "Total cache operation errors",
	}, []string{"operation"})
)
