package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bgrams/fredio/pkg/client"
	"github.com/bgrams/fredio/pkg/logging"
)

func main() {
	logger := logging.Setup(logging.Config{
		Level:      logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Output:     os.Stderr,
		MaskAPIKey: true,
	})

	apiKey := getEnv("FRED_API_KEY", "")
	if apiKey == "" {
		logger.Fatal().Msg("FRED_API_KEY is required")
	}
	port := getEnv("PORT", "8080")
	redisURL := getEnv("REDIS_URL", "")
	retries := getEnvInt("MAX_RETRIES", 3, logger)

	cfg := client.DefaultConfig(apiKey)
	cfg.MaxRetries = retries

	var redisClient *redis.Client
	if redisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: redisURL,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", redisURL).Msg("failed to connect to Redis")
		}
		logger.Info().Str("addr", redisURL).Msg("connected to Redis")
		cfg.Redis = redisClient
		cfg.CacheTTL = getEnvDuration("CACHE_TTL", time.Hour, logger)
	}

	fredClient, err := client.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create FRED client")
	}
	defer fredClient.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/fred/", fredProxyHandler(fredClient, logger))

	addr := ":" + port
	logger.Info().Str("addr", addr).Msg("starting FRED proxy server")

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// readyHandler reports readiness. With caching enabled readiness includes
// the Redis connection; without it the handler always reports ready.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("NOT READY: redis unreachable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	}
}

// fredProxyHandler forwards /fred/<endpoint>?<params> to the upstream API
// through the rate-limited client and returns the collected pages as a
// JSON array.
func fredProxyHandler(c *client.Client, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endpoint := strings.TrimPrefix(r.URL.Path, "/fred")
		if endpoint == "" || endpoint == "/" {
			http.Error(w, "missing endpoint path", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()

		pages, err := c.Get(ctx, endpoint, r.URL.Query())
		if err != nil {
			logger.Warn().Err(err).Str("endpoint", endpoint).Msg("upstream request failed")
			http.Error(w, "FRED request failed: "+err.Error(), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(pages); err != nil {
			logger.Warn().Err(err).Msg("failed to write response")
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, logger zerolog.Logger) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logger.Fatal().Str("key", key).Str("value", value).Msg("invalid integer environment variable")
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration, logger zerolog.Logger) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Fatal().Str("key", key).Str("value", value).Msg("invalid duration environment variable")
	}
	return d
}
