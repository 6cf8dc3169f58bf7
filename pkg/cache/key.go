package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key identifies a cached FRED response.
type Key struct {
	// Endpoint is the request path (e.g. "/fred/series/observations").
	Endpoint string

	// Query holds the request query parameters. Callers must strip the
	// api_key before building a key.
	Query url.Values
}

// String generates a deterministic cache key string.
// Format: fred:endpoint:param1=val1:param2=val2
//
// Example:
//
//	fred:series/observations:series_id=GNPCA:units=lin
func (k Key) String() string {
	parts := []string{"fred"}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	// Sorted for determinism.
	if len(k.Query) > 0 {
		keys := make([]string, 0, len(k.Query))
		for key := range k.Query {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(k.Query[key], ",")))
		}
	}

	return strings.Join(parts, ":")
}
