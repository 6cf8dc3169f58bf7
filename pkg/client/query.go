package client

import (
	"net/url"
	"strconv"
	"strings"
)

// FRED delimits multi-value query parameters with commas and semicolons
// (e.g. tag_names=usa;m2 or series ids "a,b,c"). Those two characters must
// survive encoding literally or the upstream rejects the request.

// EncodeQuery encodes values like url.Values.Encode but keeps "," and ";"
// unescaped. Keys are sorted, so the output is deterministic.
func EncodeQuery(v url.Values) string {
	s := v.Encode()
	s = strings.ReplaceAll(s, "%2C", ",")
	s = strings.ReplaceAll(s, "%3B", ";")
	return s
}

// WithParams merges params into rawurl's query string, overriding existing
// keys, and re-encodes with the FRED-safe characters preserved.
func WithParams(rawurl string, params url.Values) (string, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", err
	}

	q := u.Query()
	for key, vals := range params {
		q[key] = vals
	}
	u.RawQuery = EncodeQuery(q)
	return u.String(), nil
}

// WithOffset returns rawurl with its offset query parameter replaced.
func WithOffset(rawurl string, offset int) (string, error) {
	return WithParams(rawurl, url.Values{"offset": []string{strconv.Itoa(offset)}})
}
