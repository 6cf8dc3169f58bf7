package client

import (
	"encoding/json"
)

// Page is one JSON response body from the FRED API. Paginated endpoints
// embed count/limit/offset in every page; their absence marks a
// single-page result. The remaining body fields (observations, seriess,
// categories, ...) are kept raw so callers decode only what they need.
type Page struct {
	Count  int
	Limit  int
	Offset int

	// Fields holds the full response body keyed by top-level field,
	// including the pagination fields themselves.
	Fields map[string]json.RawMessage
}

// UnmarshalJSON decodes a response body, extracting the pagination fields
// when present.
func (p *Page) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	p.Fields = fields

	for key, dst := range map[string]*int{
		"count":  &p.Count,
		"limit":  &p.Limit,
		"offset": &p.Offset,
	} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return err
		}
	}
	return nil
}

// MarshalJSON re-serializes the original body fields.
func (p *Page) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Fields)
}

// Paginated reports whether any pagination field carries a non-zero value,
// matching the upstream convention that all three are absent on
// single-page results.
func (p *Page) Paginated() bool {
	return p.Count != 0 || p.Limit != 0 || p.Offset != 0
}

// Decode unmarshals a single top-level body field into v. Returns false
// when the field is absent.
func (p *Page) Decode(field string, v any) (bool, error) {
	raw, ok := p.Fields[field]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}
