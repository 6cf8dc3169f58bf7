// Package endpoints catalogues the FRED API endpoint paths and exposes
// them as an explicit tree keyed by slash-separated path.
package endpoints

import (
	"strings"
)

// DocBaseURL is the root of the FRED API documentation site.
const DocBaseURL = "https://fred.stlouisfed.org/docs/api/fred"

// Paths lists every documented FRED API endpoint, relative to the API root.
var Paths = []string{
	"category",
	"category/children",
	"category/related",
	"category/series",
	"category/tags",
	"category/related_tags",

	"releases",
	"releases/dates",

	"release",
	"release/dates",
	"release/series",
	"release/sources",
	"release/tags",
	"release/related_tags",
	"release/tables",

	"series",
	"series/categories",
	"series/observations",
	"series/release",
	"series/search",
	"series/search/tags",
	"series/search/related_tags",
	"series/tags",
	"series/updates",
	"series/vintagedates",

	"sources",

	"source",
	"source/releases",

	"tags",
	"tags/series",
	"related_tags",
}

// Endpoint is one node of the endpoint tree.
type Endpoint struct {
	path     string
	children map[string]*Endpoint
}

// Path returns the endpoint's slash-separated path relative to the API
// root (e.g. "series/observations").
func (e *Endpoint) Path() string {
	return e.path
}

// URL joins the endpoint path onto an API base URL.
func (e *Endpoint) URL(base string) string {
	return strings.TrimRight(base, "/") + "/" + e.path
}

// DocsURL returns the documentation page for this endpoint: path segments
// joined with underscores under the documentation site root.
func (e *Endpoint) DocsURL() string {
	page := strings.ReplaceAll(e.path, "/", "_")
	if page == "" {
		return DocBaseURL
	}
	return DocBaseURL + "/" + page + ".html"
}

// Children returns the direct child endpoints keyed by path segment.
func (e *Endpoint) Children() map[string]*Endpoint {
	return e.children
}

// Tree is an explicit lookup structure over endpoint paths. No reflection
// or dynamic dispatch: navigation is a plain map walk.
type Tree struct {
	root *Endpoint
}

// NewTree builds a tree containing the given paths.
func NewTree(paths ...string) *Tree {
	t := &Tree{root: &Endpoint{children: make(map[string]*Endpoint)}}
	for _, p := range paths {
		t.Add(p)
	}
	return t
}

// Default returns a tree of all documented FRED endpoints.
func Default() *Tree {
	return NewTree(Paths...)
}

// Add inserts a slash-separated path, creating intermediate nodes.
func (t *Tree) Add(path string) {
	node := t.root
	var walked []string

	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == "" {
			continue
		}
		walked = append(walked, seg)

		child, ok := node.children[seg]
		if !ok {
			child = &Endpoint{
				path:     strings.Join(walked, "/"),
				children: make(map[string]*Endpoint),
			}
			node.children[seg] = child
		}
		node = child
	}
}

// Get looks up an endpoint by path, e.g. tree.Get("series/observations").
func (t *Tree) Get(path string) (*Endpoint, bool) {
	node := t.root
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == "" {
			continue
		}
		child, ok := node.children[seg]
		if !ok {
			return nil, false
		}
		node = child
	}
	if node == t.root {
		return nil, false
	}
	return node, true
}

// All returns every endpoint path in the tree, including intermediate
// nodes, in depth-first order.
func (t *Tree) All() []string {
	var paths []string
	var walk func(e *Endpoint)
	walk = func(e *Endpoint) {
		for _, child := range e.children {
			walk(child)
		}
		if e.path != "" {
			paths = append(paths, e.path)
		}
	}
	walk(t.root)
	return paths
}
