// Copyright 2015 The Avalon Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package route

import (
	"net/http"
	"sort"
	"sync/atomic"

	"github.com/neomody77/avalon-sub001/rewrite"
)

// HandlerKind names which of the three handler shapes a Route carries.
type HandlerKind string

const (
	ReverseProxyHandler   HandlerKind = "reverse_proxy"
	FileServerHandler     HandlerKind = "file_server"
	StaticResponseHandler HandlerKind = "static"
)

// ReverseProxyConfig configures a reverse_proxy route handler.
type ReverseProxyConfig struct {
	PoolID  string
	Rewrite *rewrite.Rules
}

// FileServerConfig configures a file_server route handler. Per
// spec.md §1, serving files is an out-of-scope collaborator; Avalon
// only carries the config shape so routing can resolve to one.
type FileServerConfig struct {
	Root        string
	Browse      bool
	IndexFiles  []string
}

// StaticResponseConfig configures a static route handler.
type StaticResponseConfig struct {
	Status int
	Body   string
}

// Route is one entry in a Table: a match predicate, a priority, and a
// handler configuration. Routes are immutable once built into a Table.
type Route struct {
	Match   Match
	Priority int
	Kind     HandlerKind

	ReverseProxy   *ReverseProxyConfig
	FileServer     *FileServerConfig
	StaticResponse *StaticResponseConfig
}

// Table is a total-ordered, immutable sequence of Routes: ordered by
// Priority descending, then insertion order. A Table is built fully in
// memory and then swapped in; it is never mutated after construction.
type Table struct {
	Generation uint64
	routes     []*Route
}

// NewTable builds a Table from routes, sorting by priority (descending)
// then preserving the given insertion order for ties.
func NewTable(generation uint64, routes []*Route) (*Table, error) {
	for _, r := range routes {
		if err := r.Match.Compile(); err != nil {
			return nil, err
		}
	}
	ordered := make([]*Route, len(routes))
	copy(ordered, routes)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		// At equal priority, prefix matchers are tried before regex
		// matchers; ties within the same matcher kind keep insertion
		// order (sort.SliceStable preserves that for us).
		return prefixRank(ordered[i]) < prefixRank(ordered[j])
	})
	return &Table{Generation: generation, routes: ordered}, nil
}

// prefixRank gives path_prefix routes priority over path_regex routes
// at equal configured Priority, per the spec's tie-break rule.
func prefixRank(r *Route) int {
	if r.Match.PathPrefix != "" {
		return 0
	}
	return 1
}

// Find returns the first route whose match predicate is satisfied by
// r, or nil if none match. Evaluation order is the Table's
// total order: priority descending, insertion order for ties.
func (t *Table) Find(r *http.Request) *Route {
	for _, route := range t.routes {
		if route.Match.Matches(r) {
			return route
		}
	}
	return nil
}

// Len returns the number of routes in the table.
func (t *Table) Len() int { return len(t.routes) }

// Holder is an atomically swappable reference to the current Table, so
// a request started under one generation keeps observing it even if a
// reload installs a new generation mid-flight (the holder only hands
// out the *Table a caller already loaded; it never mutates it).
type Holder struct {
	ptr atomic.Pointer[Table]
}

// NewHolder returns a Holder initialized to table.
func NewHolder(table *Table) *Holder {
	h := &Holder{}
	h.ptr.Store(table)
	return h
}

// Load returns the currently installed Table.
func (h *Holder) Load() *Table { return h.ptr.Load() }

// Store atomically installs a new Table, superseding the prior one for
// all future Load calls. In-flight requests that already called Load
// keep using their captured *Table.
func (h *Holder) Store(table *Table) { h.ptr.Store(table) }
