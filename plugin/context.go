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

// Package plugin is the per-request scratch space (Context) and the
// plugin lifecycle registry (Registry) hooks are instantiated from.
// Generalized from config/setup's one-factory-per-directive pattern
// into the type-tagged keyed storage spec.md §9 describes, so plugins
// can publish typed intermediate results without colliding on string
// keys alone.
package plugin

import (
	"net/http"
	"sync"
	"time"

	"github.com/neomody77/avalon-sub001/route"
	"github.com/neomody77/avalon-sub001/upstream"
)

// slotKey identifies one typed scratch-space entry. The type tag is
// folded in so two plugins can each use the key "result" without
// colliding, without requiring either to know about the other.
type slotKey struct {
	typeTag string
	name    string
}

// Context is the per-request mutable bag shared across hook phases. It
// is created once per request and discarded at the end of the
// pipeline; nothing about it outlives the request.
type Context struct {
	mu sync.Mutex

	StartInstant time.Time
	Method       string
	Path         string
	Host         string
	ClientAddr   string
	Identity     string

	MatchedRoute   *route.Route
	Tags           map[string]struct{}
	Upstream       *upstream.Server
	ResponseStatus int

	slots          map[slotKey]any
	responseHeader http.Header
}

// NewContext returns a Context for a freshly accepted request.
func NewContext(r *http.Request) *Context {
	return &Context{
		StartInstant: time.Now(),
		Method:       r.Method,
		Path:         r.URL.Path,
		Host:         r.Host,
		Tags:         make(map[string]struct{}),
		slots:        make(map[slotKey]any),
	}
}

// AddTag marks the request with a named tag, for plugins (e.g. an
// access-log formatter) that want to record which hooks fired.
func (c *Context) AddTag(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Tags[tag] = struct{}{}
}

// HasTag reports whether AddTag(tag) was previously called.
func (c *Context) HasTag(tag string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.Tags[tag]
	return ok
}

// SetResponseHeader queues a response header to be written onto the
// real http.ResponseWriter once the pipeline reaches its first write,
// letting a hook (which never sees the ResponseWriter directly) still
// influence the outgoing response, e.g. a CORS plugin.
func (c *Context) SetResponseHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.responseHeader == nil {
		c.responseHeader = make(http.Header)
	}
	c.responseHeader.Add(key, value)
}

// ResponseHeaders returns the headers queued by SetResponseHeader.
func (c *Context) ResponseHeaders() http.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responseHeader
}

// Set stores v under (typeTag, key), superseding any prior value for
// that exact pair. typeTag is conventionally the plugin's registered
// name, so two plugins never collide on a shared string key.
func Set[T any](c *Context, typeTag, key string, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[slotKey{typeTag, key}] = v
}

// Get retrieves the value stored under (typeTag, key), reporting
// ok=false if nothing is stored there or the stored value does not
// have type T.
func Get[T any](c *Context, typeTag, key string) (T, bool) {
	c.mu.Lock()
	v, ok := c.slots[slotKey{typeTag, key}]
	c.mu.Unlock()
	if !ok {
		return *new(T), false
	}
	typed, ok := v.(T)
	return typed, ok
}
