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

// Package route holds the route table: an ordered set of routes
// matched by (host, path, method, headers) against an incoming
// request, swapped atomically on config reload.
package route

import (
	"net/http"
	"regexp"
	"strings"
)

// Match describes the predicate a Route must satisfy. Absent fields
// (nil slices, empty strings) act as "accept any".
type Match struct {
	Hosts      []string
	PathPrefix string
	PathRegex  string
	Methods    []string

	// Headers must all match case-insensitively on name, exactly on
	// value, for the route to match.
	Headers map[string]string

	compiledPathRegex *regexp.Regexp
}

// Compile parses PathRegex (if set) into a regular expression,
// anchored per the spec. It must be called before Matches is used.
func (m *Match) Compile() error {
	if m.PathRegex == "" {
		return nil
	}
	pattern := m.PathRegex
	if !strings.HasPrefix(pattern, "^") {
		pattern = "^" + pattern
	}
	if !strings.HasSuffix(pattern, "$") {
		pattern += "$"
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	m.compiledPathRegex = re
	return nil
}

// Matches reports whether r satisfies this predicate. Host is taken
// from r.Host (case-insensitive, supporting a leading wildcard label);
// path is normalized to a leading slash; prefix match is tried before
// regex match, per the spec's "prefix matches before regex at equal
// priority" rule (the caller is responsible for that priority
// ordering across routes — this method only reports membership).
func (m *Match) Matches(r *http.Request) bool {
	if len(m.Hosts) > 0 && !m.hostMatches(r.Host) {
		return false
	}
	if len(m.Methods) > 0 && !methodMatches(m.Methods, r.Method) {
		return false
	}
	if !m.pathMatches(normalizePath(r.URL.Path)) {
		return false
	}
	if !m.headersMatch(r.Header) {
		return false
	}
	return true
}

func (m *Match) hostMatches(host string) bool {
	host = strings.ToLower(stripPort(host))
	for _, pattern := range m.Hosts {
		pattern = strings.ToLower(pattern)
		if strings.HasPrefix(pattern, "*.") {
			suffix := pattern[1:] // ".example.com"
			if strings.HasSuffix(host, suffix) {
				label := strings.TrimSuffix(host, suffix)
				if label != "" && !strings.Contains(label, ".") {
					return true
				}
			}
			continue
		}
		if host == pattern {
			return true
		}
	}
	return false
}

func stripPort(host string) string {
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}

func methodMatches(allowed []string, method string) bool {
	method = strings.ToUpper(method)
	for _, a := range allowed {
		if strings.ToUpper(a) == method {
			return true
		}
	}
	return false
}

func (m *Match) pathMatches(path string) bool {
	if m.PathPrefix == "" && m.PathRegex == "" {
		return true
	}
	if m.PathPrefix != "" && strings.HasPrefix(path, m.PathPrefix) {
		return true
	}
	if m.compiledPathRegex != nil && m.compiledPathRegex.MatchString(path) {
		return true
	}
	return false
}

func (m *Match) headersMatch(h http.Header) bool {
	for name, want := range m.Headers {
		if h.Get(name) != want {
			return false
		}
	}
	return true
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}
