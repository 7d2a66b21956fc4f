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

// Package rewrite compiles and applies path and header transforms to a
// request or response, in the fixed order the spec requires: replace,
// strip prefix, regex substitution, add prefix.
package rewrite

import (
	"net/http"
	"regexp"
	"strings"
)

// Rules is a compiled, ready-to-apply set of path and header rewrite
// rules for one route. Zero value is the identity rewrite.
type Rules struct {
	ReplacePath      string
	StripPathPrefix  string
	AddPathPrefix    string
	pathRegex        *regexp.Regexp
	pathRegexReplace string

	RequestHeaders  HeaderOps
	ResponseHeaders HeaderOps
}

// HeaderOp is one header mutation: delete, set, or add-if-absent.
type HeaderOp struct {
	Op    string // "delete", "set", "add"
	Name  string
	Value string
}

// HeaderOps is an ordered list of HeaderOp, applied in order.
type HeaderOps []HeaderOp

// Compile builds Rules from the given config fields. pathRegex and
// pathRegexReplace are optional; an empty pathRegex disables that
// stage. Compile returns an error if pathRegex fails to parse.
func Compile(replacePath, stripPrefix, pathRegex, pathRegexReplace, addPrefix string, reqHeaders, respHeaders HeaderOps) (*Rules, error) {
	r := &Rules{
		ReplacePath:      replacePath,
		StripPathPrefix:  stripPrefix,
		AddPathPrefix:    addPrefix,
		pathRegexReplace: pathRegexReplace,
		RequestHeaders:   reqHeaders,
		ResponseHeaders:  respHeaders,
	}
	if pathRegex != "" {
		anchored := pathRegex
		if !strings.HasPrefix(anchored, "^") {
			anchored = "^" + anchored
		}
		if !strings.HasSuffix(anchored, "$") {
			anchored += "$"
		}
		compiled, err := regexp.Compile(anchored)
		if err != nil {
			return nil, err
		}
		r.pathRegex = compiled
	}
	return r, nil
}

// RewritePath applies the path-rewrite pipeline to path (without query
// string) in order: replace_path short-circuits immediately;
// strip_path_prefix only fires if path has that prefix (an empty
// result becomes "/"); path_regex does an anchored backreference
// substitution; add_path_prefix concatenates last.
func (r *Rules) RewritePath(p string) string {
	if r.ReplacePath != "" {
		return r.ReplacePath
	}

	if r.StripPathPrefix != "" && strings.HasPrefix(p, r.StripPathPrefix) {
		p = strings.TrimPrefix(p, r.StripPathPrefix)
		if p == "" {
			p = "/"
		}
	}

	if r.pathRegex != nil && r.pathRegex.MatchString(p) {
		p = r.pathRegex.ReplaceAllString(p, r.pathRegexReplace)
	}

	if r.AddPathPrefix != "" {
		p = r.AddPathPrefix + p
	}

	return p
}

// RewriteURL applies RewritePath to the path component of raw while
// preserving the query string verbatim, per the spec's query
// preservation invariant: rewrite(p+"?"+q) = rewrite_path(p) + "?" + q.
func (r *Rules) RewriteURL(raw string) string {
	path, query, hasQuery := strings.Cut(raw, "?")
	newPath := r.RewritePath(path)
	if hasQuery {
		return newPath + "?" + query
	}
	return newPath
}

// Idempotent reports whether applying these rules twice in a row is a
// no-op, which per the spec holds iff neither add_path_prefix nor
// replace_path is configured (both of those can change the path on a
// second pass: add_path_prefix keeps prepending, replace_path always
// forces the same literal regardless of prior state only if it was
// already applied — but an already-rewritten path may no longer match
// strip_path_prefix/path_regex, so the safe, documented guarantee is
// limited to the add/replace case named by the spec).
func (r *Rules) Idempotent() bool {
	return r.AddPathPrefix == "" && r.ReplacePath == ""
}

func applyHeaderOps(h http.Header, ops HeaderOps) {
	for _, op := range ops {
		switch op.Op {
		case "delete":
			h.Del(op.Name)
		case "set":
			h.Set(op.Name, op.Value)
		case "add":
			if h.Get(op.Name) == "" {
				h.Add(op.Name, op.Value)
			}
		}
	}
}

// ApplyRequestHeaders applies the request header ops, in order, to h.
func (r *Rules) ApplyRequestHeaders(h http.Header) { applyHeaderOps(h, r.RequestHeaders) }

// ApplyResponseHeaders applies the response header ops, in order, to h.
func (r *Rules) ApplyResponseHeaders(h http.Header) { applyHeaderOps(h, r.ResponseHeaders) }
