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

package pipeline

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/neomody77/avalon-sub001/hooks"
	"github.com/neomody77/avalon-sub001/plugin"
	"github.com/neomody77/avalon-sub001/route"
)

const acmeChallengePrefix = "/.well-known/acme-challenge/"

// ServeHTTP implements the request state machine of spec.md §4.12:
//
//	ACCEPTED -> PARSED -> (ACME_INTERCEPT?) -> ROUTED -> REWRITTEN ->
//	  (HANDLED_LOCAL | UPSTREAM_SELECTED -> ... -> RESPONSE_BODY) ->
//	  LOGGED -> DONE
//
// A short-circuit at any hook phase jumps directly to LOGGED.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := plugin.NewContext(r)
	ctx.ClientAddr = r.RemoteAddr
	ctx.Identity = clientIP(r)

	if p.serveACMEChallenge(w, r) {
		p.runLogging(ctx, r)
		return
	}

	if out := p.Hooks.Run(hooks.EarlyRequest, ctx); p.shortCircuited(out, w, ctx, r) {
		return
	}

	if p.Limiter != nil {
		result := p.Limiter.Check(ctx.Identity)
		if !result.Allowed {
			if p.Metrics != nil {
				p.Metrics.RateLimitDenied.WithLabelValues("client_ip").Inc()
			}
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfterSecs))
			p.respondStatus(w, ctx, http.StatusTooManyRequests)
			p.runLogging(ctx, r)
			return
		}
	}

	table := p.Routes.Load()
	matched := table.Find(r)
	if matched == nil {
		p.respondStatus(w, ctx, http.StatusNotFound)
		p.runLogging(ctx, r)
		return
	}
	ctx.MatchedRoute = matched

	if out := p.Hooks.Run(hooks.PreRoute, ctx); p.shortCircuited(out, w, ctx, r) {
		return
	}

	p.rewrite(matched, r)

	if out := p.Hooks.Run(hooks.PostRoute, ctx); p.shortCircuited(out, w, ctx, r) {
		return
	}

	switch matched.Kind {
	case route.ReverseProxyHandler:
		p.dispatchUpstream(matched, w, r, ctx)
	case route.FileServerHandler:
		p.serveFile(matched, w, r, ctx)
	case route.StaticResponseHandler:
		p.serveStatic(matched, w, ctx)
	default:
		p.respondStatus(w, ctx, http.StatusNotFound)
	}

	p.runLogging(ctx, r)
}

// rewrite applies the matched route's configured rewrite rules (C8) to
// the request path/query and request headers, per spec.md §4.8. Local
// (non-reverse_proxy) handlers have no rewrite rules.
func (p *Pipeline) rewrite(matched *route.Route, r *http.Request) {
	if matched.ReverseProxy == nil || matched.ReverseProxy.Rewrite == nil {
		return
	}
	rules := matched.ReverseProxy.Rewrite
	r.URL.Path = rules.RewritePath(r.URL.Path)
	rules.ApplyRequestHeaders(r.Header)
}

// serveACMEChallenge answers an HTTP-01 validation request directly
// from the shared ChallengeMap, bypassing routing entirely, per
// spec.md §4.12. It reports whether it handled the request.
func (p *Pipeline) serveACMEChallenge(w http.ResponseWriter, r *http.Request) bool {
	if p.Challenges == nil || r.Method != http.MethodGet || !strings.HasPrefix(r.URL.Path, acmeChallengePrefix) {
		return false
	}
	token := strings.TrimPrefix(r.URL.Path, acmeChallengePrefix)
	keyAuth, ok := p.Challenges.Lookup(token)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return true
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(keyAuth))
	return true
}

// shortCircuited runs the response/logging tail for a hook Outcome
// that short-circuited or errored, and reports whether the caller
// should stop processing this request.
func (p *Pipeline) shortCircuited(out hooks.Outcome, w http.ResponseWriter, ctx *plugin.Context, r *http.Request) bool {
	if !out.ShortCircuited {
		return false
	}
	switch {
	case out.Err != nil:
		p.Log.Error("hook error, synthesizing 500", zap.String("plugin", out.FailedPlugin), zap.Error(out.Err))
		p.respondStatus(w, ctx, http.StatusInternalServerError)
	case ctx.ResponseStatus != 0:
		// A plugin (e.g. ip_filter) already chose a status via
		// ctx.ResponseStatus without writing it itself.
		p.respondStatus(w, ctx, ctx.ResponseStatus)
	default:
		// A plugin short-circuited without choosing a response itself;
		// fall back to a generic success so the connection doesn't hang.
		p.respondStatus(w, ctx, http.StatusOK)
	}
	p.runLogging(ctx, r)
	return true
}

// flushResponseHeaders copies any headers a hook queued via
// Context.SetResponseHeader onto the real response, e.g. a CORS
// plugin's Access-Control-* headers. Must run before the first
// WriteHeader/Write on w.
func flushResponseHeaders(w http.ResponseWriter, ctx *plugin.Context) {
	for k, vals := range ctx.ResponseHeaders() {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
}

// respondStatus writes a bare status-line response with no body and
// records it on ctx for the PreResponse/PostResponse/Logging hooks.
func (p *Pipeline) respondStatus(w http.ResponseWriter, ctx *plugin.Context, status int) {
	ctx.ResponseStatus = status
	flushResponseHeaders(w, ctx)
	w.WriteHeader(status)
}

func (p *Pipeline) serveStatic(matched *route.Route, w http.ResponseWriter, ctx *plugin.Context) {
	cfg := matched.StaticResponse
	ctx.ResponseStatus = cfg.Status
	flushResponseHeaders(w, ctx)
	w.WriteHeader(cfg.Status)
	_, _ = w.Write([]byte(cfg.Body))
}

// serveFile is the minimal file_server handler; spec.md §1 scopes
// static-file serving as an external collaborator, so this only wires
// enough to resolve the route (stdlib http.FileServer), not a
// feature-complete directory browser.
func (p *Pipeline) serveFile(matched *route.Route, w http.ResponseWriter, r *http.Request, ctx *plugin.Context) {
	cfg := matched.FileServer
	flushResponseHeaders(w, ctx)
	fs := http.FileServer(http.Dir(cfg.Root))
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	fs.ServeHTTP(rec, r)
	ctx.ResponseStatus = rec.status
}

// runLogging always runs, even after a short-circuit, per spec.md
// §4.9 ("Logging" is the one phase that still runs after a
// short-circuit) and §4.12 ("short-circuit at any hook jumps directly
// to LOGGED").
func (p *Pipeline) runLogging(ctx *plugin.Context, r *http.Request) {
	out := p.Hooks.Run(hooks.Logging, ctx)
	if out.Err != nil {
		p.Log.Error("logging hook error (swallowed)", zap.String("plugin", out.FailedPlugin), zap.Error(out.Err))
	}
	if p.Metrics != nil {
		route := "unmatched"
		if ctx.MatchedRoute != nil {
			route = matchLabel(ctx.MatchedRoute)
		}
		p.Metrics.RequestsTotal.WithLabelValues(route, statusClass(ctx.ResponseStatus)).Inc()
		p.Metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(ctx.StartInstant).Seconds())
	}
}

func matchLabel(r *route.Route) string {
	if r.Match.PathPrefix != "" {
		return r.Match.PathPrefix
	}
	if r.Match.PathRegex != "" {
		return r.Match.PathRegex
	}
	return "/"
}

func statusClass(status int) string {
	if status == 0 {
		return "unknown"
	}
	return fmt.Sprintf("%dxx", status/100)
}

// clientIP extracts the request's remote IP, stripping the port, for
// use as a rate-limit/ip_hash identity.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusRecorder captures the status code a downstream http.Handler
// wrote, so the pipeline can record it on the Plugin Context without
// the handler needing to know about Context at all. It forwards
// Hijack/Flush to the underlying ResponseWriter so wrapping it doesn't
// break a WebSocket upgrade or streamed response, per spec.md §4.12.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Hijack implements http.Hijacker by delegating to the underlying
// ResponseWriter, required for httputil.ReverseProxy's upgrade path
// (handleUpgradeResponse type-asserts the ResponseWriter it was given).
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("pipeline: underlying ResponseWriter does not support Hijack")
	}
	return hj.Hijack()
}

// Flush implements http.Flusher by delegating to the underlying
// ResponseWriter, so streamed (chunked/SSE) responses still flush
// through the wrapper.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
