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
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"

	"github.com/neomody77/avalon-sub001/hooks"
	"github.com/neomody77/avalon-sub001/loadbalance"
	"github.com/neomody77/avalon-sub001/plugin"
	"github.com/neomody77/avalon-sub001/route"
	"github.com/neomody77/avalon-sub001/upstream"
)

// dispatchUpstream selects a healthy server from the route's pool and
// proxies the request to it via httputil.ReverseProxy, adapted the
// same way middleware/proxy/reverseproxy.go adapts it: Director sets
// the scheme/host, ModifyResponse/ErrorHandler feed health bookkeeping
// and PostUpstream/PreResponse hooks.
func (p *Pipeline) dispatchUpstream(matched *route.Route, w http.ResponseWriter, r *http.Request, ctx *plugin.Context) {
	pool, ok := p.Pools[matched.ReverseProxy.PoolID]
	if !ok {
		p.Log.Error("route references unknown pool", zap.String("pool_id", matched.ReverseProxy.PoolID))
		p.respondStatus(w, ctx, http.StatusBadGateway)
		return
	}

	server, err := p.Selector.Select(pool, loadbalance.Context{ClientIP: ctx.Identity})
	if err != nil {
		if errors.Is(err, loadbalance.ErrNoHealthyUpstream) {
			p.respondStatus(w, ctx, http.StatusBadGateway)
			return
		}
		p.respondStatus(w, ctx, http.StatusInternalServerError)
		return
	}
	defer server.EndRequest()
	ctx.Upstream = server

	if out := p.Hooks.Run(hooks.PreUpstream, ctx); p.shortCircuited(out, w, ctx, r) {
		return
	}

	scheme := "http"
	if server.UseTLS {
		scheme = "https"
	}
	target := &url.URL{Scheme: scheme, Host: server.Address}

	proxy := &httputil.ReverseProxy{
		Transport: p.transport,
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.Host = target.Host
		},
		ModifyResponse: func(resp *http.Response) error {
			server.RecordSuccess()
			ctx.ResponseStatus = resp.StatusCode
			if matched.ReverseProxy.Rewrite != nil {
				matched.ReverseProxy.Rewrite.ApplyResponseHeaders(resp.Header)
			}
			for k, vals := range ctx.ResponseHeaders() {
				for _, v := range vals {
					resp.Header.Add(k, v)
				}
			}
			out := p.Hooks.Run(hooks.PostUpstream, ctx)
			if out.Err != nil {
				return out.Err
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			server.RecordFailure(pool.Check.QuarantineAfter)
			status := http.StatusBadGateway
			var netErr net.Error
			if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
				status = http.StatusGatewayTimeout
			}
			p.Log.Warn("upstream dispatch failed",
				zap.String("pool", pool.ID), zap.String("address", server.Address), zap.Error(err))
			p.respondStatus(w, ctx, status)
		},
	}

	if out := p.Hooks.Run(hooks.PreResponse, ctx); p.shortCircuited(out, w, ctx, r) {
		return
	}

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	proxy.ServeHTTP(rec, r)
	if ctx.ResponseStatus == 0 {
		ctx.ResponseStatus = rec.status
	}

	p.Hooks.Run(hooks.PostResponse, ctx)
}

// healthyCount returns the number of currently healthy servers in pool.
func healthyCount(pool *upstream.Pool) int { return len(pool.Healthy()) }
