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

// Package pipeline orchestrates route match (C7) -> rewrite (C8) ->
// upstream selection (C5/C6) -> health-gated dispatch -> response,
// invoking hook phases (C9) between each state transition, per
// spec.md §4.12. Generalized from root listeners.go's accept loop and
// middleware/proxy/reverseproxy.go's adapted-from-net/http/httputil
// dispatch style.
package pipeline

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/neomody77/avalon-sub001/acmeclient"
	"github.com/neomody77/avalon-sub001/hooks"
	"github.com/neomody77/avalon-sub001/loadbalance"
	"github.com/neomody77/avalon-sub001/metrics"
	"github.com/neomody77/avalon-sub001/ratelimit"
	"github.com/neomody77/avalon-sub001/route"
	"github.com/neomody77/avalon-sub001/upstream"
)

// Pipeline holds every reference C12 needs: the swappable route table
// (C7), the upstream pools it dispatches into (C5), a load-balancer
// selector (C6), the hook executor (C9), an optional rate limiter
// (C11), and the shared ACME challenge map. It holds no reference back
// to the listener or the renewal scheduler, per spec.md §5's
// no-cyclic-ownership rule.
type Pipeline struct {
	Routes     *route.Holder
	Pools      map[string]*upstream.Pool
	Selector   *loadbalance.Selector
	Hooks      *hooks.Executor
	Limiter    *ratelimit.Limiter
	Challenges *acmeclient.ChallengeMap
	Metrics    *metrics.Collectors
	Log        *zap.Logger

	// DialTimeout bounds the upstream TCP connect; ResponseHeaderTimeout
	// bounds the wait for upstream response headers. Both map to the
	// 504 Gateway Timeout classification in spec.md §7.
	DialTimeout            time.Duration
	ResponseHeaderTimeout  time.Duration

	transport *http.Transport
}

// New returns a ready-to-serve Pipeline. Pools/Hooks/Routes are
// required; Limiter, Challenges, and Metrics may be nil to disable
// those concerns.
func New(routes *route.Holder, pools map[string]*upstream.Pool, hookExec *hooks.Executor, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{
		Routes:                routes,
		Pools:                 pools,
		Selector:              loadbalance.NewSelector(),
		Hooks:                 hookExec,
		Log:                   log,
		DialTimeout:           10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	dialer := &net.Dialer{Timeout: p.DialTimeout}
	p.transport = &http.Transport{
		DialContext:           func(ctx context.Context, network, addr string) (net.Conn, error) { return dialer.DialContext(ctx, network, addr) },
		ResponseHeaderTimeout: p.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
	}
	return p
}
