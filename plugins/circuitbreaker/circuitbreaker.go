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

// Package circuitbreaker is an optional PreUpstream/PostUpstream pair
// of hooks that trip per-pool, independent of upstream's own passive
// health checks: once a pool's consecutive upstream-error count
// (tracked here, not in upstream.Server) crosses a threshold, the
// breaker opens and short-circuits new requests for a cooldown window
// after the load balancer has selected a server but before the request
// is dispatched to it.
package circuitbreaker

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/neomody77/avalon-sub001/hooks"
	"github.com/neomody77/avalon-sub001/plugin"
)

const TypeTag = "circuitbreaker"

type config struct {
	FailureThreshold int `json:"failure_threshold"`
	OpenSeconds      int `json:"open_seconds"`
}

type breakerState struct {
	mu          sync.Mutex
	failures    int
	openedUntil time.Time
}

// Plugin is a per-pool circuit breaker keyed by route.Route.ReverseProxy.PoolID.
type Plugin struct {
	cfg   config
	mu    sync.Mutex
	pools map[string]*breakerState
	now   func() time.Time
}

var _ plugin.Plugin = (*Plugin)(nil)

func New() plugin.Plugin { return &Plugin{} }

func (p *Plugin) Init(configBlob []byte) error {
	p.cfg = config{FailureThreshold: 5, OpenSeconds: 30}
	if len(configBlob) > 0 {
		if err := json.Unmarshal(configBlob, &p.cfg); err != nil {
			return err
		}
	}
	p.pools = make(map[string]*breakerState)
	p.now = time.Now
	return nil
}

func (p *Plugin) Start() error { return nil }
func (p *Plugin) Stop() error  { return nil }

func (p *Plugin) stateFor(poolID string) *breakerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.pools[poolID]
	if !ok {
		st = &breakerState{}
		p.pools[poolID] = st
	}
	return st
}

// PreUpstreamBinding short-circuits with 503 while a pool's breaker is
// open. It runs after the load balancer has selected a server, before
// the request is dispatched to that server.
func (p *Plugin) PreUpstreamBinding(priority int) hooks.Binding {
	return hooks.Binding{
		Phase:    hooks.PreUpstream,
		Priority: priority,
		PluginID: TypeTag,
		FnID:     "guard",
		Fn: func(ctx *plugin.Context) (hooks.Action, error) {
			poolID := poolIDOf(ctx)
			if poolID == "" {
				return hooks.Continue, nil
			}
			st := p.stateFor(poolID)

			st.mu.Lock()
			open := p.now().Before(st.openedUntil)
			st.mu.Unlock()

			if open {
				ctx.ResponseStatus = http.StatusServiceUnavailable
				return hooks.ShortCircuit, nil
			}
			return hooks.Continue, nil
		},
	}
}

// PostUpstreamBinding records the dispatch outcome and trips the
// breaker once failures reach the configured threshold.
func (p *Plugin) PostUpstreamBinding(priority int) hooks.Binding {
	return hooks.Binding{
		Phase:    hooks.PostUpstream,
		Priority: priority,
		PluginID: TypeTag,
		FnID:     "record",
		Fn: func(ctx *plugin.Context) (hooks.Action, error) {
			poolID := poolIDOf(ctx)
			if poolID == "" {
				return hooks.Continue, nil
			}
			st := p.stateFor(poolID)

			st.mu.Lock()
			defer st.mu.Unlock()
			if ctx.ResponseStatus >= 500 {
				st.failures++
				if st.failures >= p.cfg.FailureThreshold {
					st.openedUntil = p.now().Add(time.Duration(p.cfg.OpenSeconds) * time.Second)
					st.failures = 0
				}
			} else {
				st.failures = 0
			}
			return hooks.Continue, nil
		},
	}
}

func poolIDOf(ctx *plugin.Context) string {
	if ctx.MatchedRoute == nil || ctx.MatchedRoute.ReverseProxy == nil {
		return ""
	}
	return ctx.MatchedRoute.ReverseProxy.PoolID
}
