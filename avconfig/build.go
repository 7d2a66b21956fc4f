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

package avconfig

import (
	"fmt"
	"time"

	"github.com/neomody77/avalon-sub001/rewrite"
	"github.com/neomody77/avalon-sub001/route"
	"github.com/neomody77/avalon-sub001/upstream"
)

// BuildPools constructs one upstream.Pool per configured pool. The
// caller is responsible for calling Start/Stop on each returned Pool.
func (c *Config) BuildPools() (map[string]*upstream.Pool, error) {
	pools := make(map[string]*upstream.Pool, len(c.Pools))
	for _, pc := range c.Pools {
		servers := make([]*upstream.Server, 0, len(pc.Servers))
		for _, sc := range pc.Servers {
			servers = append(servers, upstream.NewServer(sc.Address, sc.UseTLS, sc.Weight))
		}
		check := upstream.ActiveCheck{
			Path:           pc.HealthCheckPath,
			Interval:       time.Duration(pc.HealthCheckIntervalSecs) * time.Second,
			Timeout:        time.Duration(pc.HealthCheckTimeoutSecs) * time.Second,
			ExpectedStatus: pc.HealthCheckExpectedStatus,
		}
		pools[pc.ID] = upstream.NewPool(pc.ID, servers, upstream.Policy(pc.Policy), check)
	}
	return pools, nil
}

// BuildTable constructs a route.Table (generation gen) from every
// server block's routes, across all configured servers, compiling
// each route's rewrite rules and match predicate.
func (c *Config) BuildTable(gen uint64) (*route.Table, error) {
	var routes []*route.Route
	for _, sb := range c.Servers {
		for _, rc := range sb.Routes {
			r, err := buildRoute(rc)
			if err != nil {
				return nil, fmt.Errorf("avconfig: server %q: %w", sb.Name, err)
			}
			routes = append(routes, r)
		}
	}
	return route.NewTable(gen, routes)
}

func buildRoute(rc RouteConfig) (*route.Route, error) {
	r := &route.Route{
		Match: route.Match{
			Hosts:      rc.Match.Host,
			PathPrefix: rc.Match.PathPrefix,
			PathRegex:  rc.Match.PathRegex,
			Methods:    rc.Match.Methods,
			Headers:    rc.Match.Headers,
		},
		Priority: rc.Priority,
		Kind:     route.HandlerKind(rc.Handler.Kind),
	}

	switch r.Kind {
	case route.ReverseProxyHandler:
		rules, err := rewrite.Compile(
			rc.Handler.ReplacePath,
			rc.Handler.StripPathPrefix,
			rc.Handler.PathRegex,
			rc.Handler.PathRegexReplace,
			rc.Handler.AddPathPrefix,
			headerOps(rc.Handler.RequestHeaders),
			headerOps(rc.Handler.ResponseHeaders),
		)
		if err != nil {
			return nil, fmt.Errorf("compiling rewrite rules: %w", err)
		}
		r.ReverseProxy = &route.ReverseProxyConfig{PoolID: rc.Handler.Pool, Rewrite: rules}
	case route.FileServerHandler:
		r.FileServer = &route.FileServerConfig{
			Root:       rc.Handler.Root,
			Browse:     rc.Handler.Browse,
			IndexFiles: rc.Handler.IndexFiles,
		}
	case route.StaticResponseHandler:
		r.StaticResponse = &route.StaticResponseConfig{Status: rc.Handler.Status, Body: rc.Handler.Body}
	default:
		return nil, fmt.Errorf("unknown handler kind %q", rc.Handler.Kind)
	}
	return r, nil
}

func headerOps(cfg HeaderOpsConfig) rewrite.HeaderOps {
	var ops rewrite.HeaderOps
	for _, name := range cfg.Delete {
		ops = append(ops, rewrite.HeaderOp{Op: "delete", Name: name})
	}
	for name, value := range cfg.Set {
		ops = append(ops, rewrite.HeaderOp{Op: "set", Name: name, Value: value})
	}
	for name, value := range cfg.Add {
		ops = append(ops, rewrite.HeaderOp{Op: "add", Name: name, Value: value})
	}
	return ops
}
