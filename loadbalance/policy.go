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

// Package loadbalance selects one healthy upstream.Server from an
// upstream.Pool according to the pool's configured policy.
package loadbalance

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/neomody77/avalon-sub001/upstream"
)

// ErrNoHealthyUpstream is returned when a pool has no healthy members
// to select from.
var ErrNoHealthyUpstream = errors.New("loadbalance: no healthy upstream")

// Context carries the per-selection inputs a policy may need beyond
// the pool itself.
type Context struct {
	ClientIP string
}

// roundRobinCursor holds the atomic counters selection policies need
// to keep per pool. Keyed by pool so a single Selector can serve many
// pools without them trampling each other's state.
type roundRobinCursor struct {
	counter atomic.Uint64
}

// Selector selects a server from a pool according to its policy. It
// holds the mutable round-robin cursor state that must persist across
// calls for the same pool. A single Selector is shared by every
// concurrently-served request in Pipeline, so cursors is guarded by mu
// rather than left as a bare map.
type Selector struct {
	mu      sync.Mutex
	cursors map[string]*roundRobinCursor
}

// NewSelector returns a ready-to-use Selector.
func NewSelector() *Selector {
	return &Selector{cursors: make(map[string]*roundRobinCursor)}
}

func (s *Selector) cursorFor(pool *upstream.Pool) *roundRobinCursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[pool.ID]
	if !ok {
		c = &roundRobinCursor{}
		s.cursors[pool.ID] = c
	}
	return c
}

// Select picks one healthy server from pool using its configured
// policy. On selection, the server's active-connection counter is
// incremented; the caller is responsible for calling EndRequest on the
// returned server when the request terminates.
func (s *Selector) Select(pool *upstream.Pool, ctx Context) (*upstream.Server, error) {
	healthy := pool.Healthy()
	if len(healthy) == 0 {
		return nil, ErrNoHealthyUpstream
	}

	var chosen *upstream.Server
	switch pool.Policy {
	case upstream.WeightedRoundRobin:
		chosen = weightedRoundRobin(healthy)
	case upstream.LeastConnections:
		chosen = leastConnections(healthy)
	case upstream.IPHash:
		chosen = ipHash(healthy, ctx.ClientIP)
	case upstream.Random:
		chosen = healthy[rand.Intn(len(healthy))]
	case upstream.RoundRobin:
		fallthrough
	default:
		chosen = s.roundRobin(pool, healthy)
	}

	chosen.BeginRequest()
	return chosen, nil
}

// roundRobin selects healthy[n % len(healthy)] for a monotonically
// increasing n, so any N consecutive selections over N healthy servers
// visit every one of them at least once.
func (s *Selector) roundRobin(pool *upstream.Pool, healthy []*upstream.Server) *upstream.Server {
	cursor := s.cursorFor(pool)
	n := cursor.counter.Add(1)
	return healthy[n%uint64(len(healthy))]
}

// weightedRoundRobin is Nginx's smooth-weighted round robin: each
// server's current weight increases by its configured weight every
// round; the max is picked, then decremented by the round's total
// weight. This spreads picks out evenly instead of clustering all of
// one server's picks together the way naive weighted RR would.
func weightedRoundRobin(healthy []*upstream.Server) *upstream.Server {
	if len(healthy) == 1 {
		return healthy[0]
	}
	total := 0
	var best *upstream.Server
	var bestWeight int64 = -1 << 62
	for _, s := range healthy {
		total += s.Weight
		cw := s.CurrentWeight() + int64(s.Weight)
		s.SetCurrentWeight(cw)
		if cw > bestWeight {
			bestWeight = cw
			best = s
		}
	}
	best.SetCurrentWeight(best.CurrentWeight() - int64(total))
	return best
}

// leastConnections picks the server with the fewest active
// connections, breaking ties by insertion order (the first one found
// wins, since healthy preserves Pool.Servers order).
func leastConnections(healthy []*upstream.Server) *upstream.Server {
	best := healthy[0]
	for _, s := range healthy[1:] {
		if s.ActiveConnections() < best.ActiveConnections() {
			best = s
		}
	}
	return best
}

// ipHash picks a server by a seeded, non-cryptographic hash of the
// client IP modulo the healthy count. It does not depend on insertion
// order beyond the modulo indexing, as specified.
func ipHash(healthy []*upstream.Server, clientIP string) *upstream.Server {
	if clientIP == "" {
		return healthy[0]
	}
	h := xxhash.Sum64String(clientIP)
	return healthy[h%uint64(len(healthy))]
}
