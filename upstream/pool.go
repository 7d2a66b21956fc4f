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

package upstream

import "time"

// Policy names the load-balancing policy tag for a Pool, as named in
// config (spec: round_robin | weighted_round_robin | least_connections
// | ip_hash | random). The policy implementations themselves live in
// package loadbalance to keep selection logic separate from pool/health
// bookkeeping.
type Policy string

const (
	RoundRobin         Policy = "round_robin"
	WeightedRoundRobin Policy = "weighted_round_robin"
	LeastConnections   Policy = "least_connections"
	IPHash             Policy = "ip_hash"
	Random             Policy = "random"
)

// ActiveCheck configures the background active health-check loop for a
// Pool. A zero-value ActiveCheck (empty Path) disables active checks;
// only passive failure counting applies.
type ActiveCheck struct {
	Path           string
	Interval       time.Duration
	Timeout        time.Duration
	ExpectedStatus int

	// QuarantineAfter is the number of consecutive passive failures
	// that mark a server unhealthy until the next successful active
	// probe. Defaults to 3 per the spec's documented tunable default.
	QuarantineAfter int32
}

func (c ActiveCheck) enabled() bool { return c.Path != "" }

// Pool is an ordered set of upstream Servers sharing a selection
// policy and, optionally, an active health-check configuration. A Pool
// exclusively owns its Servers; the loadbalance package only reads
// them.
type Pool struct {
	ID      string
	Servers []*Server
	Policy  Policy
	Check   ActiveCheck

	stop chan struct{}
}

// NewPool returns a Pool with defaults applied to an incomplete
// ActiveCheck (e.g. Interval/Timeout/QuarantineAfter left at zero).
func NewPool(id string, servers []*Server, policy Policy, check ActiveCheck) *Pool {
	if check.enabled() {
		if check.Interval <= 0 {
			check.Interval = 30 * time.Second
		}
		if check.Timeout <= 0 {
			check.Timeout = 5 * time.Second
		}
		if check.ExpectedStatus == 0 {
			check.ExpectedStatus = 200
		}
	}
	if check.QuarantineAfter <= 0 {
		check.QuarantineAfter = 3
	}
	return &Pool{ID: id, Servers: servers, Policy: policy, Check: check}
}

// Healthy returns the subset of Servers currently healthy, preserving
// insertion order (selection policies that break ties by insertion
// order rely on this).
func (p *Pool) Healthy() []*Server {
	healthy := make([]*Server, 0, len(p.Servers))
	for _, s := range p.Servers {
		if s.Healthy() {
			healthy = append(healthy, s)
		}
	}
	return healthy
}

// TotalWeight sums the Weight of every currently healthy server.
func (p *Pool) TotalWeight() int {
	total := 0
	for _, s := range p.Servers {
		if s.Healthy() {
			total += s.Weight
		}
	}
	return total
}

// Start launches the pool's background active health-check loop, if
// one is configured. Start is a no-op if Check.Path is empty. Stop
// cancels it; an in-flight probe round is allowed to finish.
func (p *Pool) Start() {
	if !p.Check.enabled() || p.stop != nil {
		return
	}
	p.stop = make(chan struct{})
	go p.runActiveChecks(p.stop)
}

// Stop cancels the background active health-check loop, if running.
func (p *Pool) Stop() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	p.stop = nil
}
