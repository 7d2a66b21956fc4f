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

// Package upstream holds per-upstream health state and the active/
// passive health-checking machinery for a reverse-proxy pool. Load
// balancing policy itself lives in package loadbalance, which operates
// on the Servers exposed here.
package upstream

import (
	"sync/atomic"
	"time"
)

// Server is one member of a Pool. Health fields are written by exactly
// one goroutine at a time (the pool's health loop, or the pipeline
// goroutine recording a passive failure/success) and read with relaxed
// atomics by the load balancer; staleness is tolerated by retry, per
// the pool's concurrency model.
type Server struct {
	Address string
	UseTLS  bool
	Weight  int

	healthy            atomic.Bool
	activeConnections  atomic.Int32
	totalRequests      atomic.Uint64
	failedRequests     atomic.Uint64
	consecutiveFails   atomic.Int32
	lastFailureAtNanos atomic.Int64

	// currentWeight is the smooth-weighted round robin's mutable
	// scheduling state; it belongs to package loadbalance but lives
	// here so it travels with the server across selection calls.
	currentWeight atomic.Int64
}

// NewServer returns a Server initialized healthy, as a freshly
// configured upstream is assumed reachable until a probe says
// otherwise.
func NewServer(address string, useTLS bool, weight int) *Server {
	s := &Server{Address: address, UseTLS: useTLS, Weight: weight}
	if s.Weight <= 0 {
		s.Weight = 1
	}
	s.healthy.Store(true)
	return s
}

// Healthy reports the server's current health, combining the active
// probe result with any passive quarantine still in effect.
func (s *Server) Healthy() bool { return s.healthy.Load() }

// ActiveConnections returns the current in-flight request count.
func (s *Server) ActiveConnections() int32 { return s.activeConnections.Load() }

// ConsecutiveFailures returns the current passive-failure streak.
func (s *Server) ConsecutiveFailures() int32 { return s.consecutiveFails.Load() }

// SetHealthy is called by the active health-check loop to record a
// probe outcome; state transitions are the caller's responsibility to
// log (only on change).
func (s *Server) SetHealthy(v bool) { s.healthy.Store(v) }

// BeginRequest increments the active-connection and total-request
// counters. Call EndRequest when the request terminates, successfully
// or not.
func (s *Server) BeginRequest() {
	s.activeConnections.Add(1)
	s.totalRequests.Add(1)
}

// EndRequest decrements the active-connection counter.
func (s *Server) EndRequest() {
	s.activeConnections.Add(-1)
}

// RecordFailure increments the passive failure counters. quarantineAfter
// is the consecutive-failure threshold past which the caller should
// treat the server as unhealthy until the next successful active
// probe; RecordFailure applies that quarantine itself so callers don't
// have to duplicate the comparison.
func (s *Server) RecordFailure(quarantineAfter int32) {
	s.failedRequests.Add(1)
	n := s.consecutiveFails.Add(1)
	s.lastFailureAtNanos.Store(time.Now().UnixNano())
	if quarantineAfter > 0 && n >= quarantineAfter {
		s.healthy.Store(false)
	}
}

// RecordSuccess resets the consecutive-failure streak.
func (s *Server) RecordSuccess() {
	s.consecutiveFails.Store(0)
}

// CurrentWeight returns the smooth-weighted round robin scheduling
// state owned by package loadbalance.
func (s *Server) CurrentWeight() int64 { return s.currentWeight.Load() }

// SetCurrentWeight updates the smooth-weighted round robin scheduling
// state owned by package loadbalance.
func (s *Server) SetCurrentWeight(w int64) { s.currentWeight.Store(w) }

// LastFailureAt returns the time of the most recent passive failure,
// or the zero Time if none has been recorded.
func (s *Server) LastFailureAt() time.Time {
	n := s.lastFailureAtNanos.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
