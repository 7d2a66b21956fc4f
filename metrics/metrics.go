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

// Package metrics collects Prometheus metrics for the request
// pipeline, upstream pool, ACME client, and rate limiter. Grounded on
// the teacher's direct github.com/prometheus/client_golang dependency
// (root metrics.go's collector-per-concern style) mirrored by
// erfianugrah-gloryhole/pkg/telemetry for an adjacent proxy daemon.
// Served on the admin listener only, never a public listen address.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "avalon"

// Collectors bundles every metric the core components report into.
// Construct one with New and assign it to Pipeline.Metrics at wiring
// time; the ACME renewal counter is fed through renew.Scheduler's
// OnRenewed callback. No core component updates UpstreamHealthy or
// UpstreamActiveConns.
type Collectors struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	UpstreamHealthy  *prometheus.GaugeVec
	UpstreamActiveConns *prometheus.GaugeVec
	ACMERenewalsTotal *prometheus.CounterVec
	RateLimitDenied  *prometheus.CounterVec
}

// New registers and returns a fresh Collectors set against reg. Pass
// prometheus.NewRegistry() for test isolation, or
// prometheus.DefaultRegisterer wrapped in a registry for production.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "requests_total",
			Help:      "Total requests handled, labeled by route and status class.",
		}, []string{"route", "status_class"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "request_duration_seconds",
			Help:      "Request handling latency, labeled by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		UpstreamHealthy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "healthy",
			Help:      "1 if the upstream server is currently healthy, else 0.",
		}, []string{"pool", "address"}),
		UpstreamActiveConns: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "active_connections",
			Help:      "Current in-flight request count for an upstream server.",
		}, []string{"pool", "address"}),
		ACMERenewalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acme",
			Name:      "renewals_total",
			Help:      "ACME renewal attempts, labeled by domain and outcome.",
		}, []string{"domain", "outcome"}),
		RateLimitDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "denied_total",
			Help:      "Requests denied by the rate limiter, labeled by identity class.",
		}, []string{"identity_class"}),
	}
}
