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

// Package renew is the periodic certificate renewal scheduler. It
// holds references to the ACME client (C3), the certificate store
// (C1), and the SNI resolver (C2) but the resolver never refers back
// to it, per spec.md §9's "cyclic references avoided" design note.
// Grounded on caddytls/maintain.go's RenewInterval/RenewDurationBefore
// constants, carried over verbatim as this package's defaults.
package renew

import (
	"context"
	"crypto/tls"
	"time"

	"go.uber.org/zap"

	"github.com/neomody77/avalon-sub001/certstore"
	"github.com/neomody77/avalon-sub001/sni"
)

// DefaultInterval is how often a tick scans every configured domain,
// per spec.md §4.4.
const DefaultInterval = 12 * time.Hour

// DefaultThreshold is the remaining-lifetime threshold under which a
// bundle is renewed, per spec.md §4.4.
const DefaultThreshold = 30 * 24 * time.Hour

// Obtainer is the subset of acmeclient.Client the scheduler needs; a
// narrow interface keeps this package free of a direct acmeclient
// import so the DAG in spec.md §9 (Scheduler -> {ACME, Storage,
// Resolver-installer}) stays one-directional.
type Obtainer interface {
	Obtain(domain string) (*certstore.Bundle, error)
}

// Scheduler runs the periodic renewal tick described in spec.md §4.4.
type Scheduler struct {
	store     *certstore.Store
	resolver  *sni.Resolver
	acme      Obtainer
	domains   []string
	interval  time.Duration
	threshold time.Duration
	log       *zap.Logger

	onRenewed func(domain string, err error)
}

// New returns a Scheduler for the given domains. interval/threshold of
// zero fall back to DefaultInterval/DefaultThreshold.
func New(store *certstore.Store, resolver *sni.Resolver, acme Obtainer, domains []string, interval, threshold time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		store: store, resolver: resolver, acme: acme, domains: domains,
		interval: interval, threshold: threshold, log: log,
	}
}

// OnRenewed registers a callback invoked after each domain's renewal
// attempt this tick, with err nil on success. Primarily for wiring a
// metrics.Collectors counter without this package depending on it.
func (s *Scheduler) OnRenewed(fn func(domain string, err error)) { s.onRenewed = fn }

// Run ticks every s.interval until ctx is cancelled. A single
// process-wide shutdown (ctx.Done) cancels the *next* tick; an
// in-flight renewal is allowed to finish, per spec.md §4.4/§5.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// tick runs one renewal pass over every configured domain: at most one
// renewal attempt per domain per tick, no cross-tick backoff.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	for _, domain := range s.domains {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.maybeRenew(domain, now)
	}
}

func (s *Scheduler) maybeRenew(domain string, now time.Time) {
	bundle, err := s.store.Get(domain)
	needsRenewal := err != nil || bundle.ExpiresWithin(now, s.threshold)
	if !needsRenewal {
		return
	}

	s.log.Info("renewing certificate", zap.String("domain", domain))
	newBundle, err := s.acme.Obtain(domain)
	if s.onRenewed != nil {
		s.onRenewed(domain, err)
	}
	if err != nil {
		s.log.Error("renewal failed, will retry next tick", zap.String("domain", domain), zap.Error(err))
		return
	}

	leaf, parseErr := tls.X509KeyPair([]byte(newBundle.CertChainPEM), []byte(newBundle.PrivateKeyPEM))
	if parseErr != nil {
		s.log.Error("renewed bundle failed to parse as a TLS keypair", zap.String("domain", domain), zap.Error(parseErr))
		return
	}
	s.resolver.Add(domain, &sni.Pair{Leaf: &leaf})
	s.log.Info("installed renewed certificate", zap.String("domain", domain), zap.Time("not_after", newBundle.NotAfter))
}
