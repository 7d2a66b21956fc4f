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

// Package sni resolves a TLS handshake's ServerName to a certificate
// pair. It is deliberately small and read-heavy: the renewal scheduler
// (package renew) is the only writer, and it writes rarely compared to
// how often handshakes read.
package sni

import (
	"crypto/tls"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Pair is the (certificate, key) the resolver hands to the TLS stack
// for a matched name. It is built once, at install time, from a
// certstore.Bundle's PEM fields.
type Pair struct {
	Leaf *tls.Certificate
}

// Resolver is a thread-safe hostname-to-certificate map. Reads take a
// read lock and never block each other; installs take a write lock and
// are expected to be rare (ACME renewals, not per-request).
type Resolver struct {
	mu      sync.RWMutex
	byName  map[string]*Pair
	def     *Pair
	log     *zap.Logger
}

// New returns an empty Resolver. log may be nil, in which case a no-op
// logger is used.
func New(log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{byName: make(map[string]*Pair), log: log}
}

// Add installs pair for domain, atomically superseding any prior entry
// for that same name. In-flight handshakes that already read the old
// *Pair continue to use it unaffected, since Go's GC keeps it alive
// until those handshakes finish with it.
func (r *Resolver) Add(domain string, pair *Pair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[strings.ToLower(domain)] = pair
}

// SetDefault installs pair as the certificate served when no SNI name
// is presented and no default has previously been set, or to replace
// the existing default.
func (r *Resolver) SetDefault(pair *Pair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.def = pair
}

// Remove deletes the entry for domain, if any.
func (r *Resolver) Remove(domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, strings.ToLower(domain))
}

// DomainCount returns the number of distinct hostnames currently
// installed, not counting the default.
func (r *Resolver) DomainCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Resolve looks up a certificate pair for sni, trying an exact match
// first, then a one-level wildcard match, then falling back to the
// configured default. It returns nil if nothing matches.
func (r *Resolver) Resolve(name string) *Pair {
	name = strings.ToLower(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if name != "" {
		if pair, ok := r.byName[name]; ok {
			return pair
		}
		if wildcard, ok := oneLevelWildcard(name); ok {
			if pair, ok := r.byName[wildcard]; ok {
				return pair
			}
		}
	}
	return r.def
}

// oneLevelWildcard turns "foo.bar.baz" into "*.bar.baz". It returns
// ok=false for a bare top-level name with nothing to wildcard.
func oneLevelWildcard(name string) (string, bool) {
	i := strings.IndexByte(name, '.')
	if i < 0 {
		return "", false
	}
	return "*" + name[i:], true
}

// GetCertificate is the crypto/tls.Config.GetCertificate callback.
// Missing SNI with no installed default causes the handshake to fail,
// as the TLS stack interprets a nil certificate and nil error as
// "no certificate available" only when GetCertificate itself returns
// an error; we return one explicitly and log it.
func (r *Resolver) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	pair := r.Resolve(hello.ServerName)
	if pair == nil {
		r.log.Warn("no certificate available for handshake",
			zap.String("sni", hello.ServerName))
		return nil, errNoCertificate{sni: hello.ServerName}
	}
	return pair.Leaf, nil
}

type errNoCertificate struct{ sni string }

func (e errNoCertificate) Error() string {
	if e.sni == "" {
		return "sni: no SNI presented and no default certificate installed"
	}
	return "sni: no certificate for " + e.sni
}
