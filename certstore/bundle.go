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

// Package certstore is the durable on-disk store of certificate bundles
// and ACME accounts. It is the source of truth: the SNI resolver only
// ever holds what certstore has already persisted.
package certstore

import "time"

// Bundle is a certificate chain, its private key, and the validity
// window taken from the leaf certificate. Bundles are immutable once
// created: a renewal produces a new Bundle that replaces the old one,
// it never mutates it in place.
type Bundle struct {
	Domain        string    `json:"domain"`
	CertChainPEM  string    `json:"certificate_pem"`
	PrivateKeyPEM string    `json:"private_key_pem"`
	NotBefore     time.Time `json:"not_before"`
	NotAfter      time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Valid reports whether the bundle's validity window is internally
// consistent (not_before < not_after) and not yet expired.
func (b *Bundle) Valid(now time.Time) bool {
	return b.NotBefore.Before(b.NotAfter) && b.NotAfter.After(now)
}

// ExpiresWithin reports whether the bundle's remaining lifetime is at
// or under the given threshold, as measured from now.
func (b *Bundle) ExpiresWithin(now time.Time, threshold time.Duration) bool {
	return b.NotAfter.Sub(now) <= threshold
}

// Account is a registered ACME account, at most one per (contact email,
// directory URL) pair for the lifetime of the process.
type Account struct {
	ContactEmail  string    `json:"email"`
	AccountURL    string    `json:"account_url"`
	AccountKeyPEM string    `json:"private_key_pem"`
	CreatedAt     time.Time `json:"created_at"`
}
