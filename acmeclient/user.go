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

// Package acmeclient obtains and renews certificates via ACME HTTP-01,
// built directly on github.com/go-acme/lego/v4 rather than rederiving
// JWS by hand, per spec.md §4.3/§9. Grounded on the account/nonce/
// challenge-publication shape of caddytls/client.go and
// caddytls/httphandler.go, and on erfianugrah-gloryhole/pkg/dns's use
// of the same lego/v4 client/registration/certificate sub-packages
// (there for DNS-01, here adapted to HTTP-01 only).
package acmeclient

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/go-acme/lego/v4/registration"
)

// user implements lego's registration.User, backed by an ECDSA P-256
// account key per spec.md §4.3's "ES256 or RS256" allowance (ES256
// chosen as the default, matching the teacher's own lego-based account
// key shape).
type user struct {
	email string
	key   crypto.PrivateKey
	reg   *registration.Resource
}

func (u *user) GetEmail() string                        { return u.email }
func (u *user) GetRegistration() *registration.Resource  { return u.reg }
func (u *user) GetPrivateKey() crypto.PrivateKey         { return u.key }

// newUser generates a fresh account key for email.
func newUser(email string) (*user, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("acmeclient: generating account key: %w", err)
	}
	return &user{email: email, key: key}, nil
}

// userFromPEM reconstructs a user from a previously persisted account
// key PEM, for the "ensure account" path when certstore already has
// one for this email.
func userFromPEM(email string, keyPEM []byte, reg *registration.Resource) (*user, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("acmeclient: invalid account key PEM for %s", email)
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("acmeclient: parsing account key for %s: %w", email, err)
	}
	return &user{email: email, key: key, reg: reg}, nil
}

func marshalKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("acmeclient: marshaling account key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}
