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

package acmeclient

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"go.uber.org/zap"

	"github.com/neomody77/avalon-sub001/certstore"
)

// ErrObtainFailed classifies any failure obtaining or renewing a
// certificate (network, nonce, challenge validation, order timeout),
// per spec.md §7's "ACME" error kind: all such failures are retried on
// the next renewal tick, never partially persisted.
var ErrObtainFailed = errors.New("acmeclient: obtain failed")

// Client obtains certificates via ACME HTTP-01 for a single ACME
// directory + contact email. A per-account serialization lock (Obtain
// takes it for its full duration) prevents concurrent order
// finalization from racing on the same nonce chain, per spec.md §4.3.
type Client struct {
	store      *certstore.Store
	challenges *ChallengeMap
	log        *zap.Logger

	directoryURL string
	email        string

	mu   sync.Mutex
	lego *lego.Client
	user *user
}

// New returns a Client that will register (or reuse) an account for
// email against directoryURL, publishing HTTP-01 challenge tokens into
// challenges and persisting results through store.
func New(store *certstore.Store, challenges *ChallengeMap, directoryURL, email string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{store: store, challenges: challenges, log: log, directoryURL: directoryURL, email: email}
}

// ensureAccount loads a persisted account for c.email if one exists,
// or registers a new one, caching the resulting lego.Client for reuse
// across Obtain calls (each new order still gets a fresh nonce chain,
// but there is no need to re-register the account each time).
func (c *Client) ensureAccount() (*lego.Client, error) {
	if c.lego != nil {
		return c.lego, nil
	}

	var u *user
	if acc, err := c.store.GetAccount(c.email); err == nil {
		reconstructed, err := userFromPEM(c.email, []byte(acc.AccountKeyPEM), &registration.Resource{URI: acc.AccountURL})
		if err != nil {
			return nil, err
		}
		u = reconstructed
	} else if errors.Is(err, certstore.ErrNotExist) {
		fresh, err := newUser(c.email)
		if err != nil {
			return nil, err
		}
		u = fresh
	} else {
		return nil, fmt.Errorf("acmeclient: loading account: %w", err)
	}

	cfg := lego.NewConfig(u)
	cfg.CADirURL = c.directoryURL
	cfg.Certificate.KeyType = certcrypto.EC256

	client, err := lego.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: building lego client: %v", ErrObtainFailed, err)
	}

	if err := client.Challenge.SetHTTP01Provider(&httpProvider{challenges: c.challenges}); err != nil {
		return nil, fmt.Errorf("%w: installing http-01 provider: %v", ErrObtainFailed, err)
	}

	if u.reg == nil {
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, fmt.Errorf("%w: registering account: %v", ErrObtainFailed, err)
		}
		u.reg = reg

		if key, ok := u.key.(*ecdsa.PrivateKey); ok {
			if keyPEM, err := marshalKeyPEM(key); err == nil {
				_ = c.store.PutAccount(&certstore.Account{
					ContactEmail:  c.email,
					AccountURL:    reg.URI,
					AccountKeyPEM: string(keyPEM),
					CreatedAt:     time.Now(),
				})
			}
		}
	}

	c.lego = client
	c.user = u
	return client, nil
}

// Obtain acquires (or renews) a certificate for domain: it ensures an
// account, creates an order, satisfies the HTTP-01 challenge via
// ChallengeMap, finalizes with a fresh CSR, and persists the resulting
// bundle through the certificate store. No partial bundle is ever
// written on failure.
func (c *Client) Obtain(domain string) (*certstore.Bundle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	client, err := c.ensureAccount()
	if err != nil {
		return nil, err
	}

	req := certificate.ObtainRequest{
		Domains: []string{domain},
		Bundle:  true,
	}
	res, err := client.Certificate.Obtain(req)
	if err != nil {
		return nil, fmt.Errorf("%w: obtaining certificate for %s: %v", ErrObtainFailed, domain, err)
	}

	notBefore, notAfter, err := leafValidity(res.Certificate)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing issued leaf for %s: %v", ErrObtainFailed, domain, err)
	}

	now := time.Now()
	bundle := &certstore.Bundle{
		Domain:        domain,
		CertChainPEM:  string(res.Certificate),
		PrivateKeyPEM: string(res.PrivateKey),
		NotBefore:     notBefore,
		NotAfter:      notAfter,
		CreatedAt:     now,
	}
	if err := c.store.Put(bundle); err != nil {
		return nil, fmt.Errorf("acmeclient: persisting bundle for %s: %w", domain, err)
	}
	c.log.Info("obtained certificate", zap.String("domain", domain), zap.Time("not_after", notAfter))
	return bundle, nil
}

// leafValidity parses the first (leaf) certificate in a PEM chain and
// returns its NotBefore/NotAfter, per spec.md §4.3's "parse not_after
// from the leaf X.509" requirement.
func leafValidity(chainPEM []byte) (notBefore, notAfter time.Time, err error) {
	block, _ := pem.Decode(chainPEM)
	if block == nil {
		return time.Time{}, time.Time{}, errors.New("acmeclient: no PEM block in issued chain")
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parsing leaf certificate: %w", err)
	}
	return leaf.NotBefore, leaf.NotAfter, nil
}
