package renew

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/neomody77/avalon-sub001/certstore"
	"github.com/neomody77/avalon-sub001/sni"
)

// ErrRenewalFailedForTest stands in for a transient ACME error in tests
// exercising the failure path of maybeRenew.
var ErrRenewalFailedForTest = errors.New("renew: simulated obtain failure")

type fakeObtainer struct {
	mu       sync.Mutex
	calls    []string
	bundle   *certstore.Bundle
	err      error
}

func (f *fakeObtainer) Obtain(domain string) (*certstore.Bundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, domain)
	if f.err != nil {
		return nil, f.err
	}
	b := *f.bundle
	b.Domain = domain
	return &b, nil
}

func (f *fakeObtainer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func generateBundle(t *testing.T, notBefore, notAfter time.Time) *certstore.Bundle {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "example.com"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	var certBuf bytes.Buffer
	pem.Encode(&certBuf, &pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey: %v", err)
	}
	var keyBuf bytes.Buffer
	pem.Encode(&keyBuf, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	return &certstore.Bundle{
		CertChainPEM:  certBuf.String(),
		PrivateKeyPEM: keyBuf.String(),
		NotBefore:     notBefore,
		NotAfter:      notAfter,
	}
}

func TestMaybeRenewObtainsWhenNoBundleExists(t *testing.T) {
	store, err := certstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("certstore.New: %v", err)
	}
	resolver := sni.New(nil)
	now := time.Now()
	obtainer := &fakeObtainer{bundle: generateBundle(t, now, now.Add(90*24*time.Hour))}

	s := New(store, resolver, obtainer, []string{"example.com"}, time.Hour, 30*24*time.Hour, nil)
	s.tick(context.Background())

	if obtainer.callCount() != 1 {
		t.Fatalf("got %d Obtain calls, want 1", obtainer.callCount())
	}
	if resolver.DomainCount() != 1 {
		t.Fatalf("got DomainCount %d, want 1", resolver.DomainCount())
	}
}

func TestMaybeRenewSkipsFreshBundle(t *testing.T) {
	store, err := certstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("certstore.New: %v", err)
	}
	resolver := sni.New(nil)
	now := time.Now()
	fresh := generateBundle(t, now.Add(-time.Hour), now.Add(90*24*time.Hour))
	fresh.Domain = "example.com"
	if err := store.Put(fresh); err != nil {
		t.Fatalf("Put: %v", err)
	}

	obtainer := &fakeObtainer{bundle: fresh}
	s := New(store, resolver, obtainer, []string{"example.com"}, time.Hour, 30*24*time.Hour, nil)
	s.tick(context.Background())

	if obtainer.callCount() != 0 {
		t.Fatalf("a bundle well within its threshold must not trigger renewal, got %d calls", obtainer.callCount())
	}
}

func TestMaybeRenewCallsOnRenewedWithError(t *testing.T) {
	store, err := certstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("certstore.New: %v", err)
	}
	resolver := sni.New(nil)
	obtainer := &fakeObtainer{err: ErrRenewalFailedForTest}

	s := New(store, resolver, obtainer, []string{"example.com"}, time.Hour, 30*24*time.Hour, nil)

	var gotDomain string
	var gotErr error
	s.OnRenewed(func(domain string, err error) {
		gotDomain = domain
		gotErr = err
	})
	s.tick(context.Background())

	if gotDomain != "example.com" || gotErr != ErrRenewalFailedForTest {
		t.Fatalf("got (%q, %v), want (example.com, %v)", gotDomain, gotErr, ErrRenewalFailedForTest)
	}
	if resolver.DomainCount() != 0 {
		t.Fatalf("a failed renewal must not install anything into the resolver")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store, err := certstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("certstore.New: %v", err)
	}
	resolver := sni.New(nil)
	obtainer := &fakeObtainer{bundle: generateBundle(t, time.Now(), time.Now().Add(90*24*time.Hour))}

	s := New(store, resolver, obtainer, []string{"example.com"}, time.Hour, 30*24*time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after context cancellation")
	}
}
