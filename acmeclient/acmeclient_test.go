package acmeclient

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"
)

func TestChallengeMapPutLookupRemove(t *testing.T) {
	cm := NewChallengeMap()

	if _, ok := cm.Lookup("tok"); ok {
		t.Fatalf("a fresh ChallengeMap must have no entries")
	}

	cm.Put("tok", "key-auth-value")
	got, ok := cm.Lookup("tok")
	if !ok || got != "key-auth-value" {
		t.Fatalf("got (%q, %v), want (key-auth-value, true)", got, ok)
	}

	cm.Remove("tok")
	if _, ok := cm.Lookup("tok"); ok {
		t.Fatalf("Lookup should fail after Remove")
	}
}

func TestHTTPProviderPresentCleanUp(t *testing.T) {
	cm := NewChallengeMap()
	p := &httpProvider{challenges: cm}

	if err := p.Present("example.com", "tok", "auth"); err != nil {
		t.Fatalf("Present: %v", err)
	}
	if got, ok := cm.Lookup("tok"); !ok || got != "auth" {
		t.Fatalf("got (%q, %v), want (auth, true)", got, ok)
	}

	if err := p.CleanUp("example.com", "tok", "auth"); err != nil {
		t.Fatalf("CleanUp: %v", err)
	}
	if _, ok := cm.Lookup("tok"); ok {
		t.Fatalf("CleanUp should remove the entry")
	}
}

func selfSignedChainPEM(t *testing.T, notBefore, notAfter time.Time) []byte {
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
	var buf bytes.Buffer
	if err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		t.Fatalf("pem.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestLeafValidityParsesLeafNotBeforeAfter(t *testing.T) {
	notBefore := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	notAfter := notBefore.Add(90 * 24 * time.Hour)
	chain := selfSignedChainPEM(t, notBefore, notAfter)

	gotBefore, gotAfter, err := leafValidity(chain)
	if err != nil {
		t.Fatalf("leafValidity: %v", err)
	}
	if !gotBefore.Equal(notBefore) {
		t.Fatalf("got NotBefore %v, want %v", gotBefore, notBefore)
	}
	if !gotAfter.Equal(notAfter) {
		t.Fatalf("got NotAfter %v, want %v", gotAfter, notAfter)
	}
}

func TestLeafValidityRejectsGarbage(t *testing.T) {
	if _, _, err := leafValidity([]byte("not pem at all")); err == nil {
		t.Fatalf("expected an error decoding non-PEM input")
	}
}
