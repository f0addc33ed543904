package certutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"strings"
	"testing"
	"time"
)

func selfSigned(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(0xABCDEF),
		Subject:      pkix.Name{CommonName: "alice"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestInspect(t *testing.T) {
	// easyrsa prefixes issued certs with a text dump
	data := append([]byte("Certificate:\n    Data:\n        Version: 3 (0x2)\n"), selfSigned(t)...)

	info, err := Inspect(data)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if info.Subject != "alice" || info.Serial != "ABCDEF" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if len(strings.Split(info.Fingerprint, ":")) != 32 {
		t.Fatalf("expected 32 hex pairs, got %q", info.Fingerprint)
	}
	if !strings.HasPrefix(info.KeyFingerprint, "SHA256:") {
		t.Fatalf("unexpected key fingerprint %q", info.KeyFingerprint)
	}
}

func TestInspectRejectsGarbage(t *testing.T) {
	if _, err := Inspect([]byte("not a certificate")); err == nil {
		t.Fatal("expected error")
	}
	key := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1, 2, 3}})
	if _, err := Inspect(key); err == nil {
		t.Fatal("expected error when no certificate block is present")
	}
}
