package certutil

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// CertInfo summarises an issued client certificate
type CertInfo struct {
	Subject        string    `json:"subject"`
	Serial         string    `json:"serial"`
	Fingerprint    string    `json:"fingerprint"`     // SHA256 of the DER certificate
	KeyFingerprint string    `json:"key_fingerprint"` // SHA256 of the public key, ssh-keygen style
	NotBefore      time.Time `json:"not_before"`
	NotAfter       time.Time `json:"not_after"`
}

// ParsePEM parses the first CERTIFICATE block in data. Text before the
// block, as written by easyrsa, is skipped.
func ParsePEM(data []byte) (*x509.Certificate, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("no certificate found")
		}
		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		return cert, nil
	}
}

// GetFingerprint returns the SHA256 fingerprint of a certificate as
// colon-separated upper-case hex, the format openssl prints
func GetFingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	encoded := strings.ToUpper(hex.EncodeToString(sum[:]))

	pairs := make([]string, 0, len(sum))
	for i := 0; i < len(encoded); i += 2 {
		pairs = append(pairs, encoded[i:i+2])
	}
	return strings.Join(pairs, ":")
}

// GetKeyFingerprint returns the SHA256 fingerprint of the certificate's
// public key in the "SHA256:<base64>" form
func GetKeyFingerprint(cert *x509.Certificate) (string, error) {
	pub, err := ssh.NewPublicKey(cert.PublicKey)
	if err != nil {
		return "", fmt.Errorf("unsupported public key: %w", err)
	}
	return ssh.FingerprintSHA256(pub), nil
}

// Inspect parses a PEM certificate and summarises it
func Inspect(data []byte) (*CertInfo, error) {
	cert, err := ParsePEM(data)
	if err != nil {
		return nil, err
	}

	info := &CertInfo{
		Subject:     cert.Subject.CommonName,
		Serial:      strings.ToUpper(cert.SerialNumber.Text(16)),
		Fingerprint: GetFingerprint(cert),
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
	}

	// ed25519 and ECDSA keys from newer easyrsa releases are handled too;
	// anything else just has no key fingerprint
	if fp, err := GetKeyFingerprint(cert); err == nil {
		info.KeyFingerprint = fp
	}

	return info, nil
}

// InspectFile reads and inspects a PEM certificate file
func InspectFile(path string) (*CertInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	return Inspect(data)
}
