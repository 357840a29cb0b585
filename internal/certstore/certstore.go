// Package certstore implements the CertificateStore collaborator from the
// design's external interfaces section: it owns the process-wide DTLS
// certificate and private key, loaded once at startup, and exposes the
// SHA-256 fingerprint needed for SDP answer generation. Fingerprint
// computation follows the same crypto/x509 + crypto/sha256 approach the
// teacher uses in certificate.go's GetFingerprints.
package certstore

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store is the CertificateStore collaborator. Absence of key.pem/cert.pem
// under the configured certs_dir is fatal at startup, per spec §6.
type Store struct {
	cert        tls.Certificate
	fingerprint string // SHA-256, colon-hex, e.g. "AB:CD:..."
}

// Load reads certsDir/cert.pem and certsDir/key.pem. Either missing is a
// fatal misconfiguration, per spec §6 — certstore never fabricates an
// ephemeral identity in their place.
func Load(certsDir string) (*Store, error) {
	certPath := filepath.Join(certsDir, "cert.pem")
	keyPath := filepath.Join(certsDir, "key.pem")

	if _, err := os.Stat(certPath); err != nil {
		return nil, fmt.Errorf("certstore: %s: %w", certPath, err)
	}
	if _, err := os.Stat(keyPath); err != nil {
		return nil, fmt.Errorf("certstore: %s: %w", keyPath, err)
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("certstore: loading cert/key pair from %s: %w", certsDir, err)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("certstore: parsing leaf certificate: %w", err)
	}
	cert.Leaf = leaf

	return &Store{
		cert:        cert,
		fingerprint: fingerprintOf(leaf),
	}, nil
}

// Certificate returns the process-wide DTLS certificate/key pair.
func (s *Store) Certificate() tls.Certificate {
	return s.cert
}

// Fingerprint returns the SHA-256 fingerprint, colon-separated hex pairs
// upper-cased, matching the "sha-256 AA:BB:..." form SDP answers embed.
func (s *Store) Fingerprint() string {
	return s.fingerprint
}

func fingerprintOf(leaf *x509.Certificate) string {
	sum := sha256.Sum256(leaf.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = strings.ToUpper(hex.EncodeToString([]byte{b}))
	}
	return strings.Join(parts, ":")
}
