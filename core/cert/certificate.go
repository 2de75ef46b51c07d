package cert

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"
)

// Certificate is the stored TLS material for one domain. The ID is immutable
// once issued: renewal replaces content in place so dependent rules never
// need edits.
type Certificate struct {
	ID     string `json:"id"`
	Domain string `json:"domain"`

	CertificatePEM []byte `json:"certificate_pem"`
	PrivateKeyPEM  []byte `json:"private_key_pem"`
	ChainPEM       []byte `json:"chain_pem,omitempty"`

	ExpiresAt time.Time `json:"expires_at"`
	IssuedAt  time.Time `json:"issued_at"`

	// Managed marks certificates issued by the ACME workflow. Externally
	// supplied certificates are stored with Managed=false and are never
	// auto-renewed.
	Managed bool   `json:"managed"`
	Email   string `json:"email,omitempty"`

	// On-disk locations of the PEM files, filled in by file-backed stores.
	// The renderer points ssl_certificate directives at these.
	CertificatePath string `json:"certificate_path,omitempty"`
	PrivateKeyPath  string `json:"private_key_path,omitempty"`
}

// DaysRemaining returns the whole days until expiry relative to now,
// rounding down. Expired certificates yield negative values.
func (c *Certificate) DaysRemaining(now time.Time) int {
	return int(c.ExpiresAt.Sub(now).Hours() / 24)
}

// Expired reports whether the certificate is past its expiry at now.
func (c *Certificate) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// ParseExpiry extracts the NotAfter timestamp from the leaf certificate of a
// PEM-encoded chain.
func ParseExpiry(certPEM []byte) (time.Time, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return time.Time{}, fmt.Errorf("%w: no PEM block found", ErrInvalidPEM)
	}
	parsed, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	return parsed.NotAfter.UTC(), nil
}
