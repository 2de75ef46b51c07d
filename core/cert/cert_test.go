package cert_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/proxykit/core/cert"
)

// selfSignedPEM generates a throwaway certificate for the given domain
// expiring at notAfter and returns the certificate and key PEM blocks.
func selfSignedPEM(t *testing.T, domain string, notAfter time.Time) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: domain},
		DNSNames:     []string{domain},
		NotBefore:    notAfter.Add(-90 * 24 * time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

func TestDaysRemaining(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		expiresAt time.Time
		want      int
	}{
		{"thirty days out", now.Add(30 * 24 * time.Hour), 30},
		{"partial day rounds down", now.Add(29*24*time.Hour + 23*time.Hour), 29},
		{"under a day", now.Add(6 * time.Hour), 0},
		{"expired", now.Add(-48 * time.Hour), -2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := cert.Certificate{ExpiresAt: tc.expiresAt}
			assert.Equal(t, tc.want, c.DaysRemaining(now))
		})
	}
}

func TestExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()

	c := cert.Certificate{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, c.Expired(now))

	c.ExpiresAt = now.Add(-time.Hour)
	assert.True(t, c.Expired(now))

	c.ExpiresAt = now
	assert.True(t, c.Expired(now), "expiry instant counts as expired")
}

func TestParseExpiry(t *testing.T) {
	t.Parallel()

	notAfter := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	certPEM, _ := selfSignedPEM(t, "app.example.com", notAfter)

	got, err := cert.ParseExpiry(certPEM)
	require.NoError(t, err)
	assert.True(t, got.Equal(notAfter), "got %s, want %s", got, notAfter)

	_, err = cert.ParseExpiry([]byte("not pem at all"))
	assert.ErrorIs(t, err, cert.ErrInvalidPEM)

	_, err = cert.ParseExpiry(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("garbage")}))
	assert.ErrorIs(t, err, cert.ErrInvalidPEM)
}
