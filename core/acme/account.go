package acme

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// accountKeys persists one ACME account private key per contact email. Keys
// survive restarts so the CA sees a stable account across renewals.
type accountKeys struct {
	dir string
}

func newAccountKeys(dir string) (*accountKeys, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create account key directory: %w", err)
	}
	return &accountKeys{dir: dir}, nil
}

// loadOrCreate returns the persisted key for the email, generating and
// persisting a fresh EC P-256 key on first use.
func (s *accountKeys) loadOrCreate(email string) (crypto.PrivateKey, error) {
	path := s.path(email)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return parseAccountKey(data)
	case os.IsNotExist(err):
		// fall through to generation
	default:
		return nil, fmt.Errorf("read account key: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate account key: %w", err)
	}

	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("encode account key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("write account key: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("persist account key: %w", err)
	}

	return key, nil
}

func (s *accountKeys) path(email string) string {
	name := strings.ToLower(strings.TrimSpace(email))
	name = strings.NewReplacer("@", "_at_", "/", "_", "\\", "_", ":", "_").Replace(name)
	return filepath.Join(s.dir, name+".key")
}

func parseAccountKey(pemBytes []byte) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("account key: no PEM block found")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse account key: %w", err)
	}
	return key, nil
}
