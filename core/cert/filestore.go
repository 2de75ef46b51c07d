package cert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	fullchainFile = "fullchain.pem"
	privkeyFile   = "privkey.pem"
	chainFile     = "chain.pem"
	metaFile      = "meta.toml"
)

// fileMeta is the TOML sidecar persisted next to the PEM files.
type fileMeta struct {
	Domain    string    `toml:"domain"`
	ExpiresAt time.Time `toml:"expires_at"`
	IssuedAt  time.Time `toml:"issued_at"`
	Managed   bool      `toml:"managed"`
	Email     string    `toml:"email,omitempty"`
}

// FileStore is a file-backed Store. Each certificate lives in its own
// directory named after its ID, holding certbot-style fullchain.pem and
// privkey.pem files plus a TOML metadata sidecar. All writes go through a
// temp file and an atomic rename, so readers (nginx included) never observe
// partial material.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates the storage directory if needed and returns a store
// rooted at it.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("certificate directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create certificate directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the storage root.
func (s *FileStore) Dir() string { return s.dir }

// CertificatePath returns the fullchain path for a certificate ID.
func (s *FileStore) CertificatePath(id string) string {
	return filepath.Join(s.dir, id, fullchainFile)
}

// PrivateKeyPath returns the private key path for a certificate ID.
func (s *FileStore) PrivateKeyPath(id string) string {
	return filepath.Join(s.dir, id, privkeyFile)
}

func (s *FileStore) Get(ctx context.Context, id string) (*Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

func (s *FileStore) GetByDomain(ctx context.Context, domain string) (*Certificate, error) {
	certs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range certs {
		if certs[i].Domain == domain {
			return &certs[i], nil
		}
	}
	return nil, fmt.Errorf("%w: domain %s", ErrNotFound, domain)
}

func (s *FileStore) List(ctx context.Context) ([]Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}

	var out []Certificate
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		c, err := s.read(entry.Name())
		if err != nil {
			// Skip directories without a complete certificate, e.g. a
			// crashed writer's leftovers.
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

func (s *FileStore) Save(ctx context.Context, c *Certificate) error {
	if c.ID == "" {
		return ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.dir, c.ID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create certificate directory: %w", err)
	}

	meta := fileMeta{
		Domain:    c.Domain,
		ExpiresAt: c.ExpiresAt,
		IssuedAt:  c.IssuedAt,
		Managed:   c.Managed,
		Email:     c.Email,
	}
	metaBytes, err := toml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal certificate metadata: %w", err)
	}

	if err := writeAtomic(filepath.Join(dir, fullchainFile), c.CertificatePEM, 0o644); err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(dir, privkeyFile), c.PrivateKeyPEM, 0o600); err != nil {
		return err
	}
	if len(c.ChainPEM) > 0 {
		if err := writeAtomic(filepath.Join(dir, chainFile), c.ChainPEM, 0o644); err != nil {
			return err
		}
	}
	if err := writeAtomic(filepath.Join(dir, metaFile), metaBytes, 0o600); err != nil {
		return err
	}

	c.CertificatePath = filepath.Join(dir, fullchainFile)
	c.PrivateKeyPath = filepath.Join(dir, privkeyFile)
	return nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(s.dir, id)); err != nil {
		return fmt.Errorf("delete certificate %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) read(id string) (*Certificate, error) {
	dir := filepath.Join(s.dir, id)

	metaBytes, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read certificate metadata: %w", err)
	}
	var meta fileMeta
	if err := toml.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("decode certificate metadata: %w", err)
	}

	certPEM, err := os.ReadFile(filepath.Join(dir, fullchainFile))
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(filepath.Join(dir, privkeyFile))
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	chainPEM, err := os.ReadFile(filepath.Join(dir, chainFile))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read chain: %w", err)
	}

	return &Certificate{
		ID:              id,
		Domain:          meta.Domain,
		CertificatePEM:  certPEM,
		PrivateKeyPEM:   keyPEM,
		ChainPEM:        chainPEM,
		ExpiresAt:       meta.ExpiresAt,
		IssuedAt:        meta.IssuedAt,
		Managed:         meta.Managed,
		Email:           meta.Email,
		CertificatePath: filepath.Join(dir, fullchainFile),
		PrivateKeyPath:  filepath.Join(dir, privkeyFile),
	}, nil
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // Best effort cleanup
		return fmt.Errorf("finalize %s: %w", filepath.Base(path), err)
	}
	return nil
}
