package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/proxykit/core/cert"
)

// Schema is the table the certificate store expects. Apply it with whatever
// migration tooling the host application uses.
const Schema = `
CREATE TABLE IF NOT EXISTS certificates (
    id              TEXT PRIMARY KEY,
    domain          TEXT NOT NULL,
    certificate_pem BYTEA NOT NULL,
    private_key_pem BYTEA NOT NULL,
    chain_pem       BYTEA,
    expires_at      TIMESTAMPTZ NOT NULL,
    issued_at       TIMESTAMPTZ NOT NULL,
    managed         BOOLEAN NOT NULL DEFAULT TRUE,
    email           TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS certificates_domain_idx ON certificates (domain);
`

// CertificateStore is a Postgres-backed cert.Store for deployments where
// several engine instances share certificate material.
type CertificateStore struct {
	pool *pgxpool.Pool
}

// NewCertificateStore wraps an existing connection pool.
func NewCertificateStore(pool *pgxpool.Pool) (*CertificateStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	return &CertificateStore{pool: pool}, nil
}

const certColumns = `id, domain, certificate_pem, private_key_pem, chain_pem, expires_at, issued_at, managed, email`

func (s *CertificateStore) Get(ctx context.Context, id string) (*cert.Certificate, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+certColumns+` FROM certificates WHERE id = $1`, id)
	c, err := scanCertificate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", cert.ErrNotFound, id)
	}
	return c, err
}

func (s *CertificateStore) GetByDomain(ctx context.Context, domain string) (*cert.Certificate, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+certColumns+` FROM certificates WHERE domain = $1 ORDER BY issued_at DESC LIMIT 1`, domain)
	c, err := scanCertificate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: domain %s", cert.ErrNotFound, domain)
	}
	return c, err
}

func (s *CertificateStore) List(ctx context.Context) ([]cert.Certificate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+certColumns+` FROM certificates ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	var out []cert.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Save upserts by ID: renewal replaces content under the same primary key,
// which is exactly the id-stability invariant the data model requires.
func (s *CertificateStore) Save(ctx context.Context, c *cert.Certificate) error {
	if c.ID == "" {
		return cert.ErrEmptyID
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO certificates (id, domain, certificate_pem, private_key_pem, chain_pem, expires_at, issued_at, managed, email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			domain = EXCLUDED.domain,
			certificate_pem = EXCLUDED.certificate_pem,
			private_key_pem = EXCLUDED.private_key_pem,
			chain_pem = EXCLUDED.chain_pem,
			expires_at = EXCLUDED.expires_at,
			issued_at = EXCLUDED.issued_at,
			managed = EXCLUDED.managed,
			email = EXCLUDED.email,
			updated_at = now()`,
		c.ID, c.Domain, c.CertificatePEM, c.PrivateKeyPEM, c.ChainPEM,
		c.ExpiresAt, c.IssuedAt, c.Managed, c.Email)
	if err != nil {
		return fmt.Errorf("save certificate %s: %w", c.ID, err)
	}
	return nil
}

func (s *CertificateStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM certificates WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete certificate %s: %w", id, err)
	}
	return nil
}

func scanCertificate(row pgx.Row) (*cert.Certificate, error) {
	var c cert.Certificate
	err := row.Scan(&c.ID, &c.Domain, &c.CertificatePEM, &c.PrivateKeyPEM, &c.ChainPEM,
		&c.ExpiresAt, &c.IssuedAt, &c.Managed, &c.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan certificate: %w", err)
	}
	return &c, nil
}
