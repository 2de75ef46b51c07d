// Package cert provides the certificate data model and its storage
// backends. A Certificate carries PEM material, expiry, and an immutable ID:
// renewal replaces content under the same ID, so routing rules referencing a
// certificate never need edits after a renewal.
//
// Three Store implementations exist:
//
//   - MemoryStore: in-memory, for tests and write-through caching.
//   - FileStore: certbot-style directory-per-certificate layout with
//     fullchain.pem / privkey.pem and a TOML metadata sidecar. Writes are
//     atomic (temp file + rename) so a reloading nginx never observes
//     partial material.
//   - pg.CertificateStore (integration/database/pg): Postgres-backed, for
//     multi-instance deployments.
//
// The store is authoritative; rendered proxy configuration is a derived
// artifact that can be discarded and recomputed at any time.
package cert
