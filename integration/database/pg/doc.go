// Package pg provides PostgreSQL connectivity for the engine: a pgx
// connection pool with retry-on-connect and a Postgres-backed certificate
// store implementing cert.Store.
//
// The Postgres store exists for deployments running more than one engine
// instance against shared certificate material; single-node setups usually
// prefer cert.FileStore, whose on-disk PEM paths nginx can reference
// directly. Note that certificates fetched from Postgres carry no
// CertificatePath/PrivateKeyPath - hosts pairing this store with the
// renderer must materialize PEM files locally (e.g. by write-through to a
// FileStore).
package pg
