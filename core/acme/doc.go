// Package acme drives the ACME v2 protocol (via go-acme/lego) to obtain and
// renew TLS certificates using the HTTP-01 challenge.
//
// # Workflow
//
// Each issuance is a per-domain state machine:
//
//	REQUESTED -> KEY_READY -> ORDER_CREATED -> CHALLENGE_PENDING ->
//	CHALLENGE_VALID -> FINALIZING -> ISSUED
//
// with FAILED reachable from every step. The account key for the contact
// email is persisted and reused, so the CA sees one stable account across
// renewals. Challenge key authorizations are published into a webroot
// directory that the config renderer serves on the well-known challenge
// path of every rendered rule, which is why issuance works for any domain
// the proxy already routes.
//
// # Concurrency
//
// At most one workflow is active per domain. A concurrent request for the
// same domain attaches to the in-flight workflow and receives its result -
// never a second CA order. This protects against CA rate limits and racing
// writers. Workflows for different domains run independently.
//
// # Failure taxonomy
//
// Failures map onto sentinel errors: ErrDomainVerificationFailed (the
// challenge path was not reachable for the domain), ErrRateLimited,
// ErrNetworkError, ErrOrderExpired. Only network errors are retried, under
// a bounded per-invocation budget; everything else surfaces immediately.
// Renewal keeps the certificate ID and replaces content in place.
package acme
