package acme

import "errors"

var (
	// ErrDomainVerificationFailed is returned when the CA could not validate
	// control of the domain, typically because the HTTP-01 challenge path is
	// not reachable on port 80 for the domain.
	ErrDomainVerificationFailed = errors.New("domain verification failed")

	// ErrRateLimited is returned when the CA rejected the request due to
	// rate limiting. Not retried within a workflow invocation.
	ErrRateLimited = errors.New("certificate authority rate limit")

	// ErrNetworkError is returned for transport-level failures and timeouts
	// talking to the CA.
	ErrNetworkError = errors.New("acme network error")

	// ErrOrderExpired is returned when the ACME order expired before it
	// could be finalized.
	ErrOrderExpired = errors.New("acme order expired")

	// ErrIssuanceFailed is the generic issuance failure wrapper for errors
	// that fit no more specific category.
	ErrIssuanceFailed = errors.New("certificate issuance failed")

	// ErrIssuanceInFlight is returned when a concurrent workflow for the
	// same domain exists and the new request cannot attach to it.
	ErrIssuanceInFlight = errors.New("issuance already in flight for domain")

	// ErrEmailRequired is returned when no contact email is supplied.
	ErrEmailRequired = errors.New("contact email is required")
)
