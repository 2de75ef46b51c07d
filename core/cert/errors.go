package cert

import "errors"

var (
	// ErrNotFound is returned when no certificate matches the given ID or domain.
	ErrNotFound = errors.New("certificate not found")

	// ErrInvalidPEM is returned when certificate material cannot be decoded.
	ErrInvalidPEM = errors.New("invalid certificate PEM")

	// ErrEmptyID is returned when a certificate is saved without an ID.
	ErrEmptyID = errors.New("certificate id is empty")
)
