package nginx

import "errors"

var (
	// ErrCertificateMismatch is returned when the resolved certificate does
	// not cover the rule's domain.
	ErrCertificateMismatch = errors.New("certificate does not match rule domain")

	// ErrCertificateIncomplete is returned when an HTTPS render is requested
	// but the certificate has no usable on-disk paths.
	ErrCertificateIncomplete = errors.New("certificate paths are not resolved")
)
