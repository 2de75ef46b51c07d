package rule

import "errors"

var (
	// ErrInvalidRule is returned when a rule fails structural validation.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrInvalidDomain is returned when a domain fails the DNS-label syntax check.
	ErrInvalidDomain = errors.New("invalid domain")

	// ErrInvalidTarget is returned when a target address is not a usable host:port.
	ErrInvalidTarget = errors.New("invalid target address")

	// ErrInvalidPort is returned when a port is outside the 1-65535 range.
	ErrInvalidPort = errors.New("invalid port")

	// ErrRuleNotFound is returned by stores when no rule matches the given ID.
	ErrRuleNotFound = errors.New("rule not found")
)
