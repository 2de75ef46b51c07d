package proxy

import (
	"errors"
	"fmt"
)

var (
	// ErrApplyInProgress is returned by TryApply when another apply holds the lock.
	ErrApplyInProgress = errors.New("configuration apply already in progress")
)

// ConfigurationError reports a failed render or syntax test. The previously
// active configuration is untouched when this error is returned.
type ConfigurationError struct {
	// Output is the raw diagnostic text from nginx -t, when available.
	Output string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("configuration rejected: %v: %s", e.Err, e.Output)
	}
	return fmt.Sprintf("configuration rejected: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ReloadError reports that the syntax test passed and the new configuration
// was activated on disk, but signalling the running proxy process failed.
// The process keeps serving with its prior in-memory configuration: degraded
// but safe.
type ReloadError struct {
	Output string
	Err    error
}

func (e *ReloadError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("proxy reload failed: %v: %s", e.Err, e.Output)
	}
	return fmt.Sprintf("proxy reload failed: %v", e.Err)
}

func (e *ReloadError) Unwrap() error { return e.Err }
