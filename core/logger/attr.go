package logger

import (
	"log/slog"
	"time"
)

// Attribute helpers use the empty Attr pattern for nil safety, so calls
// like log.Info("msg", logger.Error(err)) need no explicit nil checks.

// Error creates an attribute for a single error under the key "error".
// Returns empty Attr for nil errors.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component names the engine component emitting the record.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Domain is the public hostname a certificate or rule concerns.
func Domain(domain string) slog.Attr {
	if domain == "" {
		return slog.Attr{}
	}
	return slog.String("domain", domain)
}

// RuleID identifies a routing rule.
func RuleID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("rule_id", id)
}

// CertificateID identifies a stored certificate.
func CertificateID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("certificate_id", id)
}

// Directory is the ACME directory URL in use.
func Directory(url string) slog.Attr {
	return slog.String("directory", url)
}

// ExpiresAt is a certificate expiry timestamp.
func ExpiresAt(t time.Time) slog.Attr {
	return slog.Time("expires_at", t)
}

// DaysRemaining is the whole days until a certificate expires.
func DaysRemaining(days int) slog.Attr {
	return slog.Int("days_remaining", days)
}

// RuleCount is the number of rules in an applied snapshot.
func RuleCount(n int) slog.Attr {
	return slog.Int("rule_count", n)
}

// Output carries captured diagnostic output of an external command.
func Output(out string) slog.Attr {
	if out == "" {
		return slog.Attr{}
	}
	return slog.String("output", out)
}

// Duration creates an attribute for a duration.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Elapsed logs the duration since the start time.
func Elapsed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}
