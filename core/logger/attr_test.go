package logger_test

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/proxykit/core/logger"
)

func TestErrorAttr(t *testing.T) {
	t.Parallel()

	attr := logger.Error(errors.New("boom"))
	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, "boom", attr.Value.String())

	// Nil errors collapse to the empty Attr, which slog drops.
	assert.Equal(t, slog.Attr{}, logger.Error(nil))
}

func TestEmptyValueAttrs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.Attr{}, logger.Domain(""))
	assert.Equal(t, slog.Attr{}, logger.RuleID(""))
	assert.Equal(t, slog.Attr{}, logger.CertificateID(""))
	assert.Equal(t, slog.Attr{}, logger.Output(""))

	assert.Equal(t, "domain", logger.Domain("app.example.com").Key)
	assert.Equal(t, "rule_id", logger.RuleID("web").Key)
	assert.Equal(t, "certificate_id", logger.CertificateID("cert-1").Key)
}

func TestValueAttrs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(3), logger.RuleCount(3).Value.Int64())
	assert.Equal(t, int64(29), logger.DaysRemaining(29).Value.Int64())
	assert.Equal(t, 5*time.Second, logger.Duration(5*time.Second).Value.Duration())
	assert.Equal(t, "component", logger.Component("renewal").Key)

	expiry := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, expiry, logger.ExpiresAt(expiry).Value.Time())
}
