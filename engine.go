package proxykit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dmitrymomot/proxykit/core/cert"
	"github.com/dmitrymomot/proxykit/core/event"
	"github.com/dmitrymomot/proxykit/core/logger"
	"github.com/dmitrymomot/proxykit/core/nginx"
	"github.com/dmitrymomot/proxykit/core/proxy"
	"github.com/dmitrymomot/proxykit/core/rule"
)

// Issuer obtains and renews certificates. Satisfied by acme.Service.
type Issuer interface {
	Issue(ctx context.Context, domain, email string) (*cert.Certificate, error)
	Renew(ctx context.Context, domain, certID string) (*cert.Certificate, error)
}

// Applier pushes rendered configuration to the running proxy. Satisfied by
// proxy.Applier.
type Applier interface {
	Apply(ctx context.Context, rules []rule.Rule) error
}

// Engine ties the renderer, writer/reloader, certificate store, and ACME
// workflow together behind the operations the rest of the system calls.
// It holds no state of its own beyond its collaborators: the injected
// stores are authoritative, rendered configuration is derived.
type Engine struct {
	rules    rule.Store
	certs    cert.Store
	renderer *nginx.Renderer
	applier  Applier
	issuer   Issuer
	bus      *event.Bus
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithEventBus wires lifecycle notifications. Without it, events are dropped.
func WithEventBus(bus *event.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithLogger sets the structured logger. Logging is disabled by default.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Engine. All collaborators are required except the options.
func New(rules rule.Store, certs cert.Store, renderer *nginx.Renderer, applier Applier, issuer Issuer, opts ...Option) (*Engine, error) {
	if rules == nil {
		return nil, fmt.Errorf("rule store is required")
	}
	if certs == nil {
		return nil, fmt.Errorf("certificate store is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if applier == nil {
		return nil, fmt.Errorf("applier is required")
	}
	if issuer == nil {
		return nil, fmt.Errorf("issuer is required")
	}

	e := &Engine{
		rules:    rules,
		certs:    certs,
		renderer: renderer,
		applier:  applier,
		issuer:   issuer,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Render produces the configuration text for one rule, resolving its
// certificate from the store when referenced by ID.
func (e *Engine) Render(ctx context.Context, r rule.Rule) (string, error) {
	var resolved *cert.Certificate
	if r.HasManagedCertificate() {
		c, err := e.certs.Get(ctx, r.CertificateID)
		switch {
		case err == nil:
			resolved = c
		case errors.Is(err, cert.ErrNotFound):
			// Not issued yet: render HTTP-only with the challenge location.
		default:
			return "", fmt.Errorf("resolve certificate for rule %s: %w", r.ID, err)
		}
	}
	return e.renderer.Render(r, resolved)
}

// Apply renders and activates the full enabled-rule snapshot.
func (e *Engine) Apply(ctx context.Context, rules []rule.Rule) error {
	if err := e.applier.Apply(ctx, rules); err != nil {
		return err
	}
	e.publish(ctx, event.ConfigApplied{RuleCount: len(rules)})
	return nil
}

// ApplyAll applies the current snapshot from the rule store.
func (e *Engine) ApplyAll(ctx context.Context) error {
	rules, err := e.rules.List(ctx)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	return e.Apply(ctx, rules)
}

// IssueCertificate runs the ACME workflow for the domain and, when the rule
// that requested it still exists, applies the refreshed configuration.
// Deleting a rule mid-issuance does not abort the workflow, but the apply
// step re-checks rule existence so configuration for a deleted rule is
// never resurrected.
func (e *Engine) IssueCertificate(ctx context.Context, domain, email string) (*cert.Certificate, error) {
	issued, err := e.issuer.Issue(ctx, domain, email)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, event.CertificateIssued{
		CertificateID: issued.ID,
		Domain:        issued.Domain,
		ExpiresAt:     issued.ExpiresAt,
	})

	if e.domainStillRouted(ctx, domain) {
		if err := e.ApplyAll(ctx); err != nil {
			e.logger.ErrorContext(ctx, "post-issuance apply failed",
				logger.Domain(domain), logger.Error(err))
		}
	}
	return issued, nil
}

// RenewCertificate re-issues the certificate under its existing ID and
// applies the refreshed configuration for rules that reference it.
func (e *Engine) RenewCertificate(ctx context.Context, domain, certID string) (*cert.Certificate, error) {
	renewed, err := e.issuer.Renew(ctx, domain, certID)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, event.CertificateRenewed{
		CertificateID: renewed.ID,
		Domain:        renewed.Domain,
		ExpiresAt:     renewed.ExpiresAt,
	})

	if e.domainStillRouted(ctx, domain) {
		if err := e.ApplyAll(ctx); err != nil {
			e.logger.ErrorContext(ctx, "post-renewal apply failed",
				logger.Domain(domain), logger.Error(err))
		}
	}
	return renewed, nil
}

// ListCertificates returns all stored certificates.
func (e *Engine) ListCertificates(ctx context.Context) ([]cert.Certificate, error) {
	return e.certs.List(ctx)
}

// DeleteCertificate removes stored material by ID.
func (e *Engine) DeleteCertificate(ctx context.Context, id string) error {
	return e.certs.Delete(ctx, id)
}

// domainStillRouted reports whether any rule still references the domain.
func (e *Engine) domainStillRouted(ctx context.Context, domain string) bool {
	rules, err := e.rules.List(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "rule snapshot failed", logger.Error(err))
		return false
	}
	for _, r := range rules {
		if r.Domain == domain {
			return true
		}
	}
	return false
}

func (e *Engine) publish(ctx context.Context, payload any) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, payload); err != nil && !errors.Is(err, event.ErrBusClosed) {
		e.logger.WarnContext(ctx, "event publish failed", logger.Error(err))
	}
}

// Compile-time interface checks against the concrete collaborators.
var (
	_ Applier = (*proxy.Applier)(nil)
)
