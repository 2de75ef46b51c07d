package acme

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	legoacme "github.com/go-acme/lego/v4/acme"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/providers/http/webroot"
	"github.com/go-acme/lego/v4/registration"
	"github.com/google/uuid"

	"github.com/dmitrymomot/proxykit/core/cert"
	"github.com/dmitrymomot/proxykit/core/logger"
	"github.com/dmitrymomot/proxykit/core/rule"
)

// Config holds ACME workflow settings.
type Config struct {
	// DirectoryURL is the ACME v2 directory. Staging switches to the
	// Let's Encrypt staging directory regardless of DirectoryURL.
	DirectoryURL string `env:"ACME_DIRECTORY_URL" envDefault:"https://acme-v02.api.letsencrypt.org/directory"`
	Staging      bool   `env:"ACME_STAGING" envDefault:"false"`

	// ChallengeRoot is the webroot the HTTP-01 key authorizations are
	// published into. The config renderer serves this directory on the
	// challenge path of every rendered rule.
	ChallengeRoot string `env:"ACME_CHALLENGE_ROOT" envDefault:"/var/www/acme"`

	// AccountDir stores per-email ACME account keys.
	AccountDir string `env:"ACME_ACCOUNT_DIR" envDefault:"/var/lib/proxykit/acme"`

	// RequestTimeout bounds each obtain attempt against the CA.
	RequestTimeout time.Duration `env:"ACME_REQUEST_TIMEOUT" envDefault:"30s"`

	// MaxRetries is the retry budget per workflow invocation for transient
	// failures. Verification failures and rate limits are never retried.
	MaxRetries    uint          `env:"ACME_MAX_RETRIES" envDefault:"3"`
	RetryInterval time.Duration `env:"ACME_RETRY_INTERVAL" envDefault:"5s"`
}

// Service drives the ACME v2 protocol to obtain and renew certificates, one
// workflow per domain at a time. Workflows for different domains run
// concurrently; a second request for a domain with an active workflow
// attaches to the in-flight result instead of creating a second CA order.
type Service struct {
	cfg       Config
	store     cert.Store
	keys      *accountKeys
	newClient ClientFactory
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	inflight map[string]*workflow
}

// workflow is the transient per-domain issuance state. At most one may be
// active per domain.
type workflow struct {
	domain string
	email  string
	certID string // empty on first issuance, existing ID on renewal

	mu    sync.Mutex
	state WorkflowState

	done chan struct{}
	cert *cert.Certificate
	err  error
}

func (w *workflow) setState(s WorkflowState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// State returns the workflow's current protocol step.
func (w *workflow) State() WorkflowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClientFactory replaces the lego-backed client constructor. Primarily
// for tests driving the workflow against a stub CA.
func WithClientFactory(f ClientFactory) ServiceOption {
	return func(s *Service) {
		if f != nil {
			s.newClient = f
		}
	}
}

// WithServiceLogger sets the structured logger. Logging is disabled by default.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// withClock overrides time for tests.
func withClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates the issuance workflow service.
func NewService(cfg Config, store cert.Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("certificate store is required")
	}
	if cfg.DirectoryURL == "" {
		cfg.DirectoryURL = lego.LEDirectoryProduction
	}
	if cfg.Staging {
		cfg.DirectoryURL = lego.LEDirectoryStaging
	}
	if cfg.ChallengeRoot == "" {
		cfg.ChallengeRoot = "/var/www/acme"
	}
	if cfg.AccountDir == "" {
		cfg.AccountDir = "/var/lib/proxykit/acme"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}

	keys, err := newAccountKeys(cfg.AccountDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.ChallengeRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create challenge root: %w", err)
	}

	s := &Service{
		cfg:       cfg,
		store:     store,
		keys:      keys,
		newClient: defaultClientFactory,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
		inflight:  make(map[string]*workflow),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue obtains a certificate for the domain, persisting it under a fresh ID.
// A concurrent call for the same domain attaches to the in-flight workflow
// and receives its result; exactly one CA order is created either way.
func (s *Service) Issue(ctx context.Context, domain, email string) (*cert.Certificate, error) {
	return s.run(ctx, domain, email, "")
}

// Renew re-issues the certificate identified by certID for the domain. The
// certificate keeps its ID; only content and expiry are replaced, so rules
// referencing it need no edits.
func (s *Service) Renew(ctx context.Context, domain, certID string) (*cert.Certificate, error) {
	existing, err := s.store.Get(ctx, certID)
	if err != nil {
		return nil, err
	}
	if existing.Domain != domain {
		return nil, fmt.Errorf("%w: certificate %s covers %s, not %s",
			ErrIssuanceFailed, certID, existing.Domain, domain)
	}
	return s.run(ctx, domain, existing.Email, certID)
}

func (s *Service) run(ctx context.Context, domain, email, certID string) (*cert.Certificate, error) {
	if err := rule.ValidateDomain(domain); err != nil {
		return nil, err
	}
	if email == "" {
		return nil, ErrEmailRequired
	}

	s.mu.Lock()
	if wf, ok := s.inflight[domain]; ok {
		s.mu.Unlock()
		if wf.email != email {
			return nil, fmt.Errorf("%w: %s (conflicting contact email)", ErrIssuanceInFlight, domain)
		}
		// Attach to the in-flight workflow and reuse its result.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wf.done:
			return wf.cert, wf.err
		}
	}

	wf := &workflow{
		domain: domain,
		email:  email,
		certID: certID,
		state:  StateRequested,
		done:   make(chan struct{}),
	}
	s.inflight[domain] = wf
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, domain)
		s.mu.Unlock()
		close(wf.done)
	}()

	wf.cert, wf.err = s.execute(ctx, wf)
	if wf.err != nil {
		wf.setState(StateFailed)
	}
	return wf.cert, wf.err
}

// execute walks one workflow through the protocol steps.
func (s *Service) execute(ctx context.Context, wf *workflow) (*cert.Certificate, error) {
	log := s.logger.With(
		logger.Domain(wf.domain),
		logger.Directory(s.cfg.DirectoryURL))

	key, err := s.keys.loadOrCreate(wf.email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuanceFailed, err)
	}
	wf.setState(StateKeyReady)

	user := &account{email: wf.email, key: key}
	legoCfg := lego.NewConfig(user)
	legoCfg.CADirURL = s.cfg.DirectoryURL
	legoCfg.Certificate.KeyType = certcrypto.EC256
	legoCfg.Certificate.Timeout = s.cfg.RequestTimeout

	client, err := s.newClient(legoCfg)
	if err != nil {
		return nil, classify(err)
	}

	provider, err := webroot.NewHTTPProvider(s.cfg.ChallengeRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuanceFailed, err)
	}
	if err := client.SetHTTP01Provider(&trackingProvider{inner: provider, wf: wf}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuanceFailed, err)
	}

	reg, err := client.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, classify(err)
	}
	user.registration = reg
	wf.setState(StateOrderCreated)

	resource, err := s.obtainWithRetry(ctx, client, wf, log)
	if err != nil {
		return nil, err
	}
	wf.setState(StateFinalizing)

	expiry, err := cert.ParseExpiry(resource.Certificate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuanceFailed, err)
	}

	id := wf.certID
	if id == "" {
		id = uuid.New().String()
	}
	issued := &cert.Certificate{
		ID:             id,
		Domain:         wf.domain,
		CertificatePEM: resource.Certificate,
		PrivateKeyPEM:  resource.PrivateKey,
		ChainPEM:       resource.IssuerCertificate,
		ExpiresAt:      expiry,
		IssuedAt:       s.now().UTC(),
		Managed:        true,
		Email:          wf.email,
	}
	if err := s.store.Save(ctx, issued); err != nil {
		return nil, fmt.Errorf("%w: persist certificate: %v", ErrIssuanceFailed, err)
	}
	wf.setState(StateIssued)

	log.InfoContext(ctx, "certificate issued",
		logger.CertificateID(issued.ID),
		logger.ExpiresAt(issued.ExpiresAt))
	return issued, nil
}

// obtainWithRetry runs the order/challenge/finalize round against the CA
// under a bounded retry budget. Only transport-level failures are retried;
// verification failures and CA rate limits surface immediately.
func (s *Service) obtainWithRetry(ctx context.Context, client Client, wf *workflow, log *slog.Logger) (*certificate.Resource, error) {
	request := certificate.ObtainRequest{
		Domains: []string{wf.domain},
		Bundle:  true,
	}

	var resource *certificate.Resource
	operation := func() error {
		res, err := s.obtainOnce(ctx, client, request)
		if err != nil {
			classified := classify(err)
			if errors.Is(classified, ErrNetworkError) {
				log.WarnContext(ctx, "transient acme failure, will retry",
					logger.Error(err))
				return classified
			}
			return backoff.Permanent(classified)
		}
		resource = res
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(s.cfg.RetryInterval),
		), uint64(s.cfg.MaxRetries)),
		ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return resource, nil
}

// obtainOnce bounds a single blocking Obtain call with the configured
// request timeout so a stalled CA conversation fails instead of hanging.
func (s *Service) obtainOnce(ctx context.Context, client Client, request certificate.ObtainRequest) (*certificate.Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	type result struct {
		res *certificate.Resource
		err error
	}
	ch := make(chan result, 1)
	go func() {
		res, err := client.Obtain(request)
		ch <- result{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrNetworkError, ctx.Err())
	case r := <-ch:
		return r.res, r.err
	}
}

// trackingProvider mirrors challenge lifecycle callbacks into workflow state.
type trackingProvider struct {
	inner challenge.Provider
	wf    *workflow
}

func (p *trackingProvider) Present(domain, token, keyAuth string) error {
	p.wf.setState(StateChallengePending)
	return p.inner.Present(domain, token, keyAuth)
}

func (p *trackingProvider) CleanUp(domain, token, keyAuth string) error {
	p.wf.setState(StateChallengeValid)
	return p.inner.CleanUp(domain, token, keyAuth)
}

// classify maps raw CA and transport errors onto the package's error
// taxonomy. Problem detail types come from RFC 8555 urn:ietf:params:acme:error.
func classify(err error) error {
	if err == nil {
		return nil
	}

	problem, ok := problemDetails(err)
	if ok {
		switch {
		case strings.HasSuffix(problem.Type, ":rateLimited"):
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case strings.HasSuffix(problem.Type, ":unauthorized"),
			strings.HasSuffix(problem.Type, ":connection"),
			strings.HasSuffix(problem.Type, ":dns"),
			strings.HasSuffix(problem.Type, ":caa"),
			strings.HasSuffix(problem.Type, ":incorrectResponse"):
			return fmt.Errorf("%w: %v", ErrDomainVerificationFailed, err)
		case strings.HasSuffix(problem.Type, ":orderNotReady"):
			return fmt.Errorf("%w: %v", ErrOrderExpired, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %v", ErrNetworkError, err)
	}

	// lego flattens some CA responses into plain strings; fall back to
	// pattern matching the way the rest of the ecosystem does.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case strings.Contains(msg, "order") && strings.Contains(msg, "expired"):
		return fmt.Errorf("%w: %v", ErrOrderExpired, err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"), strings.Contains(msg, "network is unreachable"):
		return fmt.Errorf("%w: %v", ErrNetworkError, err)
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid authorization"),
		strings.Contains(msg, "acme: error"):
		return fmt.Errorf("%w: %v", ErrDomainVerificationFailed, err)
	}
	return fmt.Errorf("%w: %v", ErrIssuanceFailed, err)
}

// problemDetails digs an RFC 7807 problem document out of the error chain,
// whichever form lego wrapped it in.
func problemDetails(err error) (legoacme.ProblemDetails, bool) {
	var byPointer *legoacme.ProblemDetails
	if errors.As(err, &byPointer) && byPointer != nil {
		return *byPointer, true
	}
	return legoacme.ProblemDetails{}, false
}
