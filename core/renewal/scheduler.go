package renewal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/proxykit/core/cert"
	"github.com/dmitrymomot/proxykit/core/logger"
	"github.com/dmitrymomot/proxykit/core/rule"
)

// Config holds renewal scheduler settings. Interval and threshold are
// explicit configuration, not constants baked into the loop.
type Config struct {
	// Interval is how often the certificate store is scanned.
	Interval time.Duration `env:"RENEWAL_INTERVAL" envDefault:"24h"`

	// ThresholdDays selects certificates for renewal: everything with
	// floor((expiry - now) / day) <= ThresholdDays is renewed.
	ThresholdDays int `env:"RENEWAL_THRESHOLD_DAYS" envDefault:"30"`

	// RenewTimeout bounds a single domain's renewal attempt.
	RenewTimeout time.Duration `env:"RENEWAL_TIMEOUT" envDefault:"5m"`

	ShutdownTimeout time.Duration `env:"RENEWAL_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Renewer re-issues a certificate, keeping its ID. Satisfied by acme.Service.
type Renewer interface {
	Renew(ctx context.Context, domain, certID string) (*cert.Certificate, error)
}

// RuleSource provides the rule snapshot applied after successful renewals.
type RuleSource interface {
	List(ctx context.Context) ([]rule.Rule, error)
}

// Applier pushes the rendered configuration to the running proxy.
// Satisfied by proxy.Applier.
type Applier interface {
	Apply(ctx context.Context, rules []rule.Rule) error
}

// Scheduler is the periodic renewal task. Each tick scans the certificate
// store, renews everything inside the expiry threshold, and triggers a
// configuration apply so renewed material takes effect without manual
// action. One domain's failure never stops the scan of the remaining
// domains in the same tick.
type Scheduler struct {
	cfg     Config
	store   cert.Store
	renewer Renewer
	rules   RuleSource
	applier Applier
	logger  *slog.Logger
	now     func() time.Time

	onRenewed func(ctx context.Context, c *cert.Certificate)

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	ticks    atomic.Int64
	renewals atomic.Int64
	failures atomic.Int64
}

// SchedulerStats exposes loop counters for observability.
type SchedulerStats struct {
	Ticks     int64
	Renewals  int64
	Failures  int64
	IsRunning bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLogger sets the structured logger. Logging is disabled by default.
func WithLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithApplier wires the configuration applier triggered after successful
// renewals, fed from the given rule source.
func WithApplier(applier Applier, rules RuleSource) SchedulerOption {
	return func(s *Scheduler) {
		s.applier = applier
		s.rules = rules
	}
}

// WithOnRenewed registers a callback invoked for each successfully renewed
// certificate, after it has been persisted.
func WithOnRenewed(fn func(ctx context.Context, c *cert.Certificate)) SchedulerOption {
	return func(s *Scheduler) { s.onRenewed = fn }
}

// WithClock overrides the time source. Primarily useful for testing
// threshold selection without waiting for real expiry.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler creates a renewal scheduler.
func NewScheduler(cfg Config, store cert.Store, renewer Renewer, opts ...SchedulerOption) (*Scheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("certificate store is required")
	}
	if renewer == nil {
		return nil, fmt.Errorf("renewer is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.ThresholdDays <= 0 {
		cfg.ThresholdDays = 30
	}
	if cfg.RenewTimeout <= 0 {
		cfg.RenewTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Scheduler{
		cfg:     cfg,
		store:   store,
		renewer: renewer,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Stats returns a snapshot of loop counters.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Ticks:     s.ticks.Load(),
		Renewals:  s.renewals.Load(),
		Failures:  s.failures.Load(),
		IsRunning: s.running.Load(),
	}
}

// Start runs the scheduler loop until the context is cancelled. Blocking;
// run it in a goroutine or use Run for errgroup coordination. The first
// scan happens immediately rather than one interval in.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "renewal scheduler started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("threshold_days", s.cfg.ThresholdDays))

	s.tickWithWait(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(context.Background(), "renewal scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			s.tickWithWait(ctx)
		}
	}
}

// Stop cancels the loop and waits for an in-progress scan up to the
// shutdown timeout.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not started")
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		return fmt.Errorf("shutdown timeout exceeded after %s", s.cfg.ShutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		err := s.Start(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
}

func (s *Scheduler) tickWithWait(ctx context.Context) {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.ticks.Add(1)
	s.tick(ctx)
}

// Tick runs one scan synchronously. Exposed so hosts can force a scan on
// demand, e.g. from a dashboard action.
func (s *Scheduler) Tick(ctx context.Context) {
	s.ticks.Add(1)
	s.tick(ctx)
}

func (s *Scheduler) tick(ctx context.Context) {
	certs, err := s.store.List(ctx)
	if err != nil {
		s.failures.Add(1)
		s.logger.ErrorContext(ctx, "certificate scan failed", logger.Error(err))
		return
	}

	now := s.now()
	renewedAny := false
	for _, c := range certs {
		if !c.Managed {
			continue
		}
		days := c.DaysRemaining(now)
		if days > s.cfg.ThresholdDays {
			continue
		}

		if err := s.renewOne(ctx, c); err != nil {
			// Isolation: one domain's failure must not stop the scan.
			s.failures.Add(1)
			s.logger.ErrorContext(ctx, "certificate renewal failed",
				logger.Domain(c.Domain),
				logger.CertificateID(c.ID),
				logger.DaysRemaining(days),
				logger.Error(err))
			continue
		}
		renewedAny = true
		s.renewals.Add(1)

		if ctx.Err() != nil {
			return
		}
	}

	if renewedAny && s.applier != nil && s.rules != nil {
		if err := s.applyRules(ctx); err != nil {
			s.failures.Add(1)
			s.logger.ErrorContext(ctx, "post-renewal configuration apply failed",
				logger.Error(err))
		}
	}
}

func (s *Scheduler) renewOne(ctx context.Context, c cert.Certificate) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RenewTimeout)
	defer cancel()

	renewed, err := s.renewer.Renew(ctx, c.Domain, c.ID)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "certificate renewed",
		logger.Domain(renewed.Domain),
		logger.CertificateID(renewed.ID),
		logger.ExpiresAt(renewed.ExpiresAt))

	if s.onRenewed != nil {
		s.onRenewed(ctx, renewed)
	}
	return nil
}

// applyRules pushes the full enabled-rule snapshot through the writer so
// renewed material takes effect for every rule referencing it.
func (s *Scheduler) applyRules(ctx context.Context) error {
	rules, err := s.rules.List(ctx)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	return s.applier.Apply(ctx, rules)
}
