package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/proxykit/core/cert"
	"github.com/dmitrymomot/proxykit/core/logger"
	"github.com/dmitrymomot/proxykit/core/nginx"
	"github.com/dmitrymomot/proxykit/core/rule"
)

// State is the applier's position in its apply state machine.
type State int32

const (
	StateIdle State = iota
	StateWriting
	StateTesting
	StateReloading
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWriting:
		return "writing"
	case StateTesting:
		return "testing"
	case StateReloading:
		return "reloading"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds writer/reloader settings.
type Config struct {
	// ConfDir is the directory the running nginx includes per-rule files from.
	ConfDir string `env:"NGINX_CONF_DIR" envDefault:"/etc/nginx/conf.d"`

	// StagingDir receives rendered files before the syntax test. It must be
	// on the same filesystem as ConfDir so the swap is an atomic rename.
	StagingDir string `env:"NGINX_STAGING_DIR" envDefault:"/etc/nginx/staging"`

	// Binary is the nginx executable used for syntax tests and reloads.
	Binary string `env:"NGINX_BINARY" envDefault:"nginx"`

	CommandTimeout time.Duration `env:"NGINX_COMMAND_TIMEOUT" envDefault:"30s"`
}

// testHarnessFile wraps the staged per-rule files into a standalone config
// so nginx -t can evaluate them in isolation. The extension keeps it out of
// the *.conf include glob.
const testHarnessFile = "test-harness.nginx"

// CertResolver resolves the certificate a rule references, if any.
type CertResolver interface {
	Get(ctx context.Context, id string) (*cert.Certificate, error)
}

// Applier safely applies rendered configuration to the running proxy:
// stage, syntax-test, atomic swap, reload. Concurrent Apply calls serialize
// on one lock; the underlying effect (reloading one shared nginx) is not
// parallelizable.
type Applier struct {
	cfg      Config
	renderer *nginx.Renderer
	certs    CertResolver
	runner   CommandRunner
	logger   *slog.Logger

	mu    sync.Mutex
	state atomic.Int32

	applies  atomic.Int64
	failures atomic.Int64
}

// ApplierOption configures an Applier.
type ApplierOption func(*Applier)

// WithCommandRunner replaces the exec-based runner, primarily for tests.
func WithCommandRunner(r CommandRunner) ApplierOption {
	return func(a *Applier) {
		if r != nil {
			a.runner = r
		}
	}
}

// WithLogger sets the structured logger. Logging is disabled by default.
func WithLogger(logger *slog.Logger) ApplierOption {
	return func(a *Applier) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewApplier creates an applier. The renderer is required; certs may be nil
// when no rule references store-managed certificates.
func NewApplier(cfg Config, renderer *nginx.Renderer, certs CertResolver, opts ...ApplierOption) (*Applier, error) {
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if cfg.ConfDir == "" {
		return nil, fmt.Errorf("configuration directory is required")
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = filepath.Join(filepath.Dir(cfg.ConfDir), "staging")
	}
	if cfg.Binary == "" {
		cfg.Binary = "nginx"
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}

	a := &Applier{
		cfg:      cfg,
		renderer: renderer,
		certs:    certs,
		runner:   execRunner{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// State returns the applier's current state.
func (a *Applier) State() State { return State(a.state.Load()) }

// Stats reports apply counters for observability.
type Stats struct {
	Applies  int64
	Failures int64
	State    State
}

// Stats returns a snapshot of apply counters.
func (a *Applier) Stats() Stats {
	return Stats{
		Applies:  a.applies.Load(),
		Failures: a.failures.Load(),
		State:    a.State(),
	}
}

// Apply renders all enabled rules and applies the result to the running
// proxy. Validation and rendering happen before any file is written; a
// failed syntax test leaves the active configuration untouched.
func (a *Applier) Apply(ctx context.Context, rules []rule.Rule) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.apply(ctx, rules)
}

// TryApply is a non-blocking Apply. It returns ErrApplyInProgress when
// another apply holds the lock.
func (a *Applier) TryApply(ctx context.Context, rules []rule.Rule) error {
	if !a.mu.TryLock() {
		return ErrApplyInProgress
	}
	defer a.mu.Unlock()
	return a.apply(ctx, rules)
}

func (a *Applier) apply(ctx context.Context, rules []rule.Rule) error {
	defer a.state.Store(int32(StateIdle))

	// Render everything up front. A single invalid rule aborts the whole
	// apply before the filesystem is touched.
	rendered, err := a.renderAll(ctx, rules)
	if err != nil {
		a.failures.Add(1)
		a.state.Store(int32(StateFailed))
		return err
	}

	a.state.Store(int32(StateWriting))
	if err := a.stage(rendered); err != nil {
		a.failures.Add(1)
		a.state.Store(int32(StateFailed))
		return &ConfigurationError{Err: err}
	}

	a.state.Store(int32(StateTesting))
	if out, err := a.test(ctx); err != nil {
		a.failures.Add(1)
		a.state.Store(int32(StateFailed))
		a.logger.ErrorContext(ctx, "configuration syntax test failed",
			logger.Output(out), logger.Error(err))
		return &ConfigurationError{Output: out, Err: err}
	}

	if err := a.swap(rendered); err != nil {
		a.failures.Add(1)
		a.state.Store(int32(StateFailed))
		return &ConfigurationError{Err: err}
	}

	a.state.Store(int32(StateReloading))
	if out, err := a.reload(ctx); err != nil {
		a.failures.Add(1)
		a.logger.ErrorContext(ctx, "proxy reload failed, prior configuration keeps serving",
			logger.Output(out), logger.Error(err))
		return &ReloadError{Output: out, Err: err}
	}

	a.applies.Add(1)
	a.logger.InfoContext(ctx, "configuration applied",
		logger.RuleCount(len(rendered)))
	return nil
}

// renderAll produces the per-file configuration texts for all enabled rules.
func (a *Applier) renderAll(ctx context.Context, rules []rule.Rule) (map[string]string, error) {
	rendered := make(map[string]string, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}

		var resolved *cert.Certificate
		if r.HasManagedCertificate() && a.certs != nil {
			c, err := a.certs.Get(ctx, r.CertificateID)
			switch {
			case err == nil:
				resolved = c
			case errors.Is(err, cert.ErrNotFound):
				// Certificate not issued yet: render HTTP-only with the
				// challenge location so issuance can proceed.
			default:
				return nil, fmt.Errorf("resolve certificate for rule %s: %w", r.ID, err)
			}
		}

		text, err := a.renderer.Render(r, resolved)
		if err != nil {
			return nil, err
		}
		rendered[nginx.FileName(r)] = text
	}
	return rendered, nil
}

func (a *Applier) stage(rendered map[string]string) error {
	if err := os.MkdirAll(a.cfg.StagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	if err := clearConfFiles(a.cfg.StagingDir); err != nil {
		return err
	}

	for name, text := range rendered {
		path := filepath.Join(a.cfg.StagingDir, name)
		if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
			return fmt.Errorf("stage %s: %w", name, err)
		}
	}

	harness := fmt.Sprintf("events {}\nhttp {\n    include %s;\n}\n",
		filepath.Join(a.cfg.StagingDir, "*.conf"))
	harnessPath := filepath.Join(a.cfg.StagingDir, testHarnessFile)
	if err := os.WriteFile(harnessPath, []byte(harness), 0o644); err != nil {
		return fmt.Errorf("write test harness: %w", err)
	}
	return nil
}

func (a *Applier) test(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CommandTimeout)
	defer cancel()

	harnessPath := filepath.Join(a.cfg.StagingDir, testHarnessFile)
	out, err := a.runner.Run(ctx, a.cfg.Binary, "-t", "-c", harnessPath)
	return strings.TrimSpace(string(out)), err
}

// swap atomically replaces the active configuration: staged files are
// renamed into the conf dir and files for rules that no longer exist are
// removed. Rename on the same filesystem never exposes a partial file.
func (a *Applier) swap(rendered map[string]string) error {
	if err := os.MkdirAll(a.cfg.ConfDir, 0o755); err != nil {
		return fmt.Errorf("create configuration directory: %w", err)
	}

	for name := range rendered {
		src := filepath.Join(a.cfg.StagingDir, name)
		dst := filepath.Join(a.cfg.ConfDir, name)
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("activate %s: %w", name, err)
		}
	}

	entries, err := os.ReadDir(a.cfg.ConfDir)
	if err != nil {
		return fmt.Errorf("list configuration directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".conf") {
			continue
		}
		if _, keep := rendered[name]; !keep {
			if err := os.Remove(filepath.Join(a.cfg.ConfDir, name)); err != nil {
				return fmt.Errorf("remove stale %s: %w", name, err)
			}
		}
	}
	return nil
}

func (a *Applier) reload(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CommandTimeout)
	defer cancel()

	out, err := a.runner.Run(ctx, a.cfg.Binary, "-s", "reload")
	return strings.TrimSpace(string(out)), err
}

func clearConfFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".conf") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("clear %s: %w", entry.Name(), err)
		}
	}
	return nil
}
