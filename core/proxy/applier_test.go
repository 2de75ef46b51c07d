package proxy_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/proxykit/core/cert"
	"github.com/dmitrymomot/proxykit/core/nginx"
	"github.com/dmitrymomot/proxykit/core/proxy"
	"github.com/dmitrymomot/proxykit/core/rule"
)

// call records one invocation of the fake nginx binary.
type call struct {
	name string
	args []string
}

// fakeRunner scripts the syntax test and reload steps.
type fakeRunner struct {
	mu        sync.Mutex
	calls     []call
	testErr   error
	testOut   string
	reloadErr error
	reloadOut string
	onTest    func()
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{name: name, args: args})
	f.mu.Unlock()

	if len(args) > 0 && args[0] == "-t" {
		if f.onTest != nil {
			f.onTest()
		}
		return []byte(f.testOut), f.testErr
	}
	return []byte(f.reloadOut), f.reloadErr
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestApplier(t *testing.T, runner proxy.CommandRunner, certs proxy.CertResolver) (*proxy.Applier, proxy.Config) {
	t.Helper()

	base := t.TempDir()
	cfg := proxy.Config{
		ConfDir:    filepath.Join(base, "conf.d"),
		StagingDir: filepath.Join(base, "staging"),
		Binary:     "nginx",
	}
	a, err := proxy.NewApplier(cfg, nginx.NewRenderer(nginx.Config{}), certs, proxy.WithCommandRunner(runner))
	require.NoError(t, err)
	return a, cfg
}

func enabledRule(id, domain string) rule.Rule {
	return rule.Rule{ID: id, Enabled: true, Domain: domain, Target: "10.0.0.5:8080"}
}

func TestNewApplierValidation(t *testing.T) {
	t.Parallel()

	_, err := proxy.NewApplier(proxy.Config{ConfDir: "/tmp/x"}, nil, nil)
	assert.Error(t, err)

	_, err = proxy.NewApplier(proxy.Config{}, nginx.NewRenderer(nginx.Config{}), nil)
	assert.Error(t, err)
}

func TestApplyWritesAndReloads(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	a, cfg := newTestApplier(t, runner, nil)

	rules := []rule.Rule{
		enabledRule("web", "app.example.com"),
		enabledRule("api", "api.example.com"),
		{ID: "off", Enabled: false, Domain: "off.example.com", Target: "10.0.0.9:8080"},
	}
	require.NoError(t, a.Apply(context.Background(), rules))

	// One file per enabled rule, disabled rules skipped.
	entries, err := os.ReadDir(cfg.ConfDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"web_app.example.com.conf", "api_api.example.com.conf"}, names)

	// Test then reload, in that order.
	require.Len(t, runner.calls, 2)
	assert.Equal(t, "-t", runner.calls[0].args[0])
	assert.Equal(t, []string{"-s", "reload"}, runner.calls[1].args)

	stats := a.Stats()
	assert.Equal(t, int64(1), stats.Applies)
	assert.Equal(t, int64(0), stats.Failures)
	assert.Equal(t, proxy.StateIdle, stats.State)
}

func TestApplyInvalidRuleTouchesNothing(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	a, cfg := newTestApplier(t, runner, nil)

	bad := enabledRule("bad", "app.example.com")
	bad.Target = "no-port"
	err := a.Apply(context.Background(), []rule.Rule{enabledRule("good", "good.example.com"), bad})
	assert.ErrorIs(t, err, rule.ErrInvalidTarget)

	// No command ran, no file written: validation precedes every effect.
	assert.Zero(t, runner.callCount())
	_, statErr := os.Stat(cfg.ConfDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestApplyFailedSyntaxTestKeepsActiveConfig(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	a, cfg := newTestApplier(t, runner, nil)

	require.NoError(t, a.Apply(context.Background(), []rule.Rule{enabledRule("web", "app.example.com")}))
	before, err := os.ReadFile(filepath.Join(cfg.ConfDir, "web_app.example.com.conf"))
	require.NoError(t, err)

	runner.testErr = errors.New("exit status 1")
	runner.testOut = `nginx: [emerg] unknown directive "bogus"`
	err = a.Apply(context.Background(), []rule.Rule{enabledRule("web2", "app.example.com")})

	var confErr *proxy.ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Contains(t, confErr.Output, "unknown directive")

	// The previously active file is untouched and no new file appeared.
	after, err := os.ReadFile(filepath.Join(cfg.ConfDir, "web_app.example.com.conf"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	_, statErr := os.Stat(filepath.Join(cfg.ConfDir, "web2_app.example.com.conf"))
	assert.True(t, os.IsNotExist(statErr))

	assert.Equal(t, int64(1), a.Stats().Failures)
}

func TestApplyReloadFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{reloadErr: errors.New("exit status 1"), reloadOut: "nginx: signal process failed"}
	a, cfg := newTestApplier(t, runner, nil)

	err := a.Apply(context.Background(), []rule.Rule{enabledRule("web", "app.example.com")})

	var reloadErr *proxy.ReloadError
	require.ErrorAs(t, err, &reloadErr)
	assert.Contains(t, reloadErr.Output, "signal process failed")

	// The new configuration was activated on disk even though the signal
	// failed; the running process keeps its prior in-memory config.
	_, statErr := os.Stat(filepath.Join(cfg.ConfDir, "web_app.example.com.conf"))
	assert.NoError(t, statErr)
}

func TestApplyRemovesStaleFiles(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	a, cfg := newTestApplier(t, runner, nil)

	require.NoError(t, a.Apply(context.Background(), []rule.Rule{
		enabledRule("web", "app.example.com"),
		enabledRule("api", "api.example.com"),
	}))

	// Second apply without the api rule removes its file.
	require.NoError(t, a.Apply(context.Background(), []rule.Rule{enabledRule("web", "app.example.com")}))

	_, statErr := os.Stat(filepath.Join(cfg.ConfDir, "api_api.example.com.conf"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(cfg.ConfDir, "web_app.example.com.conf"))
	assert.NoError(t, statErr)
}

func TestApplyResolvesManagedCertificates(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	certs := cert.NewMemoryStore()
	require.NoError(t, certs.Save(context.Background(), &cert.Certificate{
		ID:              "cert-web",
		Domain:          "app.example.com",
		CertificatePath: "/certs/cert-web/fullchain.pem",
		PrivateKeyPath:  "/certs/cert-web/privkey.pem",
	}))
	a, cfg := newTestApplier(t, runner, certs)

	r := enabledRule("web", "app.example.com")
	r.SSLEnabled = true
	r.CertificateID = "cert-web"
	require.NoError(t, a.Apply(context.Background(), []rule.Rule{r}))

	text, err := os.ReadFile(filepath.Join(cfg.ConfDir, "web_app.example.com.conf"))
	require.NoError(t, err)
	assert.Contains(t, string(text), "ssl_certificate /certs/cert-web/fullchain.pem;")
}

func TestApplyMissingCertificateRendersHTTPOnly(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	a, cfg := newTestApplier(t, runner, cert.NewMemoryStore())

	r := enabledRule("web", "app.example.com")
	r.SSLEnabled = true
	r.CertificateID = "cert-missing"
	require.NoError(t, a.Apply(context.Background(), []rule.Rule{r}))

	text, err := os.ReadFile(filepath.Join(cfg.ConfDir, "web_app.example.com.conf"))
	require.NoError(t, err)
	assert.NotContains(t, string(text), "listen 443")
	assert.Contains(t, string(text), nginx.ChallengeLocation)
}

func TestTryApplyWhileBusy(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	runner := &fakeRunner{onTest: func() {
		close(started)
		<-release
	}}
	a, _ := newTestApplier(t, runner, nil)

	done := make(chan error, 1)
	go func() {
		done <- a.Apply(context.Background(), []rule.Rule{enabledRule("web", "app.example.com")})
	}()

	<-started
	err := a.TryApply(context.Background(), []rule.Rule{enabledRule("web", "app.example.com")})
	assert.ErrorIs(t, err, proxy.ErrApplyInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestStagingHarnessNotIncluded(t *testing.T) {
	t.Parallel()

	var harnessSeen string
	runner := &fakeRunner{}
	a, cfg := newTestApplier(t, runner, nil)
	runner.onTest = func() {
		entries, err := os.ReadDir(cfg.StagingDir)
		require.NoError(t, err)
		for _, e := range entries {
			if !strings.HasSuffix(e.Name(), ".conf") {
				harnessSeen = e.Name()
			}
		}
	}

	require.NoError(t, a.Apply(context.Background(), []rule.Rule{enabledRule("web", "app.example.com")}))

	// The wrapper the syntax test runs against must not match the *.conf
	// include glob, or it would recurse into itself.
	assert.Equal(t, "test-harness.nginx", harnessSeen)
	require.GreaterOrEqual(t, len(runner.calls), 1)
	assert.Equal(t, "-c", runner.calls[0].args[1])
	assert.Equal(t, filepath.Join(cfg.StagingDir, "test-harness.nginx"), runner.calls[0].args[2])
}

func TestStateString(t *testing.T) {
	t.Parallel()

	for state, want := range map[proxy.State]string{
		proxy.StateIdle:      "idle",
		proxy.StateWriting:   "writing",
		proxy.StateTesting:   "testing",
		proxy.StateReloading: "reloading",
		proxy.StateFailed:    "failed",
		proxy.State(99):      "unknown",
	} {
		assert.Equal(t, want, state.String())
	}
}

func TestConfigurationErrorFormat(t *testing.T) {
	t.Parallel()

	err := &proxy.ConfigurationError{Output: "nginx: [emerg] boom", Err: fmt.Errorf("exit status 1")}
	assert.Contains(t, err.Error(), "configuration rejected")
	assert.Contains(t, err.Error(), "boom")
	assert.EqualError(t, errors.Unwrap(err), "exit status 1")

	rerr := &proxy.ReloadError{Err: fmt.Errorf("exit status 1")}
	assert.Contains(t, rerr.Error(), "proxy reload failed")
}
