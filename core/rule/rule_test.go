package rule_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/proxykit/core/rule"
)

func validRule() rule.Rule {
	return rule.Rule{
		ID:      "r1",
		Enabled: true,
		Domain:  "app.example.com",
		Target:  "10.0.0.5:8080",
	}
}

func TestRuleValidate(t *testing.T) {
	t.Parallel()

	t.Run("valid rule passes", func(t *testing.T) {
		t.Parallel()

		r := validRule()
		require.NoError(t, r.Validate())
	})

	t.Run("empty id rejected", func(t *testing.T) {
		t.Parallel()

		r := validRule()
		r.ID = ""
		assert.ErrorIs(t, r.Validate(), rule.ErrInvalidRule)
	})

	t.Run("missing target rejected", func(t *testing.T) {
		t.Parallel()

		r := validRule()
		r.Target = ""
		assert.ErrorIs(t, r.Validate(), rule.ErrInvalidTarget)
	})

	t.Run("upstreams substitute for target", func(t *testing.T) {
		t.Parallel()

		r := validRule()
		r.Target = ""
		r.Upstreams = []rule.UpstreamTarget{{Address: "10.0.0.6:8080"}}
		require.NoError(t, r.Validate())
	})

	t.Run("target without port rejected", func(t *testing.T) {
		t.Parallel()

		r := validRule()
		r.Target = "10.0.0.5"
		assert.ErrorIs(t, r.Validate(), rule.ErrInvalidTarget)
	})

	t.Run("port out of range rejected", func(t *testing.T) {
		t.Parallel()

		for _, target := range []string{"10.0.0.5:0", "10.0.0.5:65536", "10.0.0.5:-1", "10.0.0.5:http"} {
			r := validRule()
			r.Target = target
			assert.ErrorIs(t, r.Validate(), rule.ErrInvalidPort, "target %q", target)
		}
	})

	t.Run("negative upstream weight rejected", func(t *testing.T) {
		t.Parallel()

		r := validRule()
		r.Upstreams = []rule.UpstreamTarget{{Address: "10.0.0.6:8080", Weight: -1}}
		assert.ErrorIs(t, r.Validate(), rule.ErrInvalidTarget)
	})

	t.Run("ssl without domain rejected", func(t *testing.T) {
		t.Parallel()

		r := validRule()
		r.Domain = ""
		r.SSLEnabled = true
		assert.ErrorIs(t, r.Validate(), rule.ErrInvalidRule)
	})

	t.Run("acme without email rejected", func(t *testing.T) {
		t.Parallel()

		r := validRule()
		r.ACMEEnabled = true
		assert.ErrorIs(t, r.Validate(), rule.ErrInvalidRule)

		r.ACMEEmail = "admin@example.com"
		require.NoError(t, r.Validate())
	})
}

func TestValidateDomain(t *testing.T) {
	t.Parallel()

	valid := []string{
		"example.com",
		"app.example.com",
		"a.b.c.d.example.co.uk",
		"xn--nxasmq6b.example",
		"single",
		"123.example.com",
	}
	for _, d := range valid {
		assert.NoError(t, rule.ValidateDomain(d), "domain %q", d)
	}

	invalid := []string{
		"",
		"-example.com",
		"example-.com",
		"exa mple.com",
		"example..com",
		"exam_ple.com",
		"example.com.",
		string(make([]byte, 254)),
	}
	for _, d := range invalid {
		assert.ErrorIs(t, rule.ValidateDomain(d), rule.ErrInvalidDomain, "domain %q", d)
	}
}

func TestValidateDomainLabelLength(t *testing.T) {
	t.Parallel()

	label63 := ""
	for range 63 {
		label63 += "a"
	}
	assert.NoError(t, rule.ValidateDomain(label63+".example.com"))
	assert.ErrorIs(t, rule.ValidateDomain(label63+"a.example.com"), rule.ErrInvalidDomain)
}

func TestHasManagedCertificate(t *testing.T) {
	t.Parallel()

	r := validRule()
	assert.False(t, r.HasManagedCertificate())

	r.CertificateID = "cert-1"
	assert.True(t, r.HasManagedCertificate())

	r.CertificateID = ""
	r.CertificatePath = "/etc/ssl/app.pem"
	r.CertificateKeyPath = "/etc/ssl/app.key"
	assert.False(t, r.HasManagedCertificate())
}
