package nginx

import (
	"fmt"
	"strings"

	"github.com/dmitrymomot/proxykit/core/cert"
	"github.com/dmitrymomot/proxykit/core/rule"
)

// ChallengeLocation is the well-known path ACME HTTP-01 validation requests
// arrive on. Every rendered HTTP server block serves it, so a certificate
// can always be issued for a domain the proxy already routes.
const ChallengeLocation = "/.well-known/acme-challenge/"

// Config holds renderer settings. TLS policy defaults follow current
// Mozilla intermediate guidance.
type Config struct {
	// ChallengeRoot is the webroot directory the ACME workflow publishes
	// HTTP-01 key authorizations into.
	ChallengeRoot string `env:"NGINX_CHALLENGE_ROOT" envDefault:"/var/www/acme"`

	SSLProtocols      string `env:"NGINX_SSL_PROTOCOLS" envDefault:"TLSv1.2 TLSv1.3"`
	SSLSessionCache   string `env:"NGINX_SSL_SESSION_CACHE" envDefault:"shared:SSL:10m"`
	SSLSessionTimeout string `env:"NGINX_SSL_SESSION_TIMEOUT" envDefault:"1d"`

	ProxyConnectTimeout int `env:"NGINX_PROXY_CONNECT_TIMEOUT" envDefault:"30"`
	ProxyReadTimeout    int `env:"NGINX_PROXY_READ_TIMEOUT" envDefault:"60"`
	ProxySendTimeout    int `env:"NGINX_PROXY_SEND_TIMEOUT" envDefault:"60"`
}

// Renderer maps a routing rule plus an optionally resolved certificate to
// nginx server configuration text. Rendering is pure and deterministic:
// identical inputs always produce byte-identical output.
type Renderer struct {
	cfg Config
}

// NewRenderer creates a renderer with the given configuration.
func NewRenderer(cfg Config) *Renderer {
	if cfg.ChallengeRoot == "" {
		cfg.ChallengeRoot = "/var/www/acme"
	}
	if cfg.SSLProtocols == "" {
		cfg.SSLProtocols = "TLSv1.2 TLSv1.3"
	}
	if cfg.ProxyConnectTimeout <= 0 {
		cfg.ProxyConnectTimeout = 30
	}
	if cfg.ProxyReadTimeout <= 0 {
		cfg.ProxyReadTimeout = 60
	}
	if cfg.ProxySendTimeout <= 0 {
		cfg.ProxySendTimeout = 60
	}
	return &Renderer{cfg: cfg}
}

// FileName derives the deterministic configuration artifact name for a rule:
// "<rule id>_<domain>.conf", or "<rule id>.conf" for domainless rules.
func FileName(r rule.Rule) string {
	if r.Domain == "" {
		return safeSegment(r.ID) + ".conf"
	}
	return safeSegment(r.ID) + "_" + safeSegment(r.Domain) + ".conf"
}

// Render produces the configuration text for one rule. The certificate may
// be nil; in that case a rule with SSL enabled renders HTTP-only with the
// ACME challenge location, so issuance can proceed before the first
// certificate exists.
//
// Validation failures are reported before anything is emitted.
func (rr *Renderer) Render(r rule.Rule, c *cert.Certificate) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}

	httpsActive := false
	if r.SSLEnabled {
		switch {
		case c != nil:
			if c.Domain != "" && r.Domain != "" && c.Domain != r.Domain {
				return "", fmt.Errorf("%w: certificate %s covers %s, rule wants %s",
					ErrCertificateMismatch, c.ID, c.Domain, r.Domain)
			}
			if c.CertificatePath == "" || c.PrivateKeyPath == "" {
				return "", fmt.Errorf("%w: certificate %s", ErrCertificateIncomplete, c.ID)
			}
			httpsActive = true
		case r.CertificatePath != "" && r.CertificateKeyPath != "":
			// Externally supplied material referenced by path.
			httpsActive = true
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# rule %s", r.ID)
	if r.Domain != "" {
		fmt.Fprintf(&b, " (%s)", r.Domain)
	}
	b.WriteString(" - generated by proxykit, do not edit\n")

	if r.RateLimit != nil {
		rr.writeRateLimitZone(&b, r)
	}
	if len(r.Upstreams) > 0 {
		rr.writeUpstream(&b, r)
	}

	rr.writeHTTPServer(&b, r, httpsActive)
	if httpsActive {
		rr.writeHTTPSServer(&b, r, c)
	}

	return b.String(), nil
}

// writeHTTPServer emits the port-80 server block. It always serves the ACME
// challenge location. Remaining traffic is either proxied or, once a
// certificate is active and the rule forces SSL, redirected to HTTPS.
func (rr *Renderer) writeHTTPServer(b *strings.Builder, r rule.Rule, httpsActive bool) {
	b.WriteString("server {\n")
	b.WriteString("    listen 80;\n")
	rr.writeServerName(b, r)
	b.WriteByte('\n')

	fmt.Fprintf(b, "    location %s {\n", ChallengeLocation)
	fmt.Fprintf(b, "        root %s;\n", rr.cfg.ChallengeRoot)
	b.WriteString("        default_type \"text/plain\";\n")
	b.WriteString("        try_files $uri =404;\n")
	b.WriteString("    }\n")

	if httpsActive && r.ForceSSL {
		b.WriteByte('\n')
		b.WriteString("    location / {\n")
		b.WriteString("        return 301 https://$host$request_uri;\n")
		b.WriteString("    }\n")
	} else {
		rr.writeDecorations(b, r)
		rr.writeProxyLocation(b, r)
	}

	b.WriteString("}\n")
}

func (rr *Renderer) writeHTTPSServer(b *strings.Builder, r rule.Rule, c *cert.Certificate) {
	certPath, keyPath := r.CertificatePath, r.CertificateKeyPath
	if c != nil {
		certPath, keyPath = c.CertificatePath, c.PrivateKeyPath
	}

	b.WriteByte('\n')
	b.WriteString("server {\n")
	if r.HTTP2 {
		b.WriteString("    listen 443 ssl;\n")
		b.WriteString("    http2 on;\n")
	} else {
		b.WriteString("    listen 443 ssl;\n")
	}
	rr.writeServerName(b, r)
	b.WriteByte('\n')

	fmt.Fprintf(b, "    ssl_certificate %s;\n", certPath)
	fmt.Fprintf(b, "    ssl_certificate_key %s;\n", keyPath)
	fmt.Fprintf(b, "    ssl_protocols %s;\n", rr.cfg.SSLProtocols)
	if rr.cfg.SSLSessionCache != "" {
		fmt.Fprintf(b, "    ssl_session_cache %s;\n", rr.cfg.SSLSessionCache)
	}
	if rr.cfg.SSLSessionTimeout != "" {
		fmt.Fprintf(b, "    ssl_session_timeout %s;\n", rr.cfg.SSLSessionTimeout)
	}

	rr.writeDecorations(b, r)
	rr.writeProxyLocation(b, r)
	b.WriteString("}\n")
}

func (rr *Renderer) writeServerName(b *strings.Builder, r rule.Rule) {
	switch {
	case r.Domain != "":
		fmt.Fprintf(b, "    server_name %s;\n", r.Domain)
	case r.SourceHost != "":
		fmt.Fprintf(b, "    server_name %s;\n", r.SourceHost)
	default:
		b.WriteString("    server_name _;\n")
	}
}

// writeProxyLocation emits the routing location plus the auxiliary health
// block when health checking is configured.
func (rr *Renderer) writeProxyLocation(b *strings.Builder, r rule.Rule) {
	path := r.SourcePath
	if path == "" {
		path = "/"
	}

	target := rr.proxyTarget(r)

	b.WriteByte('\n')
	fmt.Fprintf(b, "    location %s {\n", path)
	fmt.Fprintf(b, "        proxy_pass %s;\n", target)
	b.WriteString("        proxy_set_header Host $host;\n")
	b.WriteString("        proxy_set_header X-Real-IP $remote_addr;\n")
	b.WriteString("        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;\n")
	b.WriteString("        proxy_set_header X-Forwarded-Proto $scheme;\n")
	if r.WebsocketUpgrade {
		b.WriteString("        proxy_http_version 1.1;\n")
		b.WriteString("        proxy_set_header Upgrade $http_upgrade;\n")
		b.WriteString("        proxy_set_header Connection \"upgrade\";\n")
	}
	fmt.Fprintf(b, "        proxy_connect_timeout %ds;\n", rr.cfg.ProxyConnectTimeout)
	fmt.Fprintf(b, "        proxy_read_timeout %ds;\n", rr.cfg.ProxyReadTimeout)
	fmt.Fprintf(b, "        proxy_send_timeout %ds;\n", rr.cfg.ProxySendTimeout)
	b.WriteString("    }\n")

	if r.HealthCheck != nil {
		hc := r.HealthCheck
		b.WriteByte('\n')
		fmt.Fprintf(b, "    # upstream health: GET %s expecting %d every %ds\n",
			hc.Path, hc.ExpectedStatus, hc.IntervalSec)
		fmt.Fprintf(b, "    location = %s {\n", hc.Path)
		fmt.Fprintf(b, "        proxy_pass %s;\n", target)
		b.WriteString("        access_log off;\n")
		b.WriteString("    }\n")
	}
}

func (rr *Renderer) proxyTarget(r rule.Rule) string {
	proto := r.Protocol
	if proto == "" {
		proto = rule.ProtocolHTTP
	}
	if len(r.Upstreams) > 0 {
		return fmt.Sprintf("%s://%s", proto, upstreamName(r))
	}
	return fmt.Sprintf("%s://%s", proto, r.Target)
}

// writeUpstream emits one upstream group per rule. Servers keep the input
// target order; they are never re-sorted, so weighted sets render the same
// way the operator declared them.
func (rr *Renderer) writeUpstream(b *strings.Builder, r rule.Rule) {
	fmt.Fprintf(b, "upstream %s {\n", upstreamName(r))
	for _, u := range r.Upstreams {
		fmt.Fprintf(b, "    server %s", u.Address)
		if u.Weight > 0 {
			fmt.Fprintf(b, " weight=%d", u.Weight)
		}
		if r.HealthCheck != nil {
			maxFails := r.HealthCheck.MaxFails
			if maxFails <= 0 {
				maxFails = 3
			}
			failTimeout := r.HealthCheck.FailTimeoutSec
			if failTimeout <= 0 {
				failTimeout = 10
			}
			fmt.Fprintf(b, " max_fails=%d fail_timeout=%ds", maxFails, failTimeout)
		}
		if u.Backup {
			b.WriteString(" backup")
		}
		b.WriteString(";\n")
	}
	b.WriteString("    keepalive 8;\n")
	b.WriteString("}\n\n")
}

func (rr *Renderer) writeRateLimitZone(b *strings.Builder, r rule.Rule) {
	rl := r.RateLimit
	zoneSize := rl.ZoneSize
	if zoneSize == "" {
		zoneSize = "10m"
	}
	fmt.Fprintf(b, "limit_req_zone $binary_remote_addr zone=%s:%s rate=%dr/s;\n\n",
		rateZoneName(r), zoneSize, rl.RequestsPerSecond)
}

func upstreamName(r rule.Rule) string {
	return "upstream_" + safeSegment(r.ID)
}

func rateZoneName(r rule.Rule) string {
	return "ratelimit_" + safeSegment(r.ID)
}

// safeSegment reduces an identifier to characters safe in nginx names and
// file names.
func safeSegment(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "default"
	}

	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	out := strings.Trim(b.String(), "._-")
	if out == "" {
		return "default"
	}
	return out
}
