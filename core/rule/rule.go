package rule

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// CertStatus is the last known state of the certificate backing a rule.
type CertStatus string

const (
	CertStatusPending CertStatus = "pending"
	CertStatusValid   CertStatus = "valid"
	CertStatusExpired CertStatus = "expired"
	CertStatusError   CertStatus = "error"
)

// Protocol is the scheme used to reach the rule's upstream target.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// WAFMode controls how the web application firewall treats matched requests.
type WAFMode string

const (
	WAFModeDisabled WAFMode = "disabled"
	WAFModeMonitor  WAFMode = "monitor"
	WAFModeBlock    WAFMode = "block"
)

// Rule is a declarative reverse-proxy routing rule. It is owned by an
// external rule-management API; this engine only reads it and renders
// proxy configuration from it.
type Rule struct {
	ID      string `yaml:"id" json:"id"`
	Enabled bool   `yaml:"enabled" json:"enabled"`

	// Domain is the public hostname the rule serves. Optional: rules
	// without a domain are host/path matches on the default server.
	Domain     string `yaml:"domain,omitempty" json:"domain,omitempty"`
	SourceHost string `yaml:"source_host,omitempty" json:"source_host,omitempty"`
	SourcePath string `yaml:"source_path,omitempty" json:"source_path,omitempty"`

	// Target is an opaque host:port supplied by the container resolver.
	Target   string   `yaml:"target" json:"target"`
	Protocol Protocol `yaml:"protocol,omitempty" json:"protocol,omitempty"`

	SSLEnabled       bool `yaml:"ssl_enabled" json:"ssl_enabled"`
	ForceSSL         bool `yaml:"force_ssl" json:"force_ssl"`
	HTTP2            bool `yaml:"http2" json:"http2"`
	WebsocketUpgrade bool `yaml:"websocket_upgrade" json:"websocket_upgrade"`

	// Certificate reference: either a store-managed certificate by ID or
	// explicit on-disk paths for externally supplied material. At most one
	// of the two forms should be set.
	CertificateID      string `yaml:"certificate_id,omitempty" json:"certificate_id,omitempty"`
	CertificatePath    string `yaml:"certificate_path,omitempty" json:"certificate_path,omitempty"`
	CertificateKeyPath string `yaml:"certificate_key_path,omitempty" json:"certificate_key_path,omitempty"`

	ACMEEnabled bool       `yaml:"acme_enabled" json:"acme_enabled"`
	ACMEEmail   string     `yaml:"acme_email,omitempty" json:"acme_email,omitempty"`
	CertStatus  CertStatus `yaml:"cert_status,omitempty" json:"cert_status,omitempty"`

	// Optional decorations. Rendering order across decorations is fixed by
	// the renderer, not by the order of these fields.
	HealthCheck *HealthCheck      `yaml:"health_check,omitempty" json:"health_check,omitempty"`
	Upstreams   []UpstreamTarget  `yaml:"upstreams,omitempty" json:"upstreams,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	RateLimit   *RateLimit        `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	WAF         *WAF              `yaml:"waf,omitempty" json:"waf,omitempty"`
	IPAccess    []IPAccessRule    `yaml:"ip_access,omitempty" json:"ip_access,omitempty"`
	Rewrites    []Rewrite         `yaml:"rewrites,omitempty" json:"rewrites,omitempty"`

	// CustomConfig is a raw nginx fragment appended verbatim after all
	// generated directives.
	CustomConfig string `yaml:"custom_config,omitempty" json:"custom_config,omitempty"`
}

// HealthCheck configures upstream health probing.
type HealthCheck struct {
	Path           string `yaml:"path" json:"path"`
	IntervalSec    int    `yaml:"interval_sec" json:"interval_sec"`
	TimeoutSec     int    `yaml:"timeout_sec" json:"timeout_sec"`
	MaxFails       int    `yaml:"max_fails" json:"max_fails"`
	FailTimeoutSec int    `yaml:"fail_timeout_sec" json:"fail_timeout_sec"`
	ExpectedStatus int    `yaml:"expected_status" json:"expected_status"`
}

// UpstreamTarget is one weighted backend in a load-balanced target set.
type UpstreamTarget struct {
	Address string `yaml:"address" json:"address"`
	Weight  int    `yaml:"weight,omitempty" json:"weight,omitempty"`
	Backup  bool   `yaml:"backup,omitempty" json:"backup,omitempty"`
}

// RateLimit maps to nginx limit_req configuration.
type RateLimit struct {
	RequestsPerSecond int    `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int    `yaml:"burst" json:"burst"`
	ZoneSize          string `yaml:"zone_size,omitempty" json:"zone_size,omitempty"`
	ResponseCode      int    `yaml:"response_code,omitempty" json:"response_code,omitempty"`
}

// WAF configures the web application firewall for a rule.
type WAF struct {
	Mode     WAFMode  `yaml:"mode" json:"mode"`
	Rulesets []string `yaml:"rulesets,omitempty" json:"rulesets,omitempty"`
}

// IPAccessRule is a single allow/deny entry evaluated in order.
type IPAccessRule struct {
	Allow bool   `yaml:"allow" json:"allow"`
	CIDR  string `yaml:"cidr" json:"cidr"`
}

// Rewrite is a URL rewrite directive.
type Rewrite struct {
	Pattern     string `yaml:"pattern" json:"pattern"`
	Replacement string `yaml:"replacement" json:"replacement"`
	Flag        string `yaml:"flag,omitempty" json:"flag,omitempty"`
}

// HasManagedCertificate reports whether the rule references a certificate
// held in the certificate store, as opposed to explicit file paths.
func (r *Rule) HasManagedCertificate() bool {
	return r.CertificateID != ""
}

// Validate checks the rule for structural problems that must be rejected
// before any rendering or filesystem side effect takes place.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: rule id is empty", ErrInvalidRule)
	}
	if r.Domain != "" {
		if err := ValidateDomain(r.Domain); err != nil {
			return err
		}
	}
	if r.Target == "" && len(r.Upstreams) == 0 {
		return fmt.Errorf("%w: rule %s has no target", ErrInvalidTarget, r.ID)
	}
	if r.Target != "" {
		if err := validateTarget(r.Target); err != nil {
			return err
		}
	}
	for _, u := range r.Upstreams {
		if err := validateTarget(u.Address); err != nil {
			return err
		}
		if u.Weight < 0 {
			return fmt.Errorf("%w: negative upstream weight for %s", ErrInvalidTarget, u.Address)
		}
	}
	if r.SSLEnabled && r.Domain == "" {
		return fmt.Errorf("%w: rule %s enables ssl without a domain", ErrInvalidRule, r.ID)
	}
	if r.ACMEEnabled && r.ACMEEmail == "" {
		return fmt.Errorf("%w: rule %s enables acme without a contact email", ErrInvalidRule, r.ID)
	}
	return nil
}

const maxDomainLength = 253

// ValidateDomain performs a DNS-label syntax check: labels of 1-63
// characters, alphanumerics and hyphens only, no leading or trailing hyphen,
// 253 characters total.
func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > maxDomainLength {
		return fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	for _, label := range strings.Split(domain, ".") {
		if len(label) == 0 || len(label) > 63 {
			return fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			isAlnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
			if !isAlnum && c != '-' {
				return fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
			}
		}
	}
	return nil
}

func validateTarget(target string) error {
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	if host == "" {
		return fmt.Errorf("%w: %q has empty host", ErrInvalidTarget, target)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("%w: port %q out of range 1-65535", ErrInvalidPort, port)
	}
	return nil
}
