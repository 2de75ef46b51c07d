package nginx

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dmitrymomot/proxykit/core/rule"
)

// writeDecorations emits the optional per-rule sections in a fixed order:
// security headers, WAF, IP access control, rate limiting, URL rewrites,
// then the raw custom fragment. The order is a correctness contract: nginx
// directive precedence lets later directives override earlier ones, so the
// custom fragment must always land last.
func (rr *Renderer) writeDecorations(b *strings.Builder, r rule.Rule) {
	rr.writeHeaders(b, r)
	rr.writeWAF(b, r)
	rr.writeIPAccess(b, r)
	rr.writeRateLimit(b, r)
	rr.writeRewrites(b, r)
	rr.writeCustom(b, r)
}

func (rr *Renderer) writeHeaders(b *strings.Builder, r rule.Rule) {
	if len(r.Headers) == 0 {
		return
	}

	// Map iteration order is random; sort names so output stays byte-identical.
	names := make([]string, 0, len(r.Headers))
	for name := range r.Headers {
		names = append(names, name)
	}
	sort.Strings(names)

	b.WriteByte('\n')
	for _, name := range names {
		fmt.Fprintf(b, "    add_header %s %q always;\n", name, r.Headers[name])
	}
}

func (rr *Renderer) writeWAF(b *strings.Builder, r rule.Rule) {
	if r.WAF == nil || r.WAF.Mode == rule.WAFModeDisabled || r.WAF.Mode == "" {
		return
	}

	b.WriteByte('\n')
	b.WriteString("    modsecurity on;\n")
	if r.WAF.Mode == rule.WAFModeMonitor {
		b.WriteString("    modsecurity_rules 'SecRuleEngine DetectionOnly';\n")
	}
	for _, ruleset := range r.WAF.Rulesets {
		fmt.Fprintf(b, "    modsecurity_rules_file /etc/nginx/modsec/%s.conf;\n", safeSegment(ruleset))
	}
}

// writeIPAccess emits allow/deny entries in declaration order followed by a
// closing default: deny all when any allow entry exists, allow all otherwise.
func (rr *Renderer) writeIPAccess(b *strings.Builder, r rule.Rule) {
	if len(r.IPAccess) == 0 {
		return
	}

	b.WriteByte('\n')
	hasAllow := false
	for _, entry := range r.IPAccess {
		if entry.Allow {
			hasAllow = true
			fmt.Fprintf(b, "    allow %s;\n", entry.CIDR)
		} else {
			fmt.Fprintf(b, "    deny %s;\n", entry.CIDR)
		}
	}
	if hasAllow {
		b.WriteString("    deny all;\n")
	} else {
		b.WriteString("    allow all;\n")
	}
}

func (rr *Renderer) writeRateLimit(b *strings.Builder, r rule.Rule) {
	if r.RateLimit == nil {
		return
	}

	b.WriteByte('\n')
	fmt.Fprintf(b, "    limit_req zone=%s burst=%d nodelay;\n", rateZoneName(r), r.RateLimit.Burst)
	if r.RateLimit.ResponseCode > 0 {
		fmt.Fprintf(b, "    limit_req_status %d;\n", r.RateLimit.ResponseCode)
	}
}

func (rr *Renderer) writeRewrites(b *strings.Builder, r rule.Rule) {
	if len(r.Rewrites) == 0 {
		return
	}

	b.WriteByte('\n')
	for _, rw := range r.Rewrites {
		if rw.Flag != "" {
			fmt.Fprintf(b, "    rewrite %s %s %s;\n", rw.Pattern, rw.Replacement, rw.Flag)
		} else {
			fmt.Fprintf(b, "    rewrite %s %s;\n", rw.Pattern, rw.Replacement)
		}
	}
}

func (rr *Renderer) writeCustom(b *strings.Builder, r rule.Rule) {
	custom := strings.TrimSpace(r.CustomConfig)
	if custom == "" {
		return
	}

	b.WriteByte('\n')
	for _, line := range strings.Split(custom, "\n") {
		b.WriteString("    ")
		b.WriteString(strings.TrimRight(line, " \t"))
		b.WriteByte('\n')
	}
}
