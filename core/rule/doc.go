// Package rule defines the declarative routing rule model consumed by the
// proxy configuration engine, along with structural validation and a
// read-only Store interface over rule snapshots.
//
// Rules are owned by an external rule-management API. The engine treats the
// injected Store as the single source of truth and keeps no hidden
// module-level state; MemoryStore exists as a derived cache and test double.
//
// Validation is strict and happens before any side effect: a rule whose
// domain fails the DNS-label syntax check or whose target port falls outside
// 1-65535 is rejected with a typed sentinel error.
//
//	r := rule.Rule{
//		ID:      "c1",
//		Enabled: true,
//		Domain:  "app.example.com",
//		Target:  "10.0.0.5:8080",
//	}
//	if err := r.Validate(); err != nil {
//		// errors.Is(err, rule.ErrInvalidDomain) etc.
//	}
//
// Declarative snapshots can also be loaded from YAML files via LoadFile,
// which validates every entry before returning.
package rule
