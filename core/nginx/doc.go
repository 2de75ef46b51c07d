// Package nginx renders declarative routing rules into nginx server
// configuration text.
//
// Rendering is a pure function: Render(rule, certificate) depends only on
// its inputs and the renderer's Config, and identical inputs are guaranteed
// to produce byte-identical output. That property is what makes the
// writer/reloader idempotent and the renderer trivially testable.
//
// # Server block layout
//
// Every rendered rule gets an HTTP server block that serves the ACME HTTP-01
// challenge path (ChallengeLocation) unconditionally, so certificate
// issuance for the rule's domain works before the first certificate exists.
// Once a certificate is resolved and the rule enables SSL, an HTTPS block is
// appended and the HTTP block degrades to challenge-plus-redirect when the
// rule forces SSL.
//
// # Decoration ordering
//
// Optional decorations are emitted in a fixed order: security headers, WAF,
// IP access control, rate limiting, URL rewrites, raw custom fragment. Later
// nginx directives can override earlier ones, so this order is part of the
// renderer's contract, not a cosmetic choice.
//
// Upstream groups keep the input target order; the renderer never re-sorts
// weighted target sets.
package nginx
