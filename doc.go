// Package proxykit is a proxy configuration and certificate lifecycle
// engine: it renders declarative routing rules into nginx server
// configuration, applies that configuration to a running proxy process
// safely (stage, syntax test, atomic swap, reload), and manages automated
// TLS issuance and renewal over ACME HTTP-01.
//
// The Engine at the root composes the core packages:
//
//   - core/rule: routing rule model, validation, rule store interface
//   - core/cert: certificate model and stores (memory, file, Postgres)
//   - core/nginx: pure deterministic configuration renderer
//   - core/proxy: writer/reloader with test-before-activate semantics
//   - core/acme: ACME v2 issuance workflow on go-acme/lego
//   - core/renewal: periodic renewal scheduler
//   - core/event: typed lifecycle notifications
//
// Typical wiring:
//
//	certs, _ := cert.NewFileStore("/var/lib/proxykit/certs")
//	renderer := nginx.NewRenderer(nginx.Config{ChallengeRoot: "/var/www/acme"})
//	applier, _ := proxy.NewApplier(proxy.Config{ConfDir: "/etc/nginx/conf.d"}, renderer, certs)
//	issuer, _ := acme.NewService(acme.Config{ChallengeRoot: "/var/www/acme"}, certs)
//	engine, _ := proxykit.New(ruleStore, certs, renderer, applier, issuer)
//
//	sched, _ := renewal.NewScheduler(renewal.Config{}, certs, issuer,
//		renewal.WithApplier(applier, ruleStore))
//	go sched.Start(ctx)
//
// The injected rule and certificate stores are authoritative; rendered
// configuration files are derived artifacts, regenerated from the stores on
// every apply and safe to discard.
package proxykit
