// Package config loads environment-based configuration into the per-package
// Config structs (nginx.Config, proxy.Config, acme.Config, renewal.Config)
// via caarlos0/env struct tags. A .env file is picked up automatically on
// first use.
//
//	var cfg acme.Config
//	config.MustLoad(&cfg)
//
// Every tunable the engine exposes - renewal interval, expiry threshold,
// command timeouts, ACME directory - goes through these structs rather than
// package-level constants.
package config
