// Package logger provides slog attribute helpers shared by the engine
// components. Helpers return an empty Attr for zero values, which slog
// drops, so call sites never need nil or empty checks.
package logger
