// Package proxy applies rendered configuration to the running nginx process
// without ever leaving a half-applied state active.
//
// The apply pipeline is a small state machine:
//
//	IDLE -> WRITING -> TESTING -> (RELOADING | FAILED)
//
// Enabled rules are rendered and validated entirely in memory first, staged
// into a scratch directory, syntax-tested with the proxy binary's own -t
// check, and only then renamed into the active include directory. A failed
// test aborts with ConfigurationError carrying the raw nginx diagnostic and
// leaves the previously active configuration untouched. A failed reload
// signal after a successful swap yields ReloadError: the running process
// keeps serving with its prior in-memory configuration, which is degraded
// but safe.
//
// Apply calls serialize on a single lock. Rendering is pure and could run in
// parallel, but the side effect - reloading one shared proxy process - cannot.
package proxy
