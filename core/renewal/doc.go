// Package renewal runs the periodic certificate renewal task: scan the
// certificate store, renew everything whose remaining lifetime is at or
// under the configured threshold, then trigger a configuration apply so the
// renewed material starts serving without manual action.
//
// Per-domain failures are isolated: a failing renewal is logged and counted,
// and the scan continues with the next certificate; the failed domain is
// picked up again on the next tick. Externally supplied (unmanaged)
// certificates are never touched.
package renewal
