// Package readiness implements the Readiness Poller: it watches the fixed
// backend ports after launch and reports, per port, whether a listener
// appeared before the timeout.
//
// Each wait is a small state machine:
//
//	WAITING(elapsed) ── probe succeeds ─────▶ OPEN
//	WAITING(elapsed) ── elapsed ≥ timeout ──▶ TIMED_OUT
//
// Probes are one fixed interval apart (one second by default) with no
// backoff. The poller only observes; it never restarts a service.
//
// WaitAll polls every port concurrently and joins the results, so a slow
// service never delays noticing that another one failed.
package readiness
