// Package deploy sequences the seven deployment stages into one run.
//
// The stages execute strictly in order: Source Sync, Config Installer,
// Asset Sync, Port Reaper, Service Launcher, Readiness Poller, and Proxy
// Reloader. Launched services run concurrently with each other and with the
// poller; the poller is the only point where the run waits for them.
//
// Failures are classified rather than uniformly fatal:
//
//   - A missing or unusable repository aborts the run immediately.
//   - A port with nothing bound to it is informational.
//   - Install, asset, reap, and launch problems are logged and the run
//     continues; they are visible in the report as failed or warning stages.
//   - A readiness timeout is logged as an error and the run still reloads
//     the proxy, unless BlockReloadOnTimeout is set.
//   - A proxy validation failure prevents the reload and fails the run.
package deploy
