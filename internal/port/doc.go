// Package port implements the two host-level port checks webdeploy needs:
//
//   - Probe dials host:port to see whether something is listening. This is
//     the readiness probe: it only detects "accepts a connection" and never
//     speaks an application protocol.
//   - IsPortAvailable binds the port to see whether it is free. The status
//     command uses it as a second opinion next to the socket table, which
//     hides the owners of other users' sockets from unprivileged callers.
package port
