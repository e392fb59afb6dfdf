// Package launcher implements the Service Launcher: it starts each backend
// as an independent background process and immediately lets go of it.
//
// Launched processes are put in their own session (a new process group on
// Windows) with stdin on the null device, so neither the orchestrator's
// exit nor a hangup on its terminal reaches them. Their lifetime is not
// owned by webdeploy: nothing waits on them and nothing kills them, except
// the Port Reaper of a later run.
package launcher
