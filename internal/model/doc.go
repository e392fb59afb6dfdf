// Package model defines the domain types for the webdeploy CLI.
//
// None of these types are persisted. Port bindings are discovered from the
// OS socket table, managed processes are detached handles that outlive the
// run, and readiness results exist only long enough to be logged, exported
// and turned into an exit status.
//
// The package also defines ExitCode and CLIError, which every other package
// uses to tell the CLI layer which process exit status a failure maps to.
package model
