// Package runner executes external commands (git, nginx, systemctl) for the
// deployment stages that delegate to OS tools.
//
// It generalizes the git and docker-compose helpers into one seam so that
// the source syncer and the proxy controller can be tested with a fake that
// records invocations instead of touching the host.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Runner runs a command to completion and returns its stdout.
//
// On a non-zero exit the returned error is an *ExitError carrying the
// trimmed stderr, so callers can include the tool's own diagnostics in
// their messages.
type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (string, error)
}

// ExitError describes a command that ran but failed.
type ExitError struct {
	Command string
	Stderr  string
	Err     error
}

// Error formats the failure as "<command> failed: <stderr>" when stderr is
// present, otherwise with the underlying error.
func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed: %s", e.Command, e.Stderr)
	}
	return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
}

// Unwrap exposes the *exec.ExitError (or start error) underneath.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExecRunner is the production Runner backed by os/exec.
type ExecRunner struct {
	// Env is appended to the inherited environment of every command.
	Env map[string]string
}

// NewExecRunner creates an ExecRunner with no extra environment.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes name with args in dir. An empty dir means the current
// working directory.
func (r *ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	// #nosec G204 -- argv comes from the deployment config, not from network input
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	if len(r.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range r.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), &ExitError{
			Command: strings.TrimSpace(name + " " + strings.Join(args, " ")),
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}
	return stdout.String(), nil
}
