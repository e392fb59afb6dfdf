package launcher

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/shinji-kodama/webdeploy/internal/model"
)

// Starter starts a prepared command and returns its PID without waiting.
type Starter interface {
	Start(cmd *exec.Cmd) (int, error)
}

// detachedStarter starts the process and releases the handle right away,
// which is the "do not own the lifetime" contract in code form.
type detachedStarter struct{}

func (detachedStarter) Start(cmd *exec.Cmd) (int, error) {
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("release process %d: %w", pid, err)
	}
	return pid, nil
}

// Launcher starts backend services.
type Launcher struct {
	starter Starter
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithStarter replaces the process starter. Tests use it to capture the
// prepared *exec.Cmd.
func WithStarter(s Starter) Option { return func(l *Launcher) { l.starter = s } }

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option { return func(l *Launcher) { l.logger = lg } }

// New creates a Launcher that really starts processes.
func New(opts ...Option) *Launcher {
	l := &Launcher{starter: detachedStarter{}, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Launch starts svc in its working directory and returns its handle.
//
// exec.Command is used rather than CommandContext on purpose: cancelling
// the orchestrator's context must not kill the service. There is no retry
// and no exit status; a service that dies right after start surfaces as a
// readiness timeout.
func (l *Launcher) Launch(svc model.ServiceDef) (*model.ManagedProcess, error) {
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	if svc.Dir != "" {
		info, err := os.Stat(svc.Dir)
		if err != nil {
			return nil, model.WrapCLIError(model.ExitGeneralError,
				fmt.Sprintf("service %q: cannot enter working directory", svc.Name), err)
		}
		if !info.IsDir() {
			return nil, model.NewCLIError(model.ExitGeneralError,
				fmt.Sprintf("service %q: working directory %q is not a directory", svc.Name, svc.Dir))
		}
	}

	// #nosec G204 -- argv comes from the deployment config
	cmd := exec.Command(svc.Command[0], svc.Command[1:]...)
	cmd.Dir = svc.Dir
	cmd.Env = os.Environ()
	for k, v := range svc.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	detach(cmd)

	// A nil Stdout/Stderr means the null device. With a log file, the
	// child inherits its own descriptor, so ours is closed right after start.
	if svc.LogFile != "" {
		logFile, err := openLog(svc.LogFile)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", svc.Name, err)
		}
		defer func() { _ = logFile.Close() }()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	pid, err := l.starter.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("service %q: start %v: %w", svc.Name, svc.Command, err)
	}

	proc := &model.ManagedProcess{
		Service:    svc.Name,
		Command:    svc.Command,
		Dir:        svc.Dir,
		PID:        pid,
		LaunchedAt: l.now(),
	}
	l.logger.Info("🚀 service launched", "service", svc.Name, "pid", pid, "port", svc.Port, "dir", svc.Dir)
	return proc, nil
}

// LaunchAll starts every service, fire-and-forget. A failed start is logged
// and returned alongside the processes that did start, and the remaining
// services are still launched. An unusable working directory is fatal: it
// is returned as a *model.CLIError and no further service is started.
func (l *Launcher) LaunchAll(services []model.ServiceDef) ([]model.ManagedProcess, []error) {
	var (
		procs []model.ManagedProcess
		errs  []error
	)
	for _, svc := range services {
		proc, err := l.Launch(svc)
		if err != nil {
			l.logger.Error("❌ service failed to start", "service", svc.Name, "error", err)
			errs = append(errs, err)
			if IsFatal(err) {
				break
			}
			continue
		}
		procs = append(procs, *proc)
	}
	return procs, errs
}

// IsFatal reports whether err ends the deployment instead of being absorbed.
func IsFatal(err error) bool {
	var cliErr *model.CLIError
	return errors.As(err, &cliErr)
}

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
