// Package model defines the domain types for the webdeploy CLI.
//
// All entities in this package are transient runtime representations of a
// single deployment run. Nothing here is written to disk by the orchestrator
// itself; OS-level files (proxy config, web root, service logs) are the only
// state that survives a run.
package model

import (
	"fmt"
	"strings"
	"time"
)

// ServiceDef describes one backend service the orchestrator launches.
//
// Service definitions are enumerated at startup from configuration rather
// than hard-coded, which lets tests inject mock definitions pointing at
// throwaway ports and commands.
type ServiceDef struct {
	// Name is the short identifier used in logs and reports (e.g., "primary").
	Name string `json:"name" yaml:"name" mapstructure:"name"`

	// Command is the argv to execute. Command[0] is resolved via PATH
	// relative to Dir when it is not absolute.
	Command []string `json:"command" yaml:"command" mapstructure:"command"`

	// Dir is the working directory the command is started in.
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`

	// Port is the TCP port the service is expected to listen on.
	Port int `json:"port" yaml:"port" mapstructure:"port"`

	// Timeout bounds how long the readiness poller waits for Port to open.
	// Zero means "use the global readiness timeout".
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// LogFile, when set, receives the service's stdout and stderr (append mode).
	// When empty, output is discarded.
	LogFile string `json:"logFile,omitempty" yaml:"log_file,omitempty" mapstructure:"log_file"`

	// Env holds extra environment variables added to the inherited environment.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty" mapstructure:"env"`
}

// Validate checks that a service definition can actually be launched and polled.
func (s *ServiceDef) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("service: name must not be empty")
	}
	if len(s.Command) == 0 || s.Command[0] == "" {
		return fmt.Errorf("service %q: command must not be empty", s.Name)
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("service %q: port %d out of range (1-65535)", s.Name, s.Port)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("service %q: timeout must not be negative", s.Name)
	}
	return nil
}

// ValidateServices checks every definition and rejects two services that
// claim the same port, since only one of them could ever pass readiness.
func ValidateServices(services []ServiceDef) error {
	seen := make(map[int]string)
	for i := range services {
		if err := services[i].Validate(); err != nil {
			return err
		}
		if other, exists := seen[services[i].Port]; exists {
			return fmt.Errorf("service %q: port %d is already used by %q",
				services[i].Name, services[i].Port, other)
		}
		seen[services[i].Port] = services[i].Name
	}
	return nil
}

// Ports returns the port of every service, in definition order.
func Ports(services []ServiceDef) []int {
	ports := make([]int, 0, len(services))
	for _, s := range services {
		ports = append(ports, s.Port)
	}
	return ports
}

// PortBinding is a (port, owning processes) pair discovered from the OS
// socket table. An empty PIDs slice means nothing is bound to the port.
type PortBinding struct {
	Port int     `json:"port"`
	PIDs []int32 `json:"pids"`
}

// Bound reports whether at least one process holds the port.
func (b PortBinding) Bound() bool {
	return len(b.PIDs) > 0
}

// ManagedProcess is the handle for a launched backend service.
//
// The orchestrator deliberately does not own the lifetime of these processes:
// they are started in their own session and released immediately, so they
// keep running after webdeploy exits. A later run reclaims their ports
// through the Port Reaper.
type ManagedProcess struct {
	Service    string    `json:"service"`
	Command    []string  `json:"command"`
	Dir        string    `json:"dir"`
	PID        int       `json:"pid"`
	LaunchedAt time.Time `json:"launchedAt"`
}

// ProbeState is the state of the readiness polling state machine.
//
//	WAITING(elapsed) ── probe ok ──────────▶ OPEN      (terminal)
//	WAITING(elapsed) ── elapsed ≥ timeout ─▶ TIMED_OUT (terminal)
type ProbeState string

const (
	// StateWaiting means the port has not opened yet and time remains.
	StateWaiting ProbeState = "waiting"

	// StateOpen means a connection probe succeeded.
	StateOpen ProbeState = "open"

	// StateTimedOut means the timeout elapsed without a successful probe.
	StateTimedOut ProbeState = "timed-out"
)

// String returns the string representation of ProbeState.
func (s ProbeState) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are possible.
func (s ProbeState) IsTerminal() bool {
	return s == StateOpen || s == StateTimedOut
}

// ReadinessResult is the outcome of polling one port.
type ReadinessResult struct {
	Service string        `json:"service"`
	Port    int           `json:"port"`
	Open    bool          `json:"open"`
	State   ProbeState    `json:"state"`
	Elapsed time.Duration `json:"elapsed"`
}

// ReapResult records what the Port Reaper did for one port.
type ReapResult struct {
	Port int `json:"port"`

	// Killed lists the PIDs a kill signal was sent to.
	Killed []int32 `json:"killed,omitempty"`

	// Survivors lists PIDs still bound after the kill and re-check.
	Survivors []int32 `json:"survivors,omitempty"`

	// Err holds a lookup or kill failure. It is not serialized directly;
	// Error carries its text.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// Freed reports whether the port ended up with no bound process.
func (r ReapResult) Freed() bool {
	return r.Err == nil && len(r.Survivors) == 0
}

// Stage identifies one of the seven deployment stages.
type Stage string

const (
	StageSource    Stage = "source"
	StageConfig    Stage = "config"
	StageAssets    Stage = "assets"
	StageReap      Stage = "reap"
	StageLaunch    Stage = "launch"
	StageReadiness Stage = "readiness"
	StageProxy     Stage = "proxy"
)

// AllStages lists the stages in execution order.
var AllStages = []Stage{
	StageSource, StageConfig, StageAssets, StageReap, StageLaunch, StageReadiness, StageProxy,
}

// ParseStage converts a string to a Stage.
func ParseStage(s string) (Stage, error) {
	stage := Stage(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllStages {
		if stage == known {
			return stage, nil
		}
	}
	return "", fmt.Errorf("invalid stage: %q (valid: source, config, assets, reap, launch, readiness, proxy)", s)
}

// StageStatus is the outcome of a single stage.
type StageStatus string

const (
	StatusOK      StageStatus = "ok"
	StatusSkipped StageStatus = "skipped"
	StatusWarning StageStatus = "warning"
	StatusFailed  StageStatus = "failed"
)

// StageResult records the outcome of one stage for the run report.
type StageResult struct {
	Stage    Stage         `json:"stage"`
	Status   StageStatus   `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report summarizes a whole deployment run.
type Report struct {
	RunID         string            `json:"runId"`
	StartedAt     time.Time         `json:"startedAt"`
	FinishedAt    time.Time         `json:"finishedAt"`
	Stages        []StageResult     `json:"stages"`
	Reaped        []ReapResult      `json:"reaped,omitempty"`
	Launched      []ManagedProcess  `json:"launched,omitempty"`
	Readiness     []ReadinessResult `json:"readiness,omitempty"`
	ProxyReloaded bool              `json:"proxyReloaded"`
}

// Stage returns the result recorded for the given stage, if any.
func (r *Report) Stage(stage Stage) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == stage {
			return s, true
		}
	}
	return StageResult{}, false
}

// TimedOut returns the readiness results that did not reach OPEN.
func (r *Report) TimedOut() []ReadinessResult {
	var out []ReadinessResult
	for _, res := range r.Readiness {
		if !res.Open {
			out = append(out, res)
		}
	}
	return out
}

// ExitCode defines the process exit codes of webdeploy. Scripts and CI
// systems use them to tell which stage stopped the run.
type ExitCode int

const (
	// ExitSuccess indicates the run completed (readiness timeouts included,
	// unless blocking on them was requested).
	ExitSuccess ExitCode = 0

	// ExitGeneralError covers fatal setup failures such as a missing
	// repository or service directory and invalid configuration.
	ExitGeneralError ExitCode = 1

	// ExitProxyValidation indicates the proxy rejected its configuration;
	// the reload was not attempted.
	ExitProxyValidation ExitCode = 2

	// ExitProxyReload indicates validation passed but the reload command failed.
	ExitProxyReload ExitCode = 3

	// ExitReadinessTimeout is used only when reload blocking on readiness is
	// enabled and at least one port never opened.
	ExitReadinessTimeout ExitCode = 4

	// ExitGitError indicates the source sync failed inside git.
	ExitGitError ExitCode = 5

	// ExitInterrupted indicates the run was stopped by SIGINT or SIGTERM
	// before the proxy stage. The proxy is left untouched.
	ExitInterrupted ExitCode = 130
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
