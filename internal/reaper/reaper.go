package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shinji-kodama/webdeploy/internal/model"
)

const (
	// DefaultSettle is the pause between killing and re-reading the socket
	// table. The kernel releases a socket asynchronously after SIGKILL.
	DefaultSettle = 200 * time.Millisecond

	// DefaultRechecks is how many times the table is re-read before the
	// remaining PIDs are reported as survivors.
	DefaultRechecks = 5
)

// Reaper frees managed ports before launch.
type Reaper struct {
	table    ProcessTable
	logger   *slog.Logger
	settle   time.Duration
	rechecks int

	// self is never killed, even if the orchestrator somehow holds a
	// managed port.
	self int32
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Reaper) { r.logger = l } }

// WithSettle sets the delay before each re-check.
func WithSettle(d time.Duration) Option { return func(r *Reaper) { r.settle = d } }

// WithRechecks sets the number of re-checks after killing.
func WithRechecks(n int) Option { return func(r *Reaper) { r.rechecks = n } }

// New creates a Reaper backed by table.
func New(table ProcessTable, opts ...Option) *Reaper {
	r := &Reaper{
		table:    table,
		settle:   DefaultSettle,
		rechecks: DefaultRechecks,
		self:     int32(os.Getpid()),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.rechecks < 1 {
		r.rechecks = 1
	}
	return r
}

// Reap frees every port in order and returns one result per port.
// Failures are recorded in the results, never returned: a port that could
// not be freed will show up again as a readiness timeout, which is where
// the run reports it.
func (r *Reaper) Reap(ctx context.Context, ports []int) []model.ReapResult {
	results := make([]model.ReapResult, 0, len(ports))
	for _, p := range ports {
		results = append(results, r.ReapPort(ctx, p))
	}
	return results
}

// ReapPort kills every process bound to port and verifies the port is free.
func (r *Reaper) ReapPort(ctx context.Context, port int) model.ReapResult {
	result := model.ReapResult{Port: port}

	pids, err := r.owners(ctx, port)
	if err != nil {
		result.Err = err
		result.Error = err.Error()
		r.logger.Warn("⚠️ could not inspect port", "port", port, "error", err)
		return result
	}
	if len(pids) == 0 {
		r.logger.Info("ℹ️ no process on port", "port", port)
		return result
	}

	var killErrs []error
	for _, pid := range pids {
		r.logger.Info("🔪 killing process on port", "port", port, "pid", pid, "name", ProcessName(ctx, pid))
		if err := r.table.Kill(ctx, pid); err != nil {
			// The process may have exited on its own in the meantime; the
			// re-check below decides whether this matters.
			killErrs = append(killErrs, err)
			r.logger.Debug("kill failed", "port", port, "pid", pid, "error", err)
			continue
		}
		result.Killed = append(result.Killed, pid)
	}

	survivors, err := r.recheck(ctx, port)
	if err != nil {
		result.Err = err
		result.Error = err.Error()
		return result
	}
	if len(survivors) > 0 {
		result.Survivors = survivors
		result.Err = fmt.Errorf("port %d still bound by pid(s) %v after kill", port, survivors)
		if len(killErrs) > 0 {
			result.Err = fmt.Errorf("%w: %w", result.Err, errors.Join(killErrs...))
		}
		result.Error = result.Err.Error()
		r.logger.Error("❌ port is still in use after reaping", "port", port, "pids", survivors)
		return result
	}

	r.logger.Info("✅ port freed", "port", port, "killed", result.Killed)
	return result
}

// recheck re-reads the table until the port is free or the re-check budget
// runs out, and returns whatever is still bound.
func (r *Reaper) recheck(ctx context.Context, port int) ([]int32, error) {
	var remaining []int32
	for i := 0; i < r.rechecks; i++ {
		if r.settle > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.settle):
			}
		}

		pids, err := r.owners(ctx, port)
		if err != nil {
			return nil, err
		}
		remaining = pids
		if len(remaining) == 0 {
			return nil, nil
		}
	}
	return remaining, nil
}

// owners returns the PIDs on port, minus the orchestrator itself.
func (r *Reaper) owners(ctx context.Context, port int) ([]int32, error) {
	pids, err := r.table.PIDsOnPort(ctx, port)
	if err != nil {
		return nil, err
	}
	out := pids[:0:0]
	for _, pid := range pids {
		if pid != r.self {
			out = append(out, pid)
		}
	}
	return out, nil
}

// Bindings reports the current owners of each port without killing anything.
func (r *Reaper) Bindings(ctx context.Context, ports []int) ([]model.PortBinding, error) {
	bindings := make([]model.PortBinding, 0, len(ports))
	for _, p := range ports {
		pids, err := r.table.PIDsOnPort(ctx, p)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, model.PortBinding{Port: p, PIDs: pids})
	}
	return bindings, nil
}
