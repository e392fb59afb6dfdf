package readiness

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shinji-kodama/webdeploy/internal/model"
)

const (
	// DefaultInterval is the fixed delay between probe attempts.
	DefaultInterval = time.Second

	// DefaultTimeout is how long a port may take to open.
	DefaultTimeout = 60 * time.Second

	// DefaultHost is where the backends are probed.
	DefaultHost = "localhost"
)

// Prober performs one lightweight connection attempt.
// *port.Scanner satisfies it.
type Prober interface {
	Probe(ctx context.Context, host string, port int) error
}

// Clock abstracts time so tests can drive simulated elapsed time.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Poller waits for ports to open.
type Poller struct {
	prober   Prober
	clock    Clock
	logger   *slog.Logger
	host     string
	interval time.Duration
	timeout  time.Duration
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(p *Poller) { p.clock = c } }

// WithLogger sets the logger used for per-port status lines.
func WithLogger(l *slog.Logger) Option { return func(p *Poller) { p.logger = l } }

// WithHost changes the probed host.
func WithHost(host string) Option { return func(p *Poller) { p.host = host } }

// WithInterval changes the delay between probes.
func WithInterval(d time.Duration) Option { return func(p *Poller) { p.interval = d } }

// WithTimeout changes the default timeout used when a service has none.
func WithTimeout(d time.Duration) Option { return func(p *Poller) { p.timeout = d } }

// NewPoller creates a Poller that probes through prober.
func NewPoller(prober Prober, opts ...Option) *Poller {
	p := &Poller{
		prober:   prober,
		clock:    realClock{},
		host:     DefaultHost,
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	return p
}

// WaitForPort polls port until it opens or timeout elapses and reports
// whether it opened.
func (p *Poller) WaitForPort(ctx context.Context, port int, timeout time.Duration) bool {
	return p.Wait(ctx, "", port, timeout).Open
}

// Wait runs the polling state machine for one port.
//
// A probe is only attempted while elapsed < timeout, so a listener that
// opens at any point before the boundary is seen, and nothing after the
// boundary can flip the result to open. Context cancellation ends the wait
// as TIMED_OUT.
func (p *Poller) Wait(ctx context.Context, service string, port int, timeout time.Duration) model.ReadinessResult {
	start := p.clock.Now()
	result := model.ReadinessResult{Service: service, Port: port, State: model.StateWaiting}

	for {
		result.Elapsed = p.clock.Now().Sub(start)
		result.State = p.step(ctx, port, result.Elapsed, timeout)

		if result.State.IsTerminal() {
			result.Open = result.State == model.StateOpen
			p.report(result, timeout)
			return result
		}

		select {
		case <-ctx.Done():
			result.Elapsed = p.clock.Now().Sub(start)
			result.State = model.StateTimedOut
			p.report(result, timeout)
			return result
		case <-p.clock.After(p.interval):
		}
	}
}

// step computes the next state from WAITING(elapsed).
func (p *Poller) step(ctx context.Context, port int, elapsed, timeout time.Duration) model.ProbeState {
	if elapsed >= timeout {
		return model.StateTimedOut
	}
	if err := p.prober.Probe(ctx, p.host, port); err != nil {
		p.logger.Debug("probe failed", "port", port, "elapsed", elapsed.Round(time.Millisecond), "error", err)
		return model.StateWaiting
	}
	return model.StateOpen
}

func (p *Poller) report(r model.ReadinessResult, timeout time.Duration) {
	attrs := []any{"service", r.Service, "port", r.Port, "elapsed", r.Elapsed.Round(time.Millisecond)}
	if r.Open {
		p.logger.Info("✅ port is open", attrs...)
		return
	}
	p.logger.Error("❌ port did not open before timeout", append(attrs, "timeout", timeout)...)
}

// TimeoutFor returns the service's own timeout or the poller default.
func (p *Poller) TimeoutFor(svc model.ServiceDef) time.Duration {
	if svc.Timeout > 0 {
		return svc.Timeout
	}
	return p.timeout
}

// WaitAll polls every service's port concurrently, one goroutine per port,
// and returns the results in service order once all of them are terminal.
func (p *Poller) WaitAll(ctx context.Context, services []model.ServiceDef) []model.ReadinessResult {
	results := make([]model.ReadinessResult, len(services))

	var g errgroup.Group
	for i, svc := range services {
		g.Go(func() error {
			results[i] = p.Wait(ctx, svc.Name, svc.Port, p.TimeoutFor(svc))
			return nil
		})
	}
	_ = g.Wait()

	return results
}
