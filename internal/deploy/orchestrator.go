package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shinji-kodama/webdeploy/internal/install"
	"github.com/shinji-kodama/webdeploy/internal/model"
	"github.com/shinji-kodama/webdeploy/internal/source"
)

// SourceSyncer fetches the latest repository state.
type SourceSyncer interface {
	Sync(ctx context.Context, repoDir, branch string) (*source.Result, error)
}

// SiteInstaller installs and enables the proxy site config.
type SiteInstaller interface {
	Install(site install.Site) (install.InstallResult, error)
}

// AssetSyncer mirrors built assets into the web root.
type AssetSyncer interface {
	Sync(src, dst string) (install.SyncStats, error)
}

// PortReaper frees the managed ports.
type PortReaper interface {
	Reap(ctx context.Context, ports []int) []model.ReapResult
}

// ServiceLauncher starts the services detached.
type ServiceLauncher interface {
	LaunchAll(services []model.ServiceDef) ([]model.ManagedProcess, []error)
}

// ReadinessWaiter polls every service port.
type ReadinessWaiter interface {
	WaitAll(ctx context.Context, services []model.ServiceDef) []model.ReadinessResult
}

// ProxyReloader validates and then reloads the proxy.
type ProxyReloader interface {
	Run(ctx context.Context) error
}

// Stages bundles one implementation per stage.
type Stages struct {
	Source    SourceSyncer
	Installer SiteInstaller
	Assets    AssetSyncer
	Reaper    PortReaper
	Launcher  ServiceLauncher
	Readiness ReadinessWaiter
	Proxy     ProxyReloader
}

// Plan is what a run operates on.
type Plan struct {
	RepoDir  string
	Branch   string
	Site     install.Site
	AssetSrc string
	AssetDst string
	Services []model.ServiceDef

	// BlockReloadOnTimeout aborts the run with ExitReadinessTimeout instead
	// of reloading the proxy when any service failed to open its port.
	BlockReloadOnTimeout bool

	// Skip names stages to leave out.
	Skip map[model.Stage]bool
}

// Orchestrator runs the deployment stages in order.
type Orchestrator struct {
	plan   Plan
	stages Stages
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithClock overrides the time source used for stage durations.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// New creates an Orchestrator.
func New(plan Plan, stages Stages, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		plan:   plan,
		stages: stages,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the deployment. The returned report is never nil, even when
// err is not: it describes everything that happened up to the failure.
// Errors are *model.CLIError values carrying the process exit code.
func (o *Orchestrator) Run(ctx context.Context) (report *model.Report, err error) {
	report = &model.Report{
		RunID:     uuid.NewString(),
		StartedAt: o.now(),
	}
	defer func() { report.FinishedAt = o.now() }()

	o.logger.Info("🚀 deployment started", "run", report.RunID, "services", len(o.plan.Services))

	if err := o.stage(ctx, report, model.StageSource, o.syncSource); err != nil {
		return report, err
	}

	// Failures before launch are absorbed; the proxy config test still
	// guards the reload. A service that did not start shows up as a
	// readiness timeout, but an unusable working directory ends the run.
	_ = o.stage(ctx, report, model.StageConfig, o.installSite)
	_ = o.stage(ctx, report, model.StageAssets, o.syncAssets)
	_ = o.stage(ctx, report, model.StageReap, func(ctx context.Context) (model.StageStatus, string, error) {
		return o.reap(ctx, report)
	})
	if err := o.stage(ctx, report, model.StageLaunch, func(context.Context) (model.StageStatus, string, error) {
		return o.launch(report)
	}); err != nil {
		o.record(report, model.StageReadiness, model.StatusSkipped, "launch aborted", 0)
		o.record(report, model.StageProxy, model.StatusSkipped, "launch aborted", 0)
		return report, err
	}

	readyErr := o.stage(ctx, report, model.StageReadiness, func(ctx context.Context) (model.StageStatus, string, error) {
		return o.awaitReadiness(ctx, report)
	})
	if ctx.Err() != nil {
		o.logger.Warn("⚠️ deployment interrupted, proxy left untouched", "run", report.RunID)
		o.record(report, model.StageProxy, model.StatusSkipped, "interrupted", 0)
		return report, model.WrapCLIError(model.ExitInterrupted, "deployment interrupted", ctx.Err())
	}
	if readyErr != nil {
		o.record(report, model.StageProxy, model.StatusSkipped, "reload blocked by readiness timeout", 0)
		return report, readyErr
	}

	if err := o.stage(ctx, report, model.StageProxy, func(ctx context.Context) (model.StageStatus, string, error) {
		if err := o.stages.Proxy.Run(ctx); err != nil {
			return model.StatusFailed, "", err
		}
		report.ProxyReloaded = true
		return model.StatusOK, "validated and reloaded", nil
	}); err != nil {
		return report, err
	}

	if timedOut := report.TimedOut(); len(timedOut) > 0 {
		o.logger.Warn("⚠️ deployment finished with services that are not listening",
			"run", report.RunID, "count", len(timedOut))
	} else {
		o.logger.Info("✅ deployment finished", "run", report.RunID)
	}
	return report, nil
}

type stageFunc func(ctx context.Context) (model.StageStatus, string, error)

// stage runs fn unless the stage is skipped, and records its result.
func (o *Orchestrator) stage(ctx context.Context, report *model.Report, stage model.Stage, fn stageFunc) error {
	if o.plan.Skip[stage] {
		o.logger.Info("ℹ️ stage skipped", "stage", stage)
		o.record(report, stage, model.StatusSkipped, "skipped by configuration", 0)
		return nil
	}

	start := o.now()
	status, detail, err := fn(ctx)
	if err != nil {
		status = model.StatusFailed
		if detail == "" {
			detail = err.Error()
		}
		o.logger.Error("❌ stage failed", "stage", stage, "error", err)
	}
	o.record(report, stage, status, detail, o.now().Sub(start))
	return err
}

func (o *Orchestrator) record(report *model.Report, stage model.Stage, status model.StageStatus, detail string, d time.Duration) {
	report.Stages = append(report.Stages, model.StageResult{
		Stage:    stage,
		Status:   status,
		Detail:   detail,
		Duration: d,
	})
}

func (o *Orchestrator) syncSource(ctx context.Context) (model.StageStatus, string, error) {
	res, err := o.stages.Source.Sync(ctx, o.plan.RepoDir, o.plan.Branch)
	if err != nil {
		return model.StatusFailed, "", err
	}
	if !res.Updated() {
		return model.StatusOK, "already up to date at " + shortHash(res.After), nil
	}
	return model.StatusOK, fmt.Sprintf("%s -> %s", shortHash(res.Before), shortHash(res.After)), nil
}

func (o *Orchestrator) installSite(context.Context) (model.StageStatus, string, error) {
	res, err := o.stages.Installer.Install(o.plan.Site)
	if err != nil {
		return model.StatusFailed, "", err
	}
	if !res.Changed() {
		return model.StatusOK, "unchanged", nil
	}
	return model.StatusOK, "installed " + res.EnabledPath, nil
}

func (o *Orchestrator) syncAssets(context.Context) (model.StageStatus, string, error) {
	stats, err := o.stages.Assets.Sync(o.plan.AssetSrc, o.plan.AssetDst)
	if err != nil {
		return model.StatusFailed, "", err
	}
	return model.StatusOK, fmt.Sprintf("%d copied, %d deleted, %d unchanged",
		stats.Copied, stats.Deleted, stats.Unchanged), nil
}

func (o *Orchestrator) reap(ctx context.Context, report *model.Report) (model.StageStatus, string, error) {
	report.Reaped = o.stages.Reaper.Reap(ctx, model.Ports(o.plan.Services))

	killed := 0
	var stuck []string
	for _, r := range report.Reaped {
		killed += len(r.Killed)
		if !r.Freed() {
			stuck = append(stuck, fmt.Sprint(r.Port))
		}
	}
	if len(stuck) > 0 {
		return model.StatusWarning, fmt.Sprintf("%d killed, port(s) %s still bound", killed, strings.Join(stuck, ", ")), nil
	}
	return model.StatusOK, fmt.Sprintf("%d killed", killed), nil
}

func (o *Orchestrator) launch(report *model.Report) (model.StageStatus, string, error) {
	launched, errs := o.stages.Launcher.LaunchAll(o.plan.Services)
	report.Launched = launched
	for _, err := range errs {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			return model.StatusFailed, fmt.Sprintf("%d started before: %v", len(launched), err), err
		}
	}
	if len(errs) > 0 {
		return model.StatusWarning, fmt.Sprintf("%d of %d started", len(launched), len(o.plan.Services)), nil
	}
	return model.StatusOK, fmt.Sprintf("%d started", len(launched)), nil
}

func (o *Orchestrator) awaitReadiness(ctx context.Context, report *model.Report) (model.StageStatus, string, error) {
	report.Readiness = o.stages.Readiness.WaitAll(ctx, o.plan.Services)

	timedOut := report.TimedOut()
	if len(timedOut) == 0 {
		return model.StatusOK, fmt.Sprintf("%d open", len(report.Readiness)), nil
	}

	names := make([]string, 0, len(timedOut))
	for _, r := range timedOut {
		names = append(names, fmt.Sprintf("%s:%d", r.Service, r.Port))
	}
	detail := fmt.Sprintf("%d open, timed out: %s", len(report.Readiness)-len(timedOut), strings.Join(names, ", "))

	if o.plan.BlockReloadOnTimeout {
		return model.StatusFailed, detail, model.NewCLIError(model.ExitReadinessTimeout,
			"services did not become ready: "+strings.Join(names, ", "))
	}
	return model.StatusWarning, detail, nil
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}
