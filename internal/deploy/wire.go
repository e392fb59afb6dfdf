package deploy

import (
	"log/slog"

	"github.com/spf13/afero"

	"github.com/shinji-kodama/webdeploy/internal/config"
	"github.com/shinji-kodama/webdeploy/internal/install"
	"github.com/shinji-kodama/webdeploy/internal/launcher"
	"github.com/shinji-kodama/webdeploy/internal/port"
	"github.com/shinji-kodama/webdeploy/internal/proxy"
	"github.com/shinji-kodama/webdeploy/internal/readiness"
	"github.com/shinji-kodama/webdeploy/internal/reaper"
	"github.com/shinji-kodama/webdeploy/internal/runner"
	"github.com/shinji-kodama/webdeploy/internal/source"
)

// PlanFromConfig derives the run plan from a loaded configuration.
func PlanFromConfig(cfg *config.Config) (Plan, error) {
	skip, err := cfg.SkipStages()
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		RepoDir:              cfg.Repo.Dir,
		Branch:               cfg.Repo.Branch,
		Site:                 cfg.Site,
		AssetSrc:             cfg.Assets.Source,
		AssetDst:             cfg.Assets.Dest,
		Services:             cfg.Services,
		BlockReloadOnTimeout: cfg.Readiness.BlockReloadOnTimeout,
		Skip:                 skip,
	}, nil
}

// NewReaper builds the Port Reaper on the live process table.
func NewReaper(cfg *config.Config, logger *slog.Logger) *reaper.Reaper {
	return reaper.New(reaper.NewSystemTable(),
		reaper.WithLogger(logger),
		reaper.WithSettle(cfg.Reaper.Settle),
		reaper.WithRechecks(cfg.Reaper.Rechecks),
	)
}

// NewPoller builds the Readiness Poller with a TCP prober.
func NewPoller(cfg *config.Config, logger *slog.Logger) *readiness.Poller {
	return readiness.NewPoller(port.NewScanner(),
		readiness.WithLogger(logger),
		readiness.WithHost(cfg.Readiness.Host),
		readiness.WithInterval(cfg.Readiness.Interval),
		readiness.WithTimeout(cfg.Readiness.Timeout),
	)
}

// NewGitRunner returns the runner used for Source Sync. Unattended runs must
// fail on a credential prompt instead of waiting for input.
func NewGitRunner() *runner.ExecRunner {
	return &runner.ExecRunner{Env: map[string]string{"GIT_TERMINAL_PROMPT": "0"}}
}

// NewProxyController builds the controller selected by proxy.mode. The
// returned close function releases the Docker client in docker mode and is
// a no-op otherwise.
func NewProxyController(cfg *config.Config, run runner.Runner) (proxy.Controller, func() error, error) {
	if cfg.Proxy.Mode == config.ProxyModeDocker {
		d, err := proxy.NewDockerController(cfg.Proxy.Container, cfg.Proxy.ValidateCommand)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	}
	return proxy.NewCommandController(run, cfg.Proxy.ValidateCommand, cfg.Proxy.ReloadCommand),
		func() error { return nil }, nil
}

// FromConfig assembles an Orchestrator backed by the real OS: git, the
// local file system, gopsutil, detached processes, TCP probes, and the
// configured proxy controller. Call the returned close function when done.
func FromConfig(cfg *config.Config, logger *slog.Logger) (*Orchestrator, func() error, error) {
	plan, err := PlanFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	run := runner.NewExecRunner()
	ctrl, closeFn, err := NewProxyController(cfg, run)
	if err != nil {
		return nil, nil, err
	}

	syncer := source.NewSyncer(NewGitRunner())
	if cfg.Repo.Remote != "" {
		syncer.Remote = cfg.Repo.Remote
	}

	fsys := afero.NewOsFs()
	stages := Stages{
		Source:    syncer,
		Installer: install.NewInstaller(fsys, logger),
		Assets:    install.NewAssetSyncer(fsys, logger),
		Reaper:    NewReaper(cfg, logger),
		Launcher:  launcher.New(launcher.WithLogger(logger)),
		Readiness: NewPoller(cfg, logger),
		Proxy:     proxy.NewReloader(ctrl, logger),
	}
	return New(plan, stages, WithLogger(logger)), closeFn, nil
}
