package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/webdeploy/internal/deploy"
	"github.com/shinji-kodama/webdeploy/internal/metrics"
	"github.com/shinji-kodama/webdeploy/internal/model"
)

// runDeploy performs a full deployment run and prints its report.
//
// The report is printed even when the run fails, since it shows how far
// the run got. Interrupting the process ends a readiness wait early; the
// ports still waiting are reported as timed out, the proxy is left alone,
// and the run exits with ExitInterrupted.
func runDeploy(cmd *cobra.Command) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	orch, closeFn, err := deploy.FromConfig(cfg, logger)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to set up deployment", err)
	}
	defer func() { _ = closeFn() }()

	ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, runErr := orch.Run(ctx)

	if cfg.Metrics.Textfile != "" {
		rec := metrics.NewRecorder()
		rec.Observe(report)
		if err := rec.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn("⚠️ failed to write metrics textfile", "path", cfg.Metrics.Textfile, "error", err)
		}
	}

	printReport(cmd.OutOrStdout(), report)
	return runErr
}

// contextOf returns the command's context, falling back to Background for
// commands executed without one (mostly in tests).
func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
