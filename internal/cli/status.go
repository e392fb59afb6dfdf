package cli

import (
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/webdeploy/internal/model"
	"github.com/shinji-kodama/webdeploy/internal/port"
	"github.com/shinji-kodama/webdeploy/internal/reaper"
)

// serviceStatus is one row of the status command's output.
type serviceStatus struct {
	Service   string   `json:"service"`
	Port      int      `json:"port"`
	Listening bool     `json:"listening"`
	Bound     bool     `json:"bound"`
	PIDs      []int32  `json:"pids"`
	Processes []string `json:"processes,omitempty"`
}

// NewStatusCommand creates the "status" cobra command.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which processes hold the managed ports",
		Long: `Show every managed service port, whether it accepts connections,
and which processes are bound to it. Nothing is killed or started.

Without root privileges the owner of a port held by another user may be
hidden; such ports are shown as bound with no PIDs.

Examples:
  webdeploy status
  webdeploy status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := contextOf(cmd)

			bindings, err := newReaper(cfg, logger).Bindings(ctx, model.Ports(cfg.Services))
			if err != nil {
				return model.WrapCLIError(model.ExitGeneralError, "failed to read the socket table", err)
			}

			scanner := port.NewScanner()
			rows := make([]serviceStatus, 0, len(cfg.Services))
			for i, svc := range cfg.Services {
				row := serviceStatus{
					Service:   svc.Name,
					Port:      svc.Port,
					Listening: scanner.IsListening(ctx, cfg.Readiness.Host, svc.Port),
					PIDs:      bindings[i].PIDs,
				}
				row.Bound = bindings[i].Bound() || !scanner.IsPortAvailable(svc.Port, "tcp")
				for _, pid := range row.PIDs {
					row.Processes = append(row.Processes, reaper.ProcessName(ctx, pid))
				}
				rows = append(rows, row)
			}

			printStatus(cmd.OutOrStdout(), rows)
			return nil
		},
	}
}
