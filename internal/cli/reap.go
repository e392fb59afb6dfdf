package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/webdeploy/internal/deploy"
	"github.com/shinji-kodama/webdeploy/internal/model"
)

// newReaper builds the reaper used by the reap and status commands.
var newReaper = deploy.NewReaper

// NewReapCommand creates the "reap" cobra command, which runs the Port
// Reaper stage on its own.
func NewReapCommand() *cobra.Command {
	var ports []int

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Kill every process bound to the managed ports",
		Long: `Kill every process bound to the managed service ports, then check
that the ports are free. Use --port to reap specific ports instead.

Examples:
  webdeploy reap
  webdeploy reap --port 6000 --port 8000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				ports = model.Ports(cfg.Services)
			}

			results := newReaper(cfg, logger).Reap(contextOf(cmd), ports)
			printReapResults(cmd.OutOrStdout(), results)

			var stuck []int
			for _, r := range results {
				if !r.Freed() {
					stuck = append(stuck, r.Port)
				}
			}
			if len(stuck) > 0 {
				return model.NewCLIError(model.ExitGeneralError, fmt.Sprintf("port(s) %v are still bound", stuck))
			}
			return nil
		},
	}

	cmd.Flags().IntSliceVarP(&ports, "port", "p", nil, "Port to reap (repeatable, default: all managed ports)")
	return cmd
}
