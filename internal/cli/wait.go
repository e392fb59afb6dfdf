package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/webdeploy/internal/deploy"
	"github.com/shinji-kodama/webdeploy/internal/model"
)

// NewWaitCommand creates the "wait" cobra command, which runs the
// Readiness Poller stage on its own.
func NewWaitCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for the managed ports to open",
		Long: `Poll every managed service port once per second until it accepts a
connection or its timeout elapses. Exits with code 4 if any port stayed
closed.

Examples:
  webdeploy wait
  webdeploy wait --timeout 10s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("timeout") {
				for i := range cfg.Services {
					cfg.Services[i].Timeout = timeout
				}
			}

			results := deploy.NewPoller(cfg, logger).WaitAll(contextOf(cmd), cfg.Services)
			printReadiness(cmd.OutOrStdout(), results)

			var closed []string
			for _, r := range results {
				if !r.Open {
					closed = append(closed, r.Service)
				}
			}
			if len(closed) > 0 {
				return model.NewCLIError(model.ExitReadinessTimeout,
					"services did not become ready: "+strings.Join(closed, ", "))
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Override every service's readiness timeout")
	return cmd
}
