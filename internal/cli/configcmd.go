package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCommand creates the "config" cobra command, which prints the
// effective configuration after defaults, the file, and environment
// overrides are merged.
func NewConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration webdeploy would run with, after merging the
built-in defaults, the configuration file, and WEBDEPLOY_* environment
variables. Relative paths are shown resolved against repo.dir.

Examples:
  webdeploy config
  webdeploy config --config /etc/webdeploy/webdeploy.yaml
  WEBDEPLOY_READINESS_TIMEOUT=90s webdeploy config --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if IsJSONOutput() {
				data, err := json.MarshalIndent(cfg, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal configuration: %w", err)
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			if cfg.File != "" {
				fmt.Fprintf(out, "# loaded from %s\n", cfg.File)
			}
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			defer func() { _ = enc.Close() }()
			return enc.Encode(cfg)
		},
	}
}
