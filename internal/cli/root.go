// Package cli implements the cobra-based CLI commands for webdeploy.
//
// Running webdeploy without a subcommand performs a full deployment. The
// subcommands (status, reap, wait, config) each expose one slice of it and
// are defined in their own files within this package. This file defines the
// root command, the global flags, and exit-code handling.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/webdeploy/internal/config"
	"github.com/shinji-kodama/webdeploy/internal/model"
)

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command,
// which makes them available to every subcommand automatically.
var (
	// configPath is the configuration file passed with --config. Empty means
	// webdeploy.yaml in the working directory or /etc/webdeploy, if present.
	configPath string

	// jsonOutput controls whether command output is formatted as JSON.
	jsonOutput bool

	// verbose lowers the log level to debug, overriding log.level.
	verbose bool

	// logFormat overrides log.format ("text" or "json") when set.
	logFormat string
)

// Version, Commit, and Date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
// This is the entry point for the entire CLI application.
//
// Unlike most CLIs the root command does real work: with no subcommand it
// runs every deployment stage in order. The subcommands are for operators
// inspecting or repairing a host between runs.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "webdeploy",
		Short: "Single-host deployment orchestrator",
		Long: `webdeploy pulls the latest source, installs the nginx site config,
mirrors the built front-end into the web root, kills whatever still holds
the service ports, starts the backend services detached, waits for their
ports to open, and finally validates and reloads nginx.

A service that does not come up in time is reported as an error, but the
proxy is still reloaded unless readiness.block_reload_on_timeout is set.
An invalid proxy configuration is never reloaded.

Exit codes:
  0  success
  1  fatal setup error (missing repository or service directory, bad configuration)
  2  proxy configuration test failed
  3  proxy reload failed
  4  readiness timeout (only with readiness.block_reload_on_timeout)
  5  git failure
  130 interrupted before the proxy stage`,
		Args: cobra.NoArgs,

		// SilenceUsage prevents cobra from printing usage on every error.
		// We handle error output ourselves for cleaner UX.
		SilenceUsage: true,

		// SilenceErrors prevents cobra from printing errors automatically.
		// We format errors ourselves (text or JSON based on --json flag).
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (YAML, JSON or JSONC)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (default from config)")

	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewReapCommand())
	rootCmd.AddCommand(NewWaitCommand())
	rootCmd.AddCommand(NewConfigCommand())

	return rootCmd
}

// Execute runs the root command and handles exit codes.
// This is the main entry point called from main.go.
//
// CLIError values carry their own exit code, including when they are
// wrapped; other errors exit with code 1.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			printError(os.Stderr, cliErr.Message, cliErr.Err)
			os.Exit(int(cliErr.Code))
		}

		printError(os.Stderr, err.Error(), nil)
		os.Exit(int(model.ExitGeneralError))
	}
}

// printError writes an error message in the format selected by --json.
// Errors always go to stderr, even in JSON mode, because stdout is
// reserved for command output.
func printError(w io.Writer, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	if underlying != nil {
		fmt.Fprintf(w, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(w, "Error: %s\n", message)
	}
}

// IsJSONOutput returns whether the --json flag is set.
// Subcommands use this to decide their output format.
func IsJSONOutput() bool {
	return jsonOutput
}

// loadConfig reads the configuration named by --config and builds the
// logger it describes. Command-line flags win over the file.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	logger := SetupLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	if cfg.File != "" {
		logger.Debug("configuration loaded", "file", cfg.File)
	} else {
		logger.Debug("no configuration file found, using defaults")
	}
	return cfg, logger, nil
}
