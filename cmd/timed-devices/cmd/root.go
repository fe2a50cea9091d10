package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/timed-devices/internal/config"
	"github.com/oshokin/timed-devices/internal/service/server"
	"github.com/oshokin/timed-devices/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// stateFile overrides where instance records are persisted.
	stateFile string

	// rootCmd represents the base command for running the timer daemon.
	rootCmd = &cobra.Command{
		Use:   "timed-devices [listen-address]",
		Short: "Run timed devices and their gRPC control server.",
		Long: `Starts every timer instance from the configuration file and serves the control API.

Each instance watches devices or variables and derives an on/off state from them:
activity, threshold, persistence, lockout, alive and running timers are supported.
Only the port from server_addr config is used for listening (e.g., :8080).
Listen address can be provided as argument to override config (e.g., :9090, 0.0.0.0:8080).
Instance records are persisted to a JSON file or a SQLite database and restored on restart.
Edits to the configuration file are applied without a restart.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &server.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				StateFile:     stateFile,
			}

			return server.Run(ctx, options)
		},
	}
)

// Execute runs the timed-devices CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().
		StringVarP(&stateFile, "state-file", "s", "", "override the state file or database path from configuration")
}
