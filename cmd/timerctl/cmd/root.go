package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/timed-devices/internal/config"
	"github.com/oshokin/timed-devices/internal/domain/timer"
	"github.com/oshokin/timed-devices/internal/service/client"
	"github.com/oshokin/timed-devices/internal/version"
)

var (
	// cfgPath stores the configuration file path.
	cfgPath string
	// serverAddress overrides the daemon address from configuration.
	serverAddress string
	// watchInterval is the polling interval of watch.
	watchInterval time.Duration

	// rootCmd represents the base command for controlling the daemon.
	rootCmd = &cobra.Command{
		Use:   "timerctl",
		Short: "Inspect and control a running timed-devices daemon.",
		Long: `Talks to the timed-devices daemon over gRPC.

Lists instances with their persisted state, forces instances on or off and
updates the devices and variables the instances watch.
The daemon address is loaded from the configuration file unless --server is given.
Results are printed as YAML.`,
		SilenceUsage: true,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List running instances and their state.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(&client.Options{Action: client.ActionList})
		},
	}

	getCmd = &cobra.Command{
		Use:   "get <instance-id>",
		Short: "Show one instance and its state.",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runOnInstance(client.ActionGet, args[0])
		},
	}

	forceOnCmd = &cobra.Command{
		Use:   "force-on <instance-id>",
		Short: "Turn an instance on regardless of its inputs.",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runOnInstance(client.ActionForceOn, args[0])
		},
	}

	forceOffCmd = &cobra.Command{
		Use:   "force-off <instance-id>",
		Short: "Turn an instance off and clear its pending timers.",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runOnInstance(client.ActionForceOff, args[0])
		},
	}

	watchCmd = &cobra.Command{
		Use:   "watch [instance-id]",
		Short: "Print instances whenever their state changes.",
		Long: `Polls the daemon and prints every instance whose state changed since the previous poll.

Without an identifier all instances are watched. Stop with Ctrl+C.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			opts := &client.Options{Action: client.ActionWatch, PollInterval: watchInterval}

			if len(args) > 0 {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}

				opts.InstanceID = timer.InstanceID(id)
			}

			return run(opts)
		},
	}

	setVariableCmd = &cobra.Command{
		Use:   "set-variable <variable-id> <value>",
		Short: "Set the value of a variable.",
		Args:  cobra.ExactArgs(2), //nolint:mnd // Identifier and value.
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return run(&client.Options{
				Action:   client.ActionSetVariable,
				SourceID: id,
				Values:   map[string]any{timer.VariableField: args[1]},
			})
		},
	}

	setDeviceCmd = &cobra.Command{
		Use:   "set-device <device-id> <field=value>...",
		Short: "Update states of a device.",
		Long: `Merges field=value pairs into a device.

Values "true" and "false" become booleans, numbers become numbers, anything else stays a string.`,
		Args: cobra.MinimumNArgs(2), //nolint:mnd // Identifier and at least one pair.
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			values, err := client.ParseAssignments(args[1:])
			if err != nil {
				return err
			}

			return run(&client.Options{
				Action:   client.ActionSetDevice,
				SourceID: id,
				Values:   values,
			})
		},
	}
)

// Execute runs the timerctl CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run fills in the connection settings and executes opts.
func run(opts *client.Options) error {
	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	opts.ConfigPath = cfgPath
	opts.ServerAddress = serverAddress

	return client.Run(ctx, opts)
}

func runOnInstance(action client.Action, arg string) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}

	return run(&client.Options{Action: action, InstanceID: timer.InstanceID(id)})
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid identifier %q: %w", arg, err)
	}

	return id, nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup persistent flags shared by every subcommand.
	rootCmd.PersistentFlags().
		StringVarP(&cfgPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().
		StringVarP(&serverAddress, "server", "s", "", "daemon address, overrides configuration")

	watchCmd.Flags().
		DurationVarP(&watchInterval, "interval", "i", client.DefaultPollInterval, "polling interval")

	rootCmd.AddCommand(listCmd, getCmd, watchCmd, forceOnCmd, forceOffCmd, setVariableCmd, setDeviceCmd)
}
