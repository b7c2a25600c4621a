package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-sink/internal/config"
	"github.com/oshokin/alarm-sink/internal/service/server"
	"github.com/oshokin/alarm-sink/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// stateFile overrides the inventory path of the file backend.
	stateFile string
	// metricsAddress overrides the Prometheus listen address.
	metricsAddress string

	// rootCmd represents the base command for running the alarm server.
	rootCmd = &cobra.Command{
		Use:   "alarm-sink-server [listen-address]",
		Short: "Run the alarm correlation server.",
		Long: `Starts the gRPC alarm server that correlates raise, update and clear events
into one alarm per device, managed object, alarm type and specific problem.

Only the port from server_addr config is used for listening (e.g., :7070).
Listen address can be provided as argument to override config (e.g., :9090, 0.0.0.0:7070).
The inventory is kept in memory, a JSON file, PostgreSQL or Redis, as selected
in the storage section. When kafka brokers are configured, events are also
consumed from the configured topic.`,
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
				ConfigPath:     configPath,
				ListenAddress:  listenAddress,
				StateFile:      stateFile,
				MetricsAddress: metricsAddress,
			}

			return server.Run(ctx, options)
		},
	}
)

// Execute runs the alarm-sink-server CLI and exits with non-zero status on error.
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
		StringVarP(&stateFile, "state-file", "s", "", "inventory file of the file backend (overrides config)")
	rootCmd.Flags().
		StringVarP(&metricsAddress, "metrics-addr", "m", "", "Prometheus listen address (overrides config)")
}
