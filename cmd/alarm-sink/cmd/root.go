package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-sink/internal/config"
	"github.com/oshokin/alarm-sink/internal/service/client"
	"github.com/oshokin/alarm-sink/internal/version"
)

var (
	// cfgPath stores the configuration file path.
	cfgPath string
	// serverAddress overrides the server address from config.
	serverAddress string
	// jsonOutput prints raw JSON responses.
	jsonOutput bool

	// rootCmd represents the base command of the alarm client.
	rootCmd = &cobra.Command{
		Use:   "alarm-sink",
		Short: "Raise, update, clear and inspect alarms.",
		Long: `Command-line client of the alarm-sink server.

Events are correlated by device, managed object, alarm type and specific problem.
Repeated identical raises are suppressed by the server, updates and clears are
always recorded in the alarm history. The server address is loaded from the
configuration file unless --server is given.`,
		SilenceUsage: true,
	}
)

// Execute runs the alarm-sink CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext returns a context cancelled on SIGTERM or SIGINT.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// clientOptions collects the persistent flags.
func clientOptions() *client.Options {
	return &client.Options{
		ConfigPath:    cfgPath,
		ServerAddress: serverAddress,
		JSON:          jsonOutput,
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	flags.StringVarP(&serverAddress, "server", "s", "", "alarm server address (overrides config)")
	flags.BoolVar(&jsonOutput, "json", false, "print JSON instead of tables")
}
