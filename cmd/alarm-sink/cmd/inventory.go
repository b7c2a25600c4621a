package cmd

import (
	"github.com/spf13/cobra"

	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
	"github.com/oshokin/alarm-sink/internal/service/client"
	"github.com/oshokin/alarm-sink/internal/wire"
)

// filterFlags holds the flags shared by purge and show.
type filterFlags struct {
	device          string
	managedObject   string
	alarmType       string
	specificProblem string
	status          string
}

func (f *filterFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.device, "device", "d", "", "match device")
	flags.StringVarP(&f.managedObject, "managed-object", "o", "", "match managed object")
	flags.StringVarP(&f.alarmType, "type", "t", "", "match alarm type")
	flags.StringVarP(&f.specificProblem, "specific-problem", "p", "", "match specific problem")
	flags.StringVar(&f.status, "status", wire.StatusAny, "any, active or cleared")
}

func (f *filterFlags) filter() (*domain.Filter, error) {
	status, err := wire.ParseStatus(f.status)
	if err != nil {
		return nil, err
	}

	return &domain.Filter{
		Device:          f.device,
		ManagedObject:   f.managedObject,
		Type:            f.alarmType,
		SpecificProblem: f.specificProblem,
		Status:          status,
	}, nil
}

func newPurgeCommand() *cobra.Command {
	flags := new(filterFlags)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove alarms and their history.",
		Long:  `Removes the alarms matching the filter, including their whole history. Without filter flags every alarm is removed.`,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			filter, err := flags.filter()
			if err != nil {
				return err
			}

			return client.Purge(ctx, clientOptions(), filter)
		},
	}

	flags.bind(cmd)

	return cmd
}

func newShowCommand() *cobra.Command {
	var (
		flags   = new(filterFlags)
		history bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the alarm inventory.",
		Long:  `Prints the number of active alarms and the alarms matching the filter.`,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			filter, err := flags.filter()
			if err != nil {
				return err
			}

			return client.Show(ctx, clientOptions(), filter, history)
		},
	}

	flags.bind(cmd)
	cmd.Flags().BoolVar(&history, "history", false, "include status changes")

	return cmd
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(newPurgeCommand(), newShowCommand())
}
