package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
	"github.com/oshokin/alarm-sink/internal/service/client"
)

// eventFlags holds the flags shared by create, update and clear.
type eventFlags struct {
	device          string
	managedObject   string
	alarmType       string
	specificProblem string
	severity        string
	text            string
	cleared         bool
	retry           bool
	impacted        []string
	rootCause       []string
	related         []string
}

// errRelatedFormat is returned for a --related value that is not a list of name=value pairs.
var errRelatedFormat = errors.New("related alarm must look like device=D,managed-object=O,type=T[,specific-problem=P]")

func (f *eventFlags) bind(cmd *cobra.Command, withSeverity bool) {
	flags := cmd.Flags()
	flags.StringVarP(&f.device, "device", "d", "", "device name (defaults to the local hostname)")
	flags.StringVarP(&f.managedObject, "managed-object", "o", "", "managed object within the device")
	flags.StringVarP(&f.alarmType, "type", "t", "", "alarm type")
	flags.StringVarP(&f.specificProblem, "specific-problem", "p", "", "specific problem qualifier")
	flags.StringVarP(&f.text, "text", "x", "", "alarm text")
	flags.BoolVar(&f.retry, "retry", false, "keep retrying while the server is unavailable")
	flags.StringSliceVar(&f.impacted, "impacted", nil, "objects that may no longer function due to the alarm")
	flags.StringSliceVar(&f.rootCause, "root-cause", nil, "objects likely to be the root cause of the alarm")
	flags.StringArrayVar(&f.related, "related", nil,
		"related alarm as device=D,managed-object=O,type=T[,specific-problem=P], repeatable")

	_ = cmd.MarkFlagRequired("managed-object")
	_ = cmd.MarkFlagRequired("type")

	if withSeverity {
		flags.StringVarP(&f.severity, "severity", "v", "", "indeterminate, minor, warning, major or critical")
		_ = cmd.MarkFlagRequired("severity")
	}
}

func (f *eventFlags) event(kind domain.Kind) (*domain.Event, error) {
	event := &domain.Event{
		Kind:            kind,
		Device:          f.device,
		ManagedObject:   f.managedObject,
		Type:            f.alarmType,
		SpecificProblem: f.specificProblem,
		AlarmText:       f.text,
		Cleared:         f.cleared,

		ImpactedObjects:  f.impacted,
		RootCauseObjects: f.rootCause,
	}

	for _, raw := range f.related {
		key, err := parseRelated(raw)
		if err != nil {
			return nil, err
		}

		event.RelatedAlarms = append(event.RelatedAlarms, key)
	}

	if kind == domain.KindClear {
		return event, nil
	}

	severity, err := domain.ParseSeverity(f.severity)
	if err != nil {
		return nil, err
	}

	event.Severity = severity

	return event, nil
}

// parseRelated reads an alarm key given as comma-separated name=value pairs.
func parseRelated(raw string) (domain.Key, error) {
	var key domain.Key

	for pair := range strings.SplitSeq(raw, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return domain.Key{}, fmt.Errorf("%w: %q", errRelatedFormat, raw)
		}

		value = strings.TrimSpace(value)

		switch strings.TrimSpace(name) {
		case "device":
			key.Device = value
		case "managed-object":
			key.ManagedObject = value
		case "type":
			key.Type = value
		case "specific-problem":
			key.SpecificProblem = value
		default:
			return domain.Key{}, fmt.Errorf("%w: unknown field %q", errRelatedFormat, name)
		}
	}

	if err := key.Validate(); err != nil {
		return domain.Key{}, fmt.Errorf("related alarm %q: %w", raw, err)
	}

	return key, nil
}

// newEventCommand builds one of the create, update and clear subcommands.
func newEventCommand(kind domain.Kind, short, long string) *cobra.Command {
	flags := new(eventFlags)

	cmd := &cobra.Command{
		Use:     kind.String(),
		Aliases: []string{kind.String() + "-alarm"},
		Short:   short,
		Long:    long,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			event, err := flags.event(kind)
			if err != nil {
				return err
			}

			options := clientOptions()
			options.Retry = flags.retry

			return client.Send(ctx, options, event)
		},
	}

	flags.bind(cmd, kind != domain.KindClear)

	if kind == domain.KindUpdate {
		cmd.Flags().BoolVar(&flags.cleared, "cleared", false, "mark the alarm as cleared")
	}

	return cmd
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(
		newEventCommand(domain.KindCreate,
			"Raise an alarm.",
			`Raises an alarm. A raise identical to the active alarm (same severity and text) is suppressed.`),
		newEventCommand(domain.KindUpdate,
			"Update an alarm.",
			`Records an update of the alarm. With --cleared the update clears the alarm.`),
		newEventCommand(domain.KindClear,
			"Clear an alarm.",
			`Clears the alarm. The perceived severity of the alarm is preserved.`),
	)
}
