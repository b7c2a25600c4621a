package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/alarm-sink/internal/config"
	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
	"github.com/oshokin/alarm-sink/internal/logger"
	"github.com/oshokin/alarm-sink/internal/service/common"
	"github.com/oshokin/alarm-sink/internal/wire"
)

// Options configures the client operations.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string

	// ServerAddress overrides server address from config when specified.
	ServerAddress string

	// JSON prints raw protojson responses instead of tables.
	JSON bool

	// Retry keeps resending an event while the server or its store is unavailable.
	Retry bool

	// Output receives the printed result, stdout when nil.
	Output io.Writer
}

// DefaultPushInterval defines retry delay when the server store is unavailable.
const defaultPushInterval = 1 * time.Second

// errNoDevice is returned when no device was given and the hostname is unknown.
var errNoDevice = errors.New("device must be provided")

// Send submits one raise, update or clear and prints the resulting alarm.
// An empty device defaults to the local hostname.
func Send(ctx context.Context, opts *Options, event *domain.Event) error {
	ctx = logger.WithName(ctx, "alarm-sink")

	if event.Device == "" {
		device, err := common.DetectDevice()
		if err != nil {
			return fmt.Errorf("%w: %w", errNoDevice, err)
		}

		event.Device = device
	}

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	// Close connection on function exit.
	defer func() {
		_ = client.Close()
	}()

	logger.DebugKV(ctx, "Sending alarm event", "kind", event.Kind, "device", event.Device, "alarm_type", event.Type)

	// attempt tries once to deliver the event, returns (completed, error).
	attempt := func() (*structpb.Struct, bool, error) {
		response, err := client.Send(ctx, event)
		if err == nil {
			return response, true, nil
		}

		if opts.Retry && status.Code(err) == codes.Unavailable {
			// Log error but continue retrying for transient failures.
			logger.WarnKV(ctx, "Alarm server unavailable, retrying", "error", err)

			return nil, false, nil
		}

		return nil, false, err
	}

	// Attempt immediately before starting retry loop.
	response, done, err := attempt()
	if err != nil {
		return err
	}

	if done {
		return printSummary(opts, response)
	}

	// Setup retry timer for subsequent attempts.
	ticker := time.NewTicker(defaultPushInterval)
	defer ticker.Stop()

	// Retry loop until success or cancellation.
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			response, done, err = attempt()
			if err != nil {
				return err
			}

			if done {
				return printSummary(opts, response)
			}
		}
	}
}

// Purge removes the alarms matching filter and prints how many were removed.
func Purge(ctx context.Context, opts *Options, filter *domain.Filter) error {
	ctx = logger.WithName(ctx, "alarm-sink")

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	purged, err := client.Purge(ctx, filter)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(output(opts), "purged: %d\n", purged)

	return err
}

// Show prints numberOfAlarms and the alarms matching filter.
func Show(ctx context.Context, opts *Options, filter *domain.Filter, withHistory bool) error {
	ctx = logger.WithName(ctx, "alarm-sink")

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	count, alarms, err := client.Show(ctx, filter, withHistory)
	if err != nil {
		return err
	}

	if opts.JSON {
		return printJSON(opts, wire.InventoryToStruct(count, alarms, withHistory))
	}

	return printInventory(output(opts), count, alarms, withHistory)
}

// connect loads settings and dials the server.
func connect(ctx context.Context, opts *Options) (*common.Client, error) {
	// Load settings from configuration file.
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	// Use server address from options if provided, otherwise use config.
	serverAddress := cfg.ServerAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	logger.DebugKV(ctx, "Connecting to alarm server", "server_address", serverAddress)

	return common.Dial(ctx, serverAddress, common.WithCallTimeout(cfg.Timeout))
}

func output(opts *Options) io.Writer {
	if opts.Output != nil {
		return opts.Output
	}

	return os.Stdout
}

func printJSON(opts *Options, msg *structpb.Struct) error {
	data, err := wire.Marshal(msg)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(output(opts), string(data))

	return err
}

func printSummary(opts *Options, response *structpb.Struct) error {
	if opts.JSON {
		return printJSON(opts, response)
	}

	fields := response.GetFields()
	w := tabwriter.NewWriter(output(opts), 0, 0, 2, ' ', 0)

	for _, name := range []string{
		wire.FieldOutcome,
		wire.FieldDevice,
		wire.FieldManagedObject,
		wire.FieldType,
		wire.FieldSpecificProblem,
		wire.FieldCurrentSeverity,
		wire.FieldLastPerceivedSeverity,
		wire.FieldIsCleared,
		wire.FieldLastAlarmText,
		wire.FieldLastStatusChange,
		wire.FieldStatusChangeCount,
	} {
		_, _ = fmt.Fprintf(w, "%s:\t%s\n", name, formatValue(fields[name]))
	}

	return w.Flush()
}

func printInventory(out io.Writer, count int, alarms []*domain.Alarm, withHistory bool) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "number of alarms: %d\n\n", count)
	_, _ = fmt.Fprintln(w, "DEVICE\tMANAGED OBJECT\tTYPE\tSPECIFIC PROBLEM\tSEVERITY\tPERCEIVED\tCLEARED\tCHANGES\tLAST CHANGE\tTEXT")

	for _, a := range alarms {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%t\t%d\t%s\t%s\n",
			a.Key.Device,
			a.Key.ManagedObject,
			a.Key.Type,
			a.Key.SpecificProblem,
			a.CurrentSeverity,
			a.LastPerceivedSeverity,
			a.IsCleared,
			len(a.StatusChanges),
			a.LastStatusChange.Format(time.RFC3339),
			a.LastAlarmText,
		)

		if !withHistory {
			continue
		}

		for _, change := range a.StatusChanges {
			_, _ = fmt.Fprintf(w, "\t%s\t%s\t%s\n", change.Timestamp.Format(time.RFC3339Nano), change.State, change.Severity)
		}
	}

	return w.Flush()
}

func formatValue(v *structpb.Value) string {
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return kind.StringValue
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(kind.BoolValue)
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(kind.NumberValue, 'f', -1, 64)
	default:
		return ""
	}
}
