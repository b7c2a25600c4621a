//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	api "github.com/oshokin/alarm-sink/internal/api/grpc/alarm"
	"github.com/oshokin/alarm-sink/internal/config"
	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
	"github.com/oshokin/alarm-sink/internal/wire"
)

// Client wraps the gRPC AlarmService client with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the alarm server.
	conn *grpc.ClientConn
	// api is the AlarmService client.
	api *api.AlarmServiceClient

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errEventRequired is returned when an event is not provided.
	errEventRequired = errors.New("event must be provided")
)

// Dial establishes a gRPC connection to the alarm server.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy until native TLS is added.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial alarm server: %w", err)
	}

	client := &Client{
		conn:        conn,
		api:         api.NewAlarmServiceClient(conn),
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// Send delivers one event through the RPC matching its kind.
func (c *Client) Send(ctx context.Context, event *domain.Event) (*structpb.Struct, error) {
	if event == nil {
		return nil, errEventRequired
	}

	var call func(context.Context, *structpb.Struct, ...grpc.CallOption) (*structpb.Struct, error)

	switch event.Kind {
	case domain.KindCreate:
		call = c.api.CreateAlarm
	case domain.KindUpdate:
		call = c.api.UpdateAlarm
	case domain.KindClear:
		call = c.api.ClearAlarm
	default:
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownKind, event.Kind)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := call(callCtx, wire.EventToStruct(event))
	if err != nil {
		return nil, fmt.Errorf("%s alarm: %w", event.Kind, err)
	}

	return response, nil
}

// Purge removes the alarms matching filter and returns the number purged.
func (c *Client) Purge(ctx context.Context, filter *domain.Filter) (int, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.PurgeAlarms(callCtx, wire.FilterToStruct(filter, false))
	if err != nil {
		return 0, fmt.Errorf("purge alarms: %w", err)
	}

	return int(response.GetFields()[wire.FieldPurged].GetNumberValue()), nil
}

// Show returns the number of active alarms and the alarms matching filter.
func (c *Client) Show(ctx context.Context, filter *domain.Filter, withHistory bool) (int, []*domain.Alarm, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.ShowAlarms(callCtx, wire.FilterToStruct(filter, withHistory))
	if err != nil {
		return 0, nil, fmt.Errorf("show alarms: %w", err)
	}

	return wire.InventoryFromStruct(response)
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
