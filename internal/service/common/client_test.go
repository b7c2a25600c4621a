//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	api "github.com/oshokin/alarm-sink/internal/api/grpc/alarm"
	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
	"github.com/oshokin/alarm-sink/internal/service/lifecycle"
)

// TestDial_ValidatesAddress verifies that Dial rejects empty addresses.
func TestDial_ValidatesAddress(t *testing.T) {
	t.Parallel()

	c, err := Dial(context.Background(), "")
	require.Error(t, err)
	require.Nil(t, c)
}

// TestClient_callContext checks timeout vs cancel-only behavior of callContext.
func TestClient_callContext(t *testing.T) {
	t.Parallel()

	c := &Client{
		callTimeout: 0,
	}

	ctx, cancel := c.callContext(context.Background())
	cancel()

	require.NotNil(t, ctx)

	c.callTimeout = 10 * time.Millisecond

	ctx, cancel = c.callContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(10*time.Millisecond), deadline, 30*time.Millisecond)
}

// TestClient_SendRejectsBadInput asserts that nil and unknown events never reach the network.
func TestClient_SendRejectsBadInput(t *testing.T) {
	t.Parallel()

	c := new(Client)

	_, err := c.Send(context.Background(), nil)
	require.ErrorIs(t, err, errEventRequired)

	_, err = c.Send(context.Background(), &domain.Event{Kind: domain.Kind(9)})
	require.ErrorIs(t, err, domain.ErrUnknownKind)
}

// TestClient_AgainstServer drives every client call against a local server.
func TestClient_AgainstServer(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	grpcServer := grpc.NewServer()
	api.RegisterAlarmServiceServer(grpcServer, api.NewServer(lifecycle.NewEngine(lifecycle.NewStore(1))))

	go func() {
		_ = grpcServer.Serve(listener)
	}()

	t.Cleanup(grpcServer.Stop)

	c, err := Dial(context.Background(), listener.Addr().String(), WithCallTimeout(5*time.Second))
	require.NoError(t, err)

	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	raise := &domain.Event{
		Kind:          domain.KindCreate,
		Device:        "r1",
		ManagedObject: "eth0",
		Type:          "link-down",
		Severity:      domain.SeverityMajor,
		AlarmText:     "down",
	}

	_, err = c.Send(ctx, raise)
	require.NoError(t, err)

	count, alarms, err := c.Show(ctx, new(domain.Filter), true)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Len(t, alarms, 1)
	require.Len(t, alarms[0].StatusChanges, 1)

	_, err = c.Send(ctx, &domain.Event{
		Kind:          domain.KindClear,
		Device:        "r1",
		ManagedObject: "eth0",
		Type:          "link-down",
		AlarmText:     "up",
	})
	require.NoError(t, err)

	count, _, err = c.Show(ctx, &domain.Filter{Status: domain.StatusActive}, false)
	require.NoError(t, err)
	require.Zero(t, count)

	purged, err := c.Purge(ctx, &domain.Filter{Device: "r1"})
	require.NoError(t, err)
	require.Equal(t, 1, purged)
}
