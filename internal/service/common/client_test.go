//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"

	api "github.com/oshokin/timed-devices/internal/api/grpc/timers"
	"github.com/oshokin/timed-devices/internal/domain/timer"
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

// TestClient_callContextCaller attaches the caller identity to outgoing metadata.
func TestClient_callContextCaller(t *testing.T) {
	t.Parallel()

	c := new(Client)
	WithCaller(&timer.Caller{Hostname: "attic", Username: "pi"})(c)

	ctx, cancel := c.callContext(context.Background())
	defer cancel()

	md, ok := metadata.FromOutgoingContext(ctx)
	require.True(t, ok)
	require.Equal(t, []string{"attic"}, md.Get(api.MetadataHostname))
	require.Equal(t, []string{"pi"}, md.Get(api.MetadataUsername))
}

// TestUpdateSource_NoValues asserts that an empty update is rejected by the client.
func TestUpdateSource_NoValues(t *testing.T) {
	t.Parallel()

	c := new(Client)

	_, err := c.UpdateSource(context.Background(), timer.SourceVariable, 1, nil)
	require.ErrorIs(t, err, errValuesRequired)
}
