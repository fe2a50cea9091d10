package integration

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/timed-devices/internal/config"
	"github.com/oshokin/timed-devices/internal/domain/timer"
	"github.com/oshokin/timed-devices/internal/service/common"
	"github.com/oshokin/timed-devices/internal/service/server"
)

// settings returns a configuration with one device and a persistence timer following it.
func settings(addr, backend string) *config.Config {
	return &config.Config{
		ServerAddress: addr,
		StateBackend:  backend,
		Timeout:       5 * time.Second,
		TickInterval:  100 * time.Millisecond,
		Sources: []*config.Source{
			{Kind: timer.SourceDevice, ID: 10, Name: "hall motion", Values: map[string]any{"onOffState": false}},
		},
		Instances: []*timer.Instance{
			{
				ID:      1,
				Name:    "hall occupied",
				Kind:    timer.KindPersistence,
				Sources: []timer.SourceRef{{Kind: timer.SourceDevice, ID: 10, Field: "onOffState"}},
			},
		},
	}
}

// startDaemon runs the daemon with a temporary config and the given state path.
// Returns a stop function that waits for the daemon to exit.
func startDaemon(t *testing.T, cfg *config.Config, statePath string) (stop func()) {
	t.Helper()

	// Create cancellable context for daemon lifecycle.
	ctx, cancel := context.WithCancel(context.Background())
	cfgPath := filepath.Join(t.TempDir(), "timed-devices.yaml")

	// Create temporary configuration file.
	require.NoError(t, config.Save(cfgPath, cfg))

	done := make(chan error, 1)

	// Start daemon in background goroutine.
	go func() {
		options := &server.Options{
			ConfigPath:    cfgPath,
			ListenAddress: "",
			StateFile:     statePath,
		}

		done <- server.Run(ctx, options)
	}()

	// Wait briefly for daemon to start listening.
	time.Sleep(150 * time.Millisecond)

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

// reservePort returns address on a free TCP port and closes it.
func reservePort(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	_ = l.Close()

	return addr
}

func onOffState(t *testing.T, c *common.Client, id timer.InstanceID) any {
	t.Helper()

	view, err := c.GetInstance(context.Background(), id)
	require.NoError(t, err)

	record, ok := view["record"].(map[string]any)
	require.True(t, ok)

	return record[timer.FieldOnOff]
}

// TestDaemon_Roundtrip drives a timer through the control API and restores it after a restart.
func TestDaemon_Roundtrip(t *testing.T) {
	t.Parallel()

	for _, backend := range []string{config.BackendFile, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			t.Parallel()

			addr := reservePort(t)
			statePath := filepath.Join(t.TempDir(), "state")
			cfg := settings(addr, backend)

			stop := startDaemon(t, cfg, statePath)

			ctx := context.Background()

			// Connect to the test daemon with timeout.
			c, err := common.Dial(ctx, addr,
				common.WithCallTimeout(3*time.Second),
				common.WithCaller(&timer.Caller{Hostname: "test-hostname", Username: "test-user"}))
			require.NoError(t, err)

			defer func() {
				_ = c.Close()
			}()

			views, err := c.ListInstances(ctx)
			require.NoError(t, err)
			require.Len(t, views, 1)
			require.Equal(t, "hall occupied", views[0]["name"])

			// A source update reaches the instance.
			_, err = c.UpdateSource(ctx, timer.SourceDevice, 10, map[string]any{"onOffState": true})
			require.NoError(t, err)

			require.Eventually(t, func() bool {
				return onOffState(t, c, 1) == true
			}, 2*time.Second, 20*time.Millisecond)

			// Forcing off wins until the source changes again.
			require.NoError(t, c.ForceOff(ctx, 1))

			require.Eventually(t, func() bool {
				return onOffState(t, c, 1) == false
			}, 2*time.Second, 20*time.Millisecond)

			require.NoError(t, c.ForceOn(ctx, 1))

			require.Eventually(t, func() bool {
				return onOffState(t, c, 1) == true
			}, 2*time.Second, 20*time.Millisecond)

			stop()

			// Verify state was persisted to disk.
			_, err = os.Stat(statePath)
			require.NoError(t, err)

			// The restarted daemon restores the record.
			stop = startDaemon(t, cfg, statePath)
			defer stop()

			restarted, err := common.Dial(ctx, addr, common.WithCallTimeout(3*time.Second))
			require.NoError(t, err)

			defer func() {
				_ = restarted.Close()
			}()

			view, err := restarted.GetInstance(ctx, 1)
			require.NoError(t, err)
			require.Equal(t, "hall occupied", view["name"])
		})
	}
}
