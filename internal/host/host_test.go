package host

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/timed-devices/internal/domain/timer"
	"github.com/oshokin/timed-devices/internal/repository/state"
)

// fixedClock always tells the same time.
type fixedClock struct {
	now time.Time
}

// Now implements actor.Clock.
func (c fixedClock) Now() time.Time {
	return c.now
}

var noon = time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

func newHost(t *testing.T) *Host {
	t.Helper()

	return New(state.NewFileRepository(filepath.Join(t.TempDir(), "state.json")), fixedClock{now: noon})
}

// TestUpdate_NotifiesListeners passes the state before and after every update to listeners.
func TestUpdate_NotifiesListeners(t *testing.T) {
	t.Parallel()

	h := newHost(t)
	require.NoError(t, h.Register(timer.SourceDevice, 1, "door", map[string]any{"onOffState": false}))

	var (
		mu    sync.Mutex
		calls [][2]*timer.Snapshot
	)

	h.Subscribe(func(before, after *timer.Snapshot) {
		mu.Lock()
		defer mu.Unlock()

		calls = append(calls, [2]*timer.Snapshot{before, after})
	})

	after, err := h.Update(context.Background(), timer.SourceDevice, 1, map[string]any{"onOffState": true})
	require.NoError(t, err)
	require.Equal(t, noon, after.LastChanged)

	// An update that changes nothing still notifies, but keeps the last change time.
	_, err = h.Update(context.Background(), timer.SourceDevice, 1, map[string]any{"onOffState": true})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, calls, 2)
	require.Equal(t, false, calls[0][0].Values["onOffState"])
	require.Equal(t, true, calls[0][1].Values["onOffState"])
	require.Equal(t, "door", calls[1][1].Name)
}

// TestUpdate_Validation rejects unknown sources and variable fields other than value.
func TestUpdate_Validation(t *testing.T) {
	t.Parallel()

	h := newHost(t)

	_, err := h.Update(context.Background(), timer.SourceDevice, 5, map[string]any{"x": 1})
	require.ErrorIs(t, err, ErrUnknownSource)

	require.ErrorIs(t, h.Register(timer.SourceVariable, 1, "mode", map[string]any{"level": 1}), ErrVariableField)
	require.ErrorIs(t, h.Register("scene", 1, "evening", nil), ErrInvalidSource)

	_, err = h.Snapshot(timer.SourceVariable, 1)
	require.ErrorIs(t, err, ErrUnknownSource)
}

// TestSources lists every source ordered by kind and ID.
func TestSources(t *testing.T) {
	t.Parallel()

	h := newHost(t)
	require.NoError(t, h.Register(timer.SourceVariable, 2, "mode", map[string]any{"value": "away"}))
	require.NoError(t, h.Register(timer.SourceDevice, 9, "pump", nil))
	require.NoError(t, h.Register(timer.SourceDevice, 3, "door", nil))

	sources := h.Sources()
	require.Len(t, sources, 3)
	require.Equal(t, int64(3), sources[0].ID)
	require.Equal(t, int64(9), sources[1].ID)
	require.Equal(t, timer.SourceVariable, sources[2].Kind)
}

// TestRecords publishes, reads back and forgets instance records.
func TestRecords(t *testing.T) {
	t.Parallel()

	h := newHost(t)
	ctx := context.Background()

	record, err := h.Record(ctx, 4)
	require.NoError(t, err)
	require.Empty(t, record)

	record, err = h.Publish(ctx, 4, timer.Fields{timer.FieldOnOff: true})
	require.NoError(t, err)
	require.True(t, record.Bool(timer.FieldOnOff))

	require.NoError(t, h.SetIcon(ctx, 4, timer.IconTimerOn))

	record, err = h.Record(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, string(timer.IconTimerOn), record.String(timer.FieldIcon))

	require.NoError(t, h.Forget(ctx, 4))

	record, err = h.Record(ctx, 4)
	require.NoError(t, err)
	require.Empty(t, record)
}

// TestUpdate_KeepsWriteOrder delivers the updates of one source in the order
// they were written, even when a listener is slow.
func TestUpdate_KeepsWriteOrder(t *testing.T) {
	t.Parallel()

	h := newHost(t)
	require.NoError(t, h.Register(timer.SourceDevice, 1, "door", map[string]any{"onOffState": false}))

	var (
		mu    sync.Mutex
		seen  []bool
		first = true
	)

	entered := make(chan struct{})
	release := make(chan struct{})

	h.Subscribe(func(_, after *timer.Snapshot) {
		mu.Lock()
		block := first
		first = false
		mu.Unlock()

		if block {
			close(entered)
			<-release
		}

		mu.Lock()
		seen = append(seen, after.Values["onOffState"].(bool)) //nolint:forcetypeassert // Set by this test.
		mu.Unlock()
	})

	ctx := context.Background()
	done := make(chan struct{}, 2)

	go func() {
		_, _ = h.Update(ctx, timer.SourceDevice, 1, map[string]any{"onOffState": true})
		done <- struct{}{}
	}()

	<-entered

	go func() {
		_, _ = h.Update(ctx, timer.SourceDevice, 1, map[string]any{"onOffState": false})
		done <- struct{}{}
	}()

	// The second write waits for the first notification to be delivered.
	require.Never(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(seen) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(release)
	<-done
	<-done

	snapshot, err := h.Snapshot(timer.SourceDevice, 1)
	require.NoError(t, err)
	require.Equal(t, false, snapshot.Values["onOffState"])

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, []bool{true, false}, seen)
}

// TestPublish_MirrorsInstance exposes a published record as the device of the
// instance and notifies listeners, so instances can track each other.
func TestPublish_MirrorsInstance(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	h := New(state.NewFileRepository(path), fixedClock{now: noon})
	ctx := context.Background()

	var (
		mu    sync.Mutex
		calls [][2]*timer.Snapshot
	)

	h.Subscribe(func(before, after *timer.Snapshot) {
		mu.Lock()
		defer mu.Unlock()

		calls = append(calls, [2]*timer.Snapshot{before, after})
	})

	_, err := h.Publish(ctx, 4, timer.Fields{timer.FieldOnOff: false, timer.FieldState: "off"})
	require.NoError(t, err)

	_, err = h.Publish(ctx, 4, timer.Fields{timer.FieldOnOff: true, timer.FieldState: "on"})
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, calls, 2)
	require.Empty(t, calls[0][0].Values)
	require.Equal(t, timer.SourceDevice, calls[1][1].Kind)
	require.Equal(t, int64(4), calls[1][1].ID)
	require.Equal(t, false, calls[1][0].Values[timer.FieldOnOff])
	require.Equal(t, true, calls[1][1].Values[timer.FieldOnOff])
	require.Equal(t, noon, calls[1][1].LastChanged)
	mu.Unlock()

	ref := timer.SourceRef{Kind: timer.SourceDevice, ID: 4, Field: timer.FieldOnOff}

	snapshot, err := h.Source(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, "on", snapshot.Values[timer.FieldState])

	// A fresh host reads the instance from its persisted record.
	restarted := New(state.NewFileRepository(path), fixedClock{now: noon})

	snapshot, err = restarted.Source(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, true, snapshot.Values[timer.FieldOnOff])

	require.NoError(t, h.Forget(ctx, 4))

	_, err = h.Snapshot(timer.SourceDevice, 4)
	require.ErrorIs(t, err, ErrUnknownSource)
}
