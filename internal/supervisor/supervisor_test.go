package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/timed-devices/internal/domain/timer"
)

var errNoSource = errors.New("no such source")

// memoryHost is a minimal actor.Host keeping everything in maps.
type memoryHost struct {
	// mu guards records and writes.
	mu      sync.Mutex
	records map[timer.InstanceID]timer.Fields
	writes  map[timer.InstanceID]int
}

func newMemoryHost() *memoryHost {
	return &memoryHost{
		records: make(map[timer.InstanceID]timer.Fields),
		writes:  make(map[timer.InstanceID]int),
	}
}

// Source reports every source as missing.
func (h *memoryHost) Source(context.Context, timer.SourceRef) (*timer.Snapshot, error) {
	return nil, errNoSource
}

// Record returns the stored record.
func (h *memoryHost) Record(_ context.Context, id timer.InstanceID) (timer.Fields, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.records[id].Clone(), nil
}

// Publish merges the changes into the stored record.
func (h *memoryHost) Publish(_ context.Context, id timer.InstanceID, changes timer.Fields) (timer.Fields, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.writes[id]++
	h.records[id] = h.records[id].Clone().Merge(changes)

	return h.records[id].Clone(), nil
}

// SetIcon does nothing.
func (h *memoryHost) SetIcon(context.Context, timer.InstanceID, timer.Icon) error {
	return nil
}

func (h *memoryHost) on(id timer.InstanceID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.records[id].Bool(timer.FieldOnOff)
}

func (h *memoryHost) display(id timer.InstanceID) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.records[id].String(timer.FieldDisplay)
}

func follower(id timer.InstanceID, source int64) *timer.Instance {
	return &timer.Instance{
		ID:      id,
		Name:    "follower",
		Kind:    timer.KindPersistence,
		Sources: []timer.SourceRef{{Kind: timer.SourceDevice, ID: source, Field: "onOffState"}},
	}
}

func device(id int64, on bool) *timer.Snapshot {
	return &timer.Snapshot{Kind: timer.SourceDevice, ID: id, Values: map[string]any{"onOffState": on}}
}

// TestStart_Exclusive refuses a second actor for the same instance.
func TestStart_Exclusive(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := New(newMemoryHost(), Options{Location: time.UTC})

		require.NoError(t, s.Start(t.Context(), follower(1, 10)))
		require.ErrorIs(t, s.Start(t.Context(), follower(1, 11)), ErrAlreadyRunning)
		require.Equal(t, 1, s.Len())

		require.NoError(t, s.StopAll(t.Context()))
		require.Zero(t, s.Len())
	})
}

// TestStart_UnknownKind does not register an actor that cannot be built.
func TestStart_UnknownKind(t *testing.T) {
	t.Parallel()

	s := New(newMemoryHost(), Options{})

	require.Error(t, s.Start(t.Context(), &timer.Instance{ID: 1, Kind: "sprinkler"}))
	require.Zero(t, s.Len())
}

// TestNotRunning reports unknown instances.
func TestNotRunning(t *testing.T) {
	t.Parallel()

	s := New(newMemoryHost(), Options{})

	require.ErrorIs(t, s.Stop(t.Context(), 5), ErrNotRunning)
	require.ErrorIs(t, s.ForceOn(5), ErrNotRunning)
	require.ErrorIs(t, s.ForceOff(5), ErrNotRunning)

	_, err := s.Instance(5)
	require.ErrorIs(t, err, ErrNotRunning)
}

// TestSourceChanged_Routing delivers a notification only to the actors tracking the source.
func TestSourceChanged_Routing(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		host := newMemoryHost()
		s := New(host, Options{Location: time.UTC})

		require.NoError(t, s.Start(t.Context(), follower(1, 10)))
		require.NoError(t, s.Start(t.Context(), follower(2, 10)))
		require.NoError(t, s.Start(t.Context(), follower(3, 20)))
		synctest.Wait()

		s.SourceChanged(device(10, false), device(10, true))
		s.SourceChanged(nil, nil)
		synctest.Wait()

		require.True(t, host.on(1))
		require.True(t, host.on(2))
		require.False(t, host.on(3))

		// A stopped actor no longer receives notifications for its source.
		require.NoError(t, s.Stop(t.Context(), 2))
		s.SourceChanged(device(10, true), device(10, false))
		synctest.Wait()

		require.False(t, host.on(1))
		require.True(t, host.on(2))

		require.NoError(t, s.StopAll(t.Context()))
	})
}

// TestForce reaches the actor through the supervisor.
func TestForce(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		host := newMemoryHost()
		s := New(host, Options{Location: time.UTC})

		require.NoError(t, s.Start(t.Context(), follower(1, 10)))

		require.NoError(t, s.ForceOn(1))
		synctest.Wait()
		require.True(t, host.on(1))

		require.NoError(t, s.ForceOff(1))
		synctest.Wait()
		require.False(t, host.on(1))

		require.NoError(t, s.StopAll(t.Context()))
	})
}

// TestReconcile stops removed instances, restarts changed ones and starts new ones.
func TestReconcile(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		host := newMemoryHost()
		s := New(host, Options{Location: time.UTC})

		require.NoError(t, s.Reconcile(t.Context(), []*timer.Instance{follower(1, 10), follower(2, 20)}))
		require.Equal(t, 2, s.Len())

		renamed := follower(2, 20)
		renamed.Name = "renamed"

		require.NoError(t, s.Reconcile(t.Context(), []*timer.Instance{renamed, follower(3, 30)}))

		instances := s.Instances()
		require.Len(t, instances, 2)
		require.Equal(t, timer.InstanceID(2), instances[0].ID)
		require.Equal(t, "renamed", instances[0].Name)
		require.Equal(t, timer.InstanceID(3), instances[1].ID)

		// The restarted instance follows its source again.
		s.SourceChanged(device(20, false), device(20, true))
		synctest.Wait()
		require.True(t, host.on(2))

		// Unchanged instances are left alone.
		host.mu.Lock()
		writes := host.writes[3]
		host.mu.Unlock()

		require.NoError(t, s.Reconcile(t.Context(), []*timer.Instance{renamed, follower(3, 30)}))
		synctest.Wait()

		host.mu.Lock()
		require.Equal(t, writes, host.writes[3])
		host.mu.Unlock()

		require.NoError(t, s.StopAll(t.Context()))
	})
}

// TestHeartbeat ticks every actor once per interval.
func TestHeartbeat(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		host := newMemoryHost()
		s := New(host, Options{Location: time.UTC, ShowTimer: true})

		require.NoError(t, s.Start(t.Context(), &timer.Instance{
			ID: 1, Name: "watchdog", Kind: timer.KindAlive,
			Off: timer.Duration{Cycles: 10, Unit: timer.UnitSeconds},
		}))

		require.NoError(t, s.ForceOn(1))
		synctest.Wait()
		require.Equal(t, "0:00:10", host.display(1))

		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan struct{})

		go func() {
			s.RunHeartbeat(ctx, time.Second)
			close(done)
		}()

		time.Sleep(3 * time.Second)
		synctest.Wait()
		require.Equal(t, "0:00:07", host.display(1))

		time.Sleep(7 * time.Second)
		synctest.Wait()
		require.False(t, host.on(1))

		cancel()
		<-done

		require.NoError(t, s.StopAll(t.Context()))
	})
}

// TestStop_ContextDone gives up waiting when the caller's context ends and still tears the actor down.
func TestStop_ContextDone(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := New(newMemoryHost(), Options{Location: time.UTC})

		require.NoError(t, s.Start(t.Context(), follower(1, 10)))
		synctest.Wait()

		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		err := s.Stop(ctx, 1)
		if err != nil {
			require.ErrorIs(t, err, context.Canceled)
		}

		require.Zero(t, s.Len())
	})
}

// TestReconfigure restarts running actors when a runtime option changes and
// leaves them alone otherwise.
func TestReconfigure(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		host := newMemoryHost()
		s := New(host, Options{Location: time.UTC})

		require.NoError(t, s.Start(t.Context(), &timer.Instance{
			ID: 1, Name: "watchdog", Kind: timer.KindAlive,
			Off: timer.Duration{Cycles: 10, Unit: timer.UnitSeconds},
		}))

		require.NoError(t, s.ForceOn(1))
		synctest.Wait()
		require.Equal(t, "on", host.display(1))

		time.Sleep(2 * time.Second)

		opts := s.Options()
		opts.ShowTimer = true

		require.NoError(t, s.Reconfigure(t.Context(), opts))
		synctest.Wait()
		require.True(t, s.Options().ShowTimer)
		require.Equal(t, 1, s.Len())
		require.True(t, host.on(1))
		require.Equal(t, "0:00:08", host.display(1))

		// Same runtime options, nothing restarts.
		host.mu.Lock()
		writes := host.writes[1]
		host.mu.Unlock()

		require.NoError(t, s.Reconfigure(t.Context(), opts))
		synctest.Wait()

		host.mu.Lock()
		require.Equal(t, writes, host.writes[1])
		host.mu.Unlock()

		require.NoError(t, s.StopAll(t.Context()))
	})
}
