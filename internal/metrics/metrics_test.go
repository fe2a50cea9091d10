package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/timed-devices/internal/domain/timer"
)

type fakeRuntime struct {
	running int
	backlog int
}

func (f fakeRuntime) Len() int     { return f.running }
func (f fakeRuntime) Backlog() int { return f.backlog }

// TestCollector counts per policy and task.
func TestCollector(t *testing.T) {
	t.Parallel()

	c := New(prometheus.NewRegistry())

	c.TaskHandled(timer.KindLockout, "tick")
	c.TaskHandled(timer.KindLockout, "tick")
	c.TaskFailed(timer.KindLockout, "input")
	c.FieldsPublished(timer.KindRunning, 7)
	c.ActorStarted(timer.KindAlive)
	c.ActorStopped(timer.KindAlive)
	c.TicksSkipped(3)

	require.InDelta(t, 2, testutil.ToFloat64(c.tasksHandled.WithLabelValues("lockout", "tick")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(c.tasksFailed.WithLabelValues("lockout", "input")), 0)
	require.InDelta(t, 7, testutil.ToFloat64(c.fieldsPublished.WithLabelValues("running")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(c.actorsStarted.WithLabelValues("alive")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(c.actorsStopped.WithLabelValues("alive")), 0)
	require.InDelta(t, 3, testutil.ToFloat64(c.ticksSkipped), 0)
}

// TestHandler serves the runtime gauges.
func TestHandler(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	New(reg)
	RegisterRuntime(reg, fakeRuntime{running: 4, backlog: 2}, map[string]string{"version": "v1.2.3"})

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	require.Contains(t, text, "timed_devices_actors_running 4")
	require.Contains(t, text, "timed_devices_actor_backlog_tasks 2")
	require.Contains(t, text, `timed_devices_build_info{version="v1.2.3"} 1`)
}
