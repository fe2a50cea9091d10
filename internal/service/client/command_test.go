package client

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/timed-devices/internal/domain/timer"
)

var errTestOffline = errors.New("daemon offline")

// fakeController records the calls made by execute.
type fakeController struct {
	// calls lists the invoked methods in order.
	calls []string
	// err is returned by every call when set.
	err error
	// kind and values capture the last source update.
	kind   timer.SourceKind
	values map[string]any
}

func (f *fakeController) ListInstances(context.Context) ([]map[string]any, error) {
	f.calls = append(f.calls, "list")

	return []map[string]any{{"id": float64(1)}}, f.err
}

func (f *fakeController) GetInstance(_ context.Context, id timer.InstanceID) (map[string]any, error) {
	f.calls = append(f.calls, "get")

	return map[string]any{"id": float64(id)}, f.err
}

func (f *fakeController) ForceOn(context.Context, timer.InstanceID) error {
	f.calls = append(f.calls, "force-on")

	return f.err
}

func (f *fakeController) ForceOff(context.Context, timer.InstanceID) error {
	f.calls = append(f.calls, "force-off")

	return f.err
}

func (f *fakeController) UpdateSource(
	_ context.Context,
	kind timer.SourceKind,
	_ int64,
	values map[string]any,
) (map[string]any, error) {
	f.calls = append(f.calls, "update")
	f.kind = kind
	f.values = values

	return map[string]any{"kind": string(kind)}, f.err
}

// TestExecute_Force shows the instance after forcing it.
func TestExecute_Force(t *testing.T) {
	t.Parallel()

	c := &fakeController{}

	result, err := execute(t.Context(), c, &Options{Action: ActionForceOn, InstanceID: 3})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"id": float64(3)}, result)
	require.Equal(t, []string{"force-on", "get"}, c.calls)

	_, err = execute(t.Context(), c, &Options{Action: ActionForceOff, InstanceID: 3})
	require.NoError(t, err)
	require.Equal(t, []string{"force-on", "get", "force-off", "get"}, c.calls)
}

// TestExecute_SetSources sends updates with the matching source kind.
func TestExecute_SetSources(t *testing.T) {
	t.Parallel()

	c := &fakeController{}
	values := map[string]any{"value": "away"}

	_, err := execute(t.Context(), c, &Options{Action: ActionSetVariable, SourceID: 20, Values: values})
	require.NoError(t, err)
	require.Equal(t, timer.SourceVariable, c.kind)
	require.Equal(t, values, c.values)

	_, err = execute(t.Context(), c, &Options{Action: ActionSetDevice, SourceID: 10, Values: values})
	require.NoError(t, err)
	require.Equal(t, timer.SourceDevice, c.kind)
}

// TestExecute_Errors propagates call failures and rejects unknown actions.
func TestExecute_Errors(t *testing.T) {
	t.Parallel()

	c := &fakeController{err: errTestOffline}

	_, err := execute(t.Context(), c, &Options{Action: ActionForceOn, InstanceID: 1})
	require.ErrorIs(t, err, errTestOffline)
	require.Equal(t, []string{"force-on"}, c.calls)

	_, err = execute(t.Context(), c, &Options{Action: "reboot"})
	require.ErrorIs(t, err, errUnknownAction)
}

// TestRender prints results as YAML and nothing for a nil result.
func TestRender(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, render(&buf, nil))
	require.Empty(t, buf.String())

	require.NoError(t, render(&buf, map[string]any{"name": "porch light", "onOffState": true}))
	require.Equal(t, "name: porch light\nonOffState: true\n", buf.String())
}

// TestParseValue keeps booleans and numbers typed.
func TestParseValue(t *testing.T) {
	t.Parallel()

	require.Equal(t, true, ParseValue("true"))
	require.Equal(t, false, ParseValue("false"))
	require.InDelta(t, 21.5, ParseValue("21.5"), 0)
	require.InDelta(t, 1.0, ParseValue("1"), 0)
	require.Equal(t, "away", ParseValue("away"))
}

// TestParseAssignments splits field=value pairs.
func TestParseAssignments(t *testing.T) {
	t.Parallel()

	values, err := ParseAssignments([]string{"onOffState=true", "brightness=40", "label=a=b"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"onOffState": true, "brightness": float64(40), "label": "a=b"}, values)

	_, err = ParseAssignments([]string{"brightness"})
	require.ErrorIs(t, err, errInvalidAssignment)

	_, err = ParseAssignments([]string{"=1"})
	require.ErrorIs(t, err, errInvalidAssignment)
}

// recordingController returns a new record for instance 1 on every third call.
type recordingController struct {
	fakeController

	// gets counts GetInstance calls.
	gets int
}

func (r *recordingController) GetInstance(context.Context, timer.InstanceID) (map[string]any, error) {
	r.gets++

	return map[string]any{"id": float64(1), "record": map[string]any{"version": float64(r.gets / 3)}}, nil
}

// TestWatch prints only views that changed between polls.
func TestWatch(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		c := &recordingController{}

		var buf bytes.Buffer

		done := make(chan error, 1)

		go func() {
			done <- watch(ctx, c, &Options{InstanceID: 1, PollInterval: time.Second}, &buf)
		}()

		// The first poll and five ticks see versions 0, 0, 1, 1, 1, 2.
		time.Sleep(5*time.Second + time.Millisecond)
		synctest.Wait()

		cancel()
		require.NoError(t, <-done)

		require.Equal(t, 6, c.gets)
		require.Equal(t, 3, strings.Count(buf.String(), "version:"))
	})
}
