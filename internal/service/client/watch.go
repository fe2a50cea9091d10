package client

import (
	"context"
	"io"
	"reflect"
	"time"

	"github.com/oshokin/timed-devices/internal/logger"
)

// DefaultPollInterval defines the polling interval of watch.
const DefaultPollInterval = time.Second

// watch polls the daemon and prints every instance whose view changed since
// the previous poll. A zero InstanceID watches all instances.
func watch(ctx context.Context, c controller, opts *Options, out io.Writer) error {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	seen := make(map[any]map[string]any)

	// Print the current state before waiting for the first tick.
	poll(ctx, c, opts, out, seen)

	// Setup polling ticker with fixed interval.
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Main polling loop until context cancellation.
	for {
		select {
		case <-ctx.Done():
			logger.Debug(ctx, "Context canceled, exiting")
			return nil
		case <-ticker.C:
			poll(ctx, c, opts, out, seen)
		}
	}
}

// poll fetches the watched views and renders the ones that changed.
// Failures are logged so that a restarting daemon does not end the watch.
func poll(ctx context.Context, c controller, opts *Options, out io.Writer, seen map[any]map[string]any) {
	var views []map[string]any

	if opts.InstanceID != 0 {
		view, err := c.GetInstance(ctx, opts.InstanceID)
		if err != nil {
			logger.ErrorKV(ctx, "Get instance failed", "error", err)
			return
		}

		views = []map[string]any{view}
	} else {
		var err error

		views, err = c.ListInstances(ctx)
		if err != nil {
			logger.ErrorKV(ctx, "List instances failed", "error", err)
			return
		}
	}

	for _, view := range views {
		id := view["id"]
		if reflect.DeepEqual(seen[id], view) {
			continue
		}

		seen[id] = view

		if err := render(out, view); err != nil {
			logger.ErrorKV(ctx, "Render failed", "error", err)
		}
	}
}
