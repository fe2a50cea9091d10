package supervisor

import (
	"context"
	"time"

	"github.com/oshokin/timed-devices/internal/logger"
)

// DefaultTickInterval is the heartbeat resolution.
const DefaultTickInterval = time.Second

// RunHeartbeat ticks every actor on a fixed schedule until ctx is done.
// Tick n is due at start + n*interval, so a slow tick does not shift the ones
// after it. When the schedule falls more than one interval behind, the missed
// ticks are skipped rather than delivered in a burst.
func (s *Supervisor) RunHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	ctx = logger.WithName(ctx, "heartbeat")

	// The clock and metrics are fixed for the life of the heartbeat.
	opts := s.Options()

	var (
		start = opts.Clock.Now()
		n     = int64(1)
	)

	logger.DebugKV(ctx, "Heartbeat started", "interval", interval.String())

	for {
		next := start.Add(time.Duration(n) * interval)

		wait := time.NewTimer(next.Sub(opts.Clock.Now()))

		select {
		case <-ctx.Done():
			wait.Stop()
			logger.Debug(ctx, "Heartbeat stopped")

			return
		case <-wait.C:
		}

		s.Tick()

		n++

		// Skip ahead when the next due tick is already in the past by more than one interval.
		behind := opts.Clock.Now().Sub(start.Add(time.Duration(n) * interval))
		if behind < interval {
			continue
		}

		skipped := int64(behind / interval)
		n += skipped

		logger.WarnKV(ctx, "Heartbeat fell behind, skipping ticks", "skipped", skipped)

		if opts.Metrics != nil {
			opts.Metrics.TicksSkipped(int(skipped))
		}
	}
}
