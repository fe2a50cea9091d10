package policy

import (
	"context"
	"time"

	"github.com/oshokin/timed-devices/internal/domain/timer"
	"github.com/oshokin/timed-devices/internal/logger"
	"github.com/oshokin/timed-devices/internal/timemath"
)

// Threshold is on while at least threshold tracked sources are true,
// then persists for the off delay once the count drops below it.
type Threshold struct {
	common

	threshold int64
	tracked   int64
	offDelta  float64

	count     int64
	expired   bool
	resetTime float64
	offTime   float64
}

// NewThreshold creates a threshold policy.
func NewThreshold(inst *timer.Instance, loc *time.Location) *Threshold {
	return &Threshold{
		common:    common{loc: loc},
		threshold: threshold(inst),
		tracked:   int64(len(inst.Tracked())),
		offDelta:  timemath.Seconds(inst.Off),
	}
}

// Init counts the sources that are true now.
func (t *Threshold) Init(ctx context.Context, now float64, seed Seed) Effect {
	t.count = 0

	for _, input := range seed.Inputs {
		if input {
			t.count++
		}
	}

	t.count = min(t.count, t.tracked)

	if t.count >= t.threshold || now < t.offTime {
		t.on = true
	}

	logger.DebugKV(ctx, "Initial count", "count", t.count, "on", t.on)

	return changed()
}

// Tick turns off once the persist delay has passed.
func (t *Threshold) Tick(ctx context.Context, now float64) Effect {
	if t.state() != StatePersist || now < t.offTime {
		return Effect{}
	}

	t.on = false
	t.expired = true

	logger.DebugKV(ctx, "Off deadline passed", "on", t.on, "count", t.count)

	return changed()
}

// Input moves the count of true sources.
func (t *Threshold) Input(ctx context.Context, now float64, value bool) Effect {
	if value {
		t.count++
		if t.count > t.tracked {
			logger.WarnKV(ctx, "Count out of sync", "count", t.count, "max", t.tracked)

			t.count = t.tracked
		}

		if t.count >= t.threshold {
			t.on = true
		}
	} else {
		wasActive := t.state() == StateActive

		t.count--
		if t.count < 0 {
			logger.WarnKV(ctx, "Count out of sync", "count", t.count, "max", t.tracked)

			t.count = 0
		}

		if wasActive && t.count < t.threshold {
			t.offTime = now + t.offDelta
		}
	}

	logger.DebugKV(ctx, "Input applied", "input", value, "on", t.on, "count", t.count, "expired", t.expired)

	return changed()
}

// ForceOn turns the instance on for the off delay.
func (t *Threshold) ForceOn(_ context.Context, now float64) Effect {
	t.on = true
	t.offTime = now + t.offDelta

	return changed()
}

// ForceOff clears the count and turns the instance off.
func (t *Threshold) ForceOff(_ context.Context, now float64) Effect {
	t.count = 0

	if t.on {
		t.on = false
		t.offTime = now
	}

	return changed()
}

func (t *Threshold) state() string {
	switch {
	case t.on && t.count >= t.threshold:
		return StateActive
	case t.on:
		return StatePersist
	case t.count > 0:
		return StateAccrue
	default:
		return StateIdle
	}
}

// Derive renders the record.
func (t *Threshold) Derive(now float64, showTimer bool) timer.Fields {
	if t.on {
		t.expired = false
	}

	state := t.state()
	display := state

	if showTimer && state == StatePersist {
		display = countdown(t.offTime, now)
	}

	f := t.fields(state, display)
	f[FieldCount] = t.count
	f[FieldCounting] = t.count > 0
	f[FieldExpired] = t.expired
	t.stamp(f, FieldResetTime, FieldResetString, t.resetTime)
	t.stamp(f, FieldOffTime, FieldOffString, t.offTime)

	return f
}

// Restore loads the state from a record.
func (t *Threshold) Restore(f timer.Fields) {
	t.on = f.Bool(timer.FieldOnOff)
	t.count = min(max(f.Int(FieldCount), 0), t.tracked)
	t.expired = f.Bool(FieldExpired)
	t.resetTime = f.Float(FieldResetTime)
	t.offTime = f.Float(FieldOffTime)
}

// Icon returns the status icon.
func (t *Threshold) Icon() timer.Icon {
	return countingIcon(t.state())
}
