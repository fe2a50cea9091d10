package policy

import (
	"context"
	"time"

	"github.com/oshokin/timed-devices/internal/domain/timer"
	"github.com/oshokin/timed-devices/internal/logger"
	"github.com/oshokin/timed-devices/internal/timemath"
)

// Activity turns on once enough positive inputs arrive within the reset window
// and stays on for the off delay after the last qualifying input.
type Activity struct {
	common

	threshold  int64
	extend     bool
	resetDelta float64
	offDelta   float64

	count     int64
	reset     bool
	expired   bool
	resetTime float64
	offTime   float64
}

// NewActivity creates an activity policy.
func NewActivity(inst *timer.Instance, loc *time.Location) *Activity {
	return &Activity{
		common:     common{loc: loc},
		threshold:  threshold(inst),
		extend:     inst.Extend,
		resetDelta: timemath.Seconds(inst.Reset),
		offDelta:   timemath.Seconds(inst.Off),
	}
}

// Init applies the deadlines that passed while the instance was not running.
func (a *Activity) Init(ctx context.Context, now float64, _ Seed) Effect {
	a.Tick(ctx, now)

	return changed()
}

// Tick clears the count after the reset window and turns off after the off delay.
func (a *Activity) Tick(ctx context.Context, now float64) Effect {
	var effect Effect

	if a.count > 0 && now >= a.resetTime {
		a.count = 0
		a.reset = true
		effect = changed()

		logger.DebugKV(ctx, "Reset deadline passed", "on", a.on, "count", a.count)
	}

	if a.on && now >= a.offTime {
		a.on = false
		a.expired = true
		effect = changed()

		logger.DebugKV(ctx, "Off deadline passed", "on", a.on, "count", a.count)
	}

	return effect
}

// Input counts a positive input, negative inputs are ignored.
func (a *Activity) Input(ctx context.Context, now float64, value bool) Effect {
	if !value {
		logger.DebugKV(ctx, "Negative input ignored", "on", a.on, "count", a.count)
		return Effect{}
	}

	a.count++
	a.resetTime = now + a.resetDelta

	switch {
	case a.count >= a.threshold:
		a.on = true
		a.offTime = now + a.offDelta
	case a.on && a.extend:
		a.offTime = now + a.offDelta
	}

	logger.DebugKV(ctx, "Input applied",
		"input", value, "on", a.on, "count", a.count, "reset", a.reset, "expired", a.expired)

	return changed()
}

// ForceOn turns the instance on for the off delay.
func (a *Activity) ForceOn(_ context.Context, now float64) Effect {
	a.on = true
	a.offTime = now + a.offDelta

	return changed()
}

// ForceOff clears the count and turns the instance off.
func (a *Activity) ForceOff(_ context.Context, now float64) Effect {
	if a.count > 0 {
		a.count = 0
		a.resetTime = now
	}

	if a.on {
		a.on = false
		a.offTime = now
	}

	return changed()
}

func (a *Activity) state() string {
	switch {
	case a.on && (a.count >= a.threshold || (a.count > 0 && a.extend)):
		return StateActive
	case a.on:
		return StatePersist
	case a.count > 0:
		return StateAccrue
	default:
		return StateIdle
	}
}

// Derive renders the record.
func (a *Activity) Derive(now float64, showTimer bool) timer.Fields {
	if a.on {
		a.expired = false
	}

	if a.count > 0 {
		a.reset = false
	}

	state := a.state()
	display := state

	if showTimer {
		switch state {
		case StateActive, StatePersist:
			display = countdown(a.offTime, now)
		case StateAccrue:
			display = countdown(a.resetTime, now)
		}
	}

	f := a.fields(state, display)
	f[FieldCount] = a.count
	f[FieldCounting] = a.count > 0
	f[FieldReset] = a.reset
	f[FieldExpired] = a.expired
	a.stamp(f, FieldResetTime, FieldResetString, a.resetTime)
	a.stamp(f, FieldOffTime, FieldOffString, a.offTime)

	return f
}

// Restore loads the state from a record.
func (a *Activity) Restore(f timer.Fields) {
	a.on = f.Bool(timer.FieldOnOff)
	a.count = max(f.Int(FieldCount), 0)
	a.reset = f.Bool(FieldReset)
	a.expired = f.Bool(FieldExpired)
	a.resetTime = f.Float(FieldResetTime)
	a.offTime = f.Float(FieldOffTime)
}

// Icon returns the status icon.
func (a *Activity) Icon() timer.Icon {
	return countingIcon(a.state())
}

func countingIcon(state string) timer.Icon {
	switch state {
	case StateActive:
		return timer.IconSensorOn
	case StatePersist:
		return timer.IconTimerOn
	case StateAccrue:
		return timer.IconTimerOff
	default:
		return timer.IconSensorOff
	}
}
