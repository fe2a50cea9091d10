package policy

import (
	"context"
	"time"

	"github.com/oshokin/timed-devices/internal/domain/timer"
	"github.com/oshokin/timed-devices/internal/logger"
	"github.com/oshokin/timed-devices/internal/timemath"
)

// Lockout follows its source immediately and then ignores it for the on or
// off lock duration. When the lock expires the last input is replayed.
// A zero duration never locks.
type Lockout struct {
	common

	onDelta  float64
	offDelta float64

	lastValue bool
	locked    bool
	onTime    float64
	offTime   float64
}

// NewLockout creates a lockout policy.
func NewLockout(inst *timer.Instance, loc *time.Location) *Lockout {
	return &Lockout{
		common:   common{loc: loc},
		onDelta:  timemath.Seconds(inst.On),
		offDelta: timemath.Seconds(inst.Off),
	}
}

// Init releases an expired lock and applies the current source value.
// Without a readable source the last known value is replayed instead.
func (l *Lockout) Init(ctx context.Context, now float64, seed Seed) Effect {
	l.lastValue = l.on
	effect := l.Tick(ctx, now).Merge(changed())

	if value, ok := seed.first(); ok {
		l.Input(ctx, now, value)

		effect.Replay = false
	}

	return effect
}

// Tick releases the lock once its deadline passes and asks for the last input to be replayed.
func (l *Lockout) Tick(ctx context.Context, now float64) Effect {
	if !l.locked {
		return Effect{}
	}

	deadline := l.offTime
	if l.on {
		deadline = l.onTime
	}

	if now < deadline {
		return Effect{}
	}

	l.locked = false

	logger.DebugKV(ctx, "Lock released", "on", l.on, "replay", l.lastValue)

	return Effect{Changed: true, Replay: true, ReplayValue: l.lastValue}
}

// Input records the value and flips to it when unlocked.
func (l *Lockout) Input(ctx context.Context, now float64, value bool) Effect {
	l.lastValue = value

	effect := Effect{}
	if !l.locked && value != l.on {
		l.flip(now, value)

		effect = changed()
	}

	logger.DebugKV(ctx, "Input applied", "input", value, "on", l.on, "locked", l.locked)

	return effect
}

// ForceOn turns the instance on and locks it, even when a lock is already held.
func (l *Lockout) ForceOn(_ context.Context, now float64) Effect {
	l.flip(now, true)

	return changed()
}

// ForceOff turns the instance off and locks it, even when a lock is already held.
func (l *Lockout) ForceOff(_ context.Context, now float64) Effect {
	l.flip(now, false)

	return changed()
}

func (l *Lockout) flip(now float64, value bool) {
	delta := l.offDelta
	if value {
		delta = l.onDelta
	}

	l.on = value
	l.locked = delta > 0

	if value {
		l.onTime = now + delta
	} else {
		l.offTime = now + delta
	}
}

func (l *Lockout) state() string {
	switch {
	case l.locked:
		return StateLocked
	case l.on:
		return StateOn
	default:
		return StateOff
	}
}

// Derive renders the record.
func (l *Lockout) Derive(now float64, showTimer bool) timer.Fields {
	state := l.state()
	display := state

	if showTimer && l.locked {
		if l.on {
			display = countdown(l.onTime, now)
		} else {
			display = countdown(l.offTime, now)
		}
	}

	f := l.fields(state, display)
	f[FieldLocked] = l.locked
	l.stamp(f, FieldOnTime, FieldOnString, l.onTime)
	l.stamp(f, FieldOffTime, FieldOffString, l.offTime)

	return f
}

// Restore loads the state from a record.
func (l *Lockout) Restore(f timer.Fields) {
	l.on = f.Bool(timer.FieldOnOff)
	l.locked = f.Bool(FieldLocked)
	l.onTime = f.Float(FieldOnTime)
	l.offTime = f.Float(FieldOffTime)
}

// Icon returns the status icon.
func (l *Lockout) Icon() timer.Icon {
	return guardedIcon(l.on, l.locked)
}
