package policy

import (
	"context"
	"time"

	"github.com/oshokin/timed-devices/internal/domain/timer"
	"github.com/oshokin/timed-devices/internal/logger"
	"github.com/oshokin/timed-devices/internal/timemath"
)

// Alive is a watchdog: every notification from the source turns it on,
// and it turns off once no notification arrived for the off delay.
type Alive struct {
	common

	offDelta float64
	offTime  float64
}

// NewAlive creates an alive policy.
func NewAlive(inst *timer.Instance, loc *time.Location) *Alive {
	return &Alive{
		common:   common{loc: loc},
		offDelta: timemath.Seconds(inst.Off),
	}
}

// Init derives the state from the device's last change. Variables report no
// last change, so the restored state is kept for them.
func (a *Alive) Init(ctx context.Context, now float64, seed Seed) Effect {
	if seed.LastChanged > 0 {
		a.offTime = seed.LastChanged + a.offDelta
		a.on = now < a.offTime
	}

	a.Tick(ctx, now)

	return changed()
}

// Tick turns off after the off delay.
func (a *Alive) Tick(ctx context.Context, now float64) Effect {
	if !a.on || now < a.offTime {
		return Effect{}
	}

	a.on = false

	logger.DebugKV(ctx, "Off deadline passed", "on", a.on)

	return changed()
}

// Input treats any notification as a sign of life.
func (a *Alive) Input(ctx context.Context, now float64, value bool) Effect {
	a.on = true
	a.offTime = now + a.offDelta

	logger.DebugKV(ctx, "Input applied", "input", value, "on", a.on)

	return changed()
}

// ForceOn turns the instance on for the off delay.
func (a *Alive) ForceOn(_ context.Context, now float64) Effect {
	a.on = true
	a.offTime = now + a.offDelta

	return changed()
}

// ForceOff turns the instance off.
func (a *Alive) ForceOff(_ context.Context, now float64) Effect {
	a.on = false
	a.offTime = now

	return changed()
}

// Derive renders the record.
func (a *Alive) Derive(now float64, showTimer bool) timer.Fields {
	state := StateOff
	display := state

	if a.on {
		state = StateOn
		display = state

		if showTimer {
			display = countdown(a.offTime, now)
		}
	}

	f := a.fields(state, display)
	a.stamp(f, FieldOffTime, FieldOffString, a.offTime)

	return f
}

// Restore loads the state from a record.
func (a *Alive) Restore(f timer.Fields) {
	a.on = f.Bool(timer.FieldOnOff)
	a.offTime = f.Float(FieldOffTime)
}

// Icon returns the status icon.
func (a *Alive) Icon() timer.Icon {
	if a.on {
		return timer.IconTimerOn
	}

	return timer.IconSensorOff
}
