package policy

import (
	"context"
	"time"

	"github.com/oshokin/timed-devices/internal/domain/timer"
	"github.com/oshokin/timed-devices/internal/logger"
	"github.com/oshokin/timed-devices/internal/timemath"
)

// Persistence follows its source only after the new value has held for the
// on or off delay. A zero delay flips immediately.
type Persistence struct {
	common

	onDelta  float64
	offDelta float64

	pending bool
	onTime  float64
	offTime float64
}

// NewPersistence creates a persistence policy.
func NewPersistence(inst *timer.Instance, loc *time.Location) *Persistence {
	return &Persistence{
		common:   common{loc: loc},
		onDelta:  timemath.Seconds(inst.On),
		offDelta: timemath.Seconds(inst.Off),
	}
}

// Init commits a pending flip whose deadline passed and then applies the current source value.
func (p *Persistence) Init(ctx context.Context, now float64, seed Seed) Effect {
	p.Tick(ctx, now)

	if value, ok := seed.first(); ok {
		p.Input(ctx, now, value)
	}

	return changed()
}

// Tick commits the pending flip once its deadline passes.
func (p *Persistence) Tick(ctx context.Context, now float64) Effect {
	if !p.pending {
		return Effect{}
	}

	switch {
	case p.on && now >= p.offTime:
		p.on = false
	case !p.on && now >= p.onTime:
		p.on = true
	default:
		return Effect{}
	}

	p.pending = false

	logger.DebugKV(ctx, "Pending flip committed", "on", p.on)

	return changed()
}

// Input queues a flip towards value, or cancels the pending one when value matches the current state.
func (p *Persistence) Input(ctx context.Context, now float64, value bool) Effect {
	switch {
	case value == p.on:
		p.pending = false
	case p.on && p.offDelta > 0:
		p.pending = true
		p.offTime = now + p.offDelta
	case p.on:
		p.on = false
		p.offTime = now
	case p.onDelta > 0:
		p.pending = true
		p.onTime = now + p.onDelta
	default:
		p.on = true
		p.onTime = now
	}

	logger.DebugKV(ctx, "Input applied", "input", value, "on", p.on, "pending", p.pending)

	return changed()
}

// ForceOn turns the instance on immediately.
func (p *Persistence) ForceOn(_ context.Context, now float64) Effect {
	p.on = true
	p.pending = false
	p.onTime = now

	return changed()
}

// ForceOff turns the instance off immediately.
func (p *Persistence) ForceOff(_ context.Context, now float64) Effect {
	p.on = false
	p.pending = false
	p.offTime = now

	return changed()
}

func (p *Persistence) state() string {
	switch {
	case p.pending:
		return StatePending
	case p.on:
		return StateOn
	default:
		return StateOff
	}
}

// Derive renders the record.
func (p *Persistence) Derive(now float64, showTimer bool) timer.Fields {
	state := p.state()
	display := state

	if showTimer && p.pending {
		if p.on {
			display = countdown(p.offTime, now)
		} else {
			display = countdown(p.onTime, now)
		}
	}

	f := p.fields(state, display)
	f[FieldPending] = p.pending
	p.stamp(f, FieldOnTime, FieldOnString, p.onTime)
	p.stamp(f, FieldOffTime, FieldOffString, p.offTime)

	return f
}

// Restore loads the state from a record.
func (p *Persistence) Restore(f timer.Fields) {
	p.on = f.Bool(timer.FieldOnOff)
	p.pending = f.Bool(FieldPending)
	p.onTime = f.Float(FieldOnTime)
	p.offTime = f.Float(FieldOffTime)
}

// Icon returns the status icon.
func (p *Persistence) Icon() timer.Icon {
	return guardedIcon(p.on, p.pending)
}

// guardedIcon is the icon of policies that hold a flip back, pending or locked.
func guardedIcon(on, held bool) timer.Icon {
	switch {
	case held && on:
		return timer.IconTimerOn
	case held:
		return timer.IconTimerOff
	case on:
		return timer.IconSensorOn
	default:
		return timer.IconSensorOff
	}
}
