package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/timed-devices/internal/domain/timer"
	"github.com/oshokin/timed-devices/internal/timemath"
)

// ErrUnknownKind is returned by New for an unsupported policy kind.
var ErrUnknownKind = errors.New("unknown policy kind")

// Symbolic state names.
const (
	StateIdle    = "idle"
	StateAccrue  = "accrue"
	StatePersist = "persist"
	StateActive  = "active"
	StateOn      = "on"
	StateOff     = "off"
	StatePending = "pending"
	StateLocked  = "locked"
)

// Policy-specific record fields.
const (
	FieldCount       = "count"
	FieldCounting    = "counting"
	FieldReset       = "reset"
	FieldExpired     = "expired"
	FieldPending     = "pending"
	FieldLocked      = "locked"
	FieldResetTime   = "resetTime"
	FieldResetString = "resetString"
	FieldOffTime     = "offTime"
	FieldOffString   = "offString"
	FieldOnTime      = "onTime"
	FieldOnString    = "onString"
	FieldSpanRecord  = "spanRecord"
)

// Effect tells the actor what a transition did.
type Effect struct {
	// Changed is set when the shadow state changed and must be published.
	Changed bool
	// Replay asks the actor to enqueue Input(ReplayValue) behind the current task.
	Replay bool
	// ReplayValue is the input to replay.
	ReplayValue bool
}

// Merge combines two effects, the later replay request wins.
func (e Effect) Merge(other Effect) Effect {
	e.Changed = e.Changed || other.Changed
	if other.Replay {
		e.Replay = true
		e.ReplayValue = other.ReplayValue
	}

	return e
}

func changed() Effect {
	return Effect{Changed: true}
}

// Seed is what the actor knows about its tracked sources at start.
type Seed struct {
	// Inputs holds the evaluated current value of every tracked source that could be read,
	// in configuration order.
	Inputs []bool
	// LastChanged is when the first tracked device last changed, in epoch seconds.
	// Zero when unknown, which is always the case for variables.
	LastChanged float64
}

func (s Seed) first() (bool, bool) {
	if len(s.Inputs) == 0 {
		return false, false
	}

	return s.Inputs[0], true
}

// Policy is the capability every timer state machine provides.
// Methods are called from a single goroutine only.
type Policy interface {
	// Init synthesizes the initial state after Restore, using what the sources report now.
	Init(ctx context.Context, now float64, seed Seed) Effect
	// Tick evaluates deadlines.
	Tick(ctx context.Context, now float64) Effect
	// Input applies one evaluated source input.
	Input(ctx context.Context, now float64, value bool) Effect
	// ForceOn turns the instance on regardless of its sources.
	ForceOn(ctx context.Context, now float64) Effect
	// ForceOff turns the instance off regardless of its sources.
	ForceOff(ctx context.Context, now float64) Effect
	// Derive renders the complete record, with a countdown display when showTimer is set.
	Derive(now float64, showTimer bool) timer.Fields
	// Restore loads the state from a published record. Missing fields keep their zero value.
	Restore(fields timer.Fields)
	// Icon returns the status icon of the current state.
	Icon() timer.Icon
}

// New builds the policy configured by inst. Calendar buckets and
// timestamp strings use loc, or the local zone when loc is nil.
//
//nolint:ireturn // Callers only know the policy through its interface.
func New(inst *timer.Instance, loc *time.Location) (Policy, error) {
	if loc == nil {
		loc = time.Local
	}

	switch inst.Kind {
	case timer.KindActivity:
		return NewActivity(inst, loc), nil
	case timer.KindThreshold:
		return NewThreshold(inst, loc), nil
	case timer.KindPersistence:
		return NewPersistence(inst, loc), nil
	case timer.KindLockout:
		return NewLockout(inst, loc), nil
	case timer.KindAlive:
		return NewAlive(inst, loc), nil
	case timer.KindRunning:
		return NewRunning(inst, loc), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, inst.Kind)
	}
}

// common is the state block every policy carries.
type common struct {
	loc *time.Location
	on  bool
}

func (c *common) fields(state, display string) timer.Fields {
	return timer.Fields{
		timer.FieldState:   state,
		timer.FieldDisplay: display,
		timer.FieldOnOff:   c.on,
	}
}

func (c *common) stamp(f timer.Fields, timeKey, stringKey string, epoch float64) {
	f[timeKey] = epoch
	f[stringKey] = timemath.FormatTimestamp(epoch, c.loc)
}

func threshold(inst *timer.Instance) int64 {
	if inst.CountThreshold < 1 {
		return 1
	}

	return inst.CountThreshold
}

func countdown(deadline, now float64) string {
	return timemath.FormatSeconds(deadline - now)
}
