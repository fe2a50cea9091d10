package timer

import (
	"fmt"
	"slices"
)

// InstanceID identifies a timer instance on the host.
type InstanceID int64

// Kind selects the timer policy an instance runs.
type Kind string

// Supported policy kinds.
const (
	KindActivity    Kind = "activity"
	KindThreshold   Kind = "threshold"
	KindPersistence Kind = "persistence"
	KindLockout     Kind = "lockout"
	KindAlive       Kind = "alive"
	KindRunning     Kind = "running"
)

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindActivity, KindThreshold, KindPersistence, KindLockout, KindAlive, KindRunning:
		return true
	default:
		return false
	}
}

// SingleSource reports whether the policy only follows its first tracked source.
func (k Kind) SingleSource() bool {
	switch k {
	case KindPersistence, KindLockout, KindAlive, KindRunning:
		return true
	default:
		return false
	}
}

// LogicMode selects how a raw source value becomes a boolean input.
type LogicMode string

// Supported logic modes.
const (
	LogicAny     LogicMode = "any"
	LogicSimple  LogicMode = "simple"
	LogicComplex LogicMode = "complex"
)

// Operator is a comparison used by the complex logic mode.
type Operator string

// Supported comparison operators.
const (
	OpEqual        Operator = "eq"
	OpNotEqual     Operator = "ne"
	OpGreater      Operator = "gt"
	OpLess         Operator = "lt"
	OpGreaterEqual Operator = "ge"
	OpLessEqual    Operator = "le"
)

// ValueType is the type a raw value is coerced to before comparison.
type ValueType string

// Supported comparison value types.
const (
	ValueText   ValueType = "str"
	ValueNumber ValueType = "num"
)

// Logic is the boolean evaluation setting of an instance.
type Logic struct {
	// Mode is the evaluation mode, simple when empty.
	Mode LogicMode `yaml:"mode"`
	// Reverse negates the simple mode result.
	Reverse bool `yaml:"reverse,omitempty"`
	// Operator is the complex mode comparison.
	Operator Operator `yaml:"operator,omitempty"`
	// ValueType is the complex mode coercion type.
	ValueType ValueType `yaml:"value_type,omitempty"`
	// Value is the complex mode comparison value as text.
	Value string `yaml:"value,omitempty"`
}

// Unit is the time unit of a configured duration.
type Unit string

// Supported duration units.
const (
	UnitSeconds Unit = "seconds"
	UnitMinutes Unit = "minutes"
	UnitHours   Unit = "hours"
	UnitDays    Unit = "days"
)

// Duration is a configured count of time units.
type Duration struct {
	// Cycles is the number of units, zero means immediate.
	Cycles int64 `yaml:"cycles"`
	// Unit is the unit of Cycles, seconds when empty.
	Unit Unit `yaml:"unit"`
}

// SourceKind tells whether a tracked source is a device or a variable.
type SourceKind string

// Supported source kinds.
const (
	SourceDevice   SourceKind = "device"
	SourceVariable SourceKind = "variable"
)

// VariableField is the only field a variable source exposes.
const VariableField = "value"

// SourceRef points at one field of a device or variable.
type SourceRef struct {
	// Kind is the source kind.
	Kind SourceKind `yaml:"kind"`
	// ID is the host identifier of the device or variable.
	ID int64 `yaml:"id"`
	// Field is the device state key, always "value" for variables.
	Field string `yaml:"field,omitempty"`
}

// String renders the reference for logs.
func (r SourceRef) String() string {
	return fmt.Sprintf("%s:%d/%s", r.Kind, r.ID, r.Field)
}

// DefaultUpdateSeconds is the running policy refresh interval used when none is configured.
const DefaultUpdateSeconds int64 = 60

// Instance is the immutable configuration of one timer instance.
type Instance struct {
	// ID identifies the instance on the host.
	ID InstanceID `yaml:"id"`
	// Name is the display name used in logs.
	Name string `yaml:"name"`
	// Kind is the policy the instance runs.
	Kind Kind `yaml:"kind"`
	// Logic turns raw source values into boolean inputs.
	Logic Logic `yaml:"logic"`
	// CountThreshold is the activity/threshold count that turns the instance on.
	CountThreshold int64 `yaml:"count_threshold,omitempty"`
	// Extend refreshes the activity off deadline on further positive inputs.
	Extend bool `yaml:"extend,omitempty"`
	// Reset is the activity counting window.
	Reset Duration `yaml:"reset,omitempty"`
	// Off is the off delay, persist time or lock duration depending on the policy.
	Off Duration `yaml:"off,omitempty"`
	// On is the persistence on delay or lockout on lock duration.
	On Duration `yaml:"on,omitempty"`
	// UpdateSeconds is the running policy refresh interval, zero disables it.
	UpdateSeconds *int64 `yaml:"update_seconds,omitempty"`
	// ShowTimer overrides the global countdown display preference.
	ShowTimer *bool `yaml:"show_timer,omitempty"`
	// LogOnOff logs on/off transitions at info level, true when unset.
	LogOnOff *bool `yaml:"log_on_off,omitempty"`
	// Sources are the tracked device states and variables.
	Sources []SourceRef `yaml:"sources"`
}

// UpdateInterval returns the running refresh interval in seconds.
func (i *Instance) UpdateInterval() int64 {
	if i.UpdateSeconds == nil {
		return DefaultUpdateSeconds
	}

	return *i.UpdateSeconds
}

// ShowsTimer resolves the countdown preference against the global default.
func (i *Instance) ShowsTimer(global bool) bool {
	if i.ShowTimer == nil {
		return global
	}

	return *i.ShowTimer
}

// LogsOnOff reports whether on/off transitions are logged at info level.
func (i *Instance) LogsOnOff() bool {
	return i.LogOnOff == nil || *i.LogOnOff
}

// Tracked returns the sources the policy actually follows.
func (i *Instance) Tracked() []SourceRef {
	if i.Kind.SingleSource() && len(i.Sources) > 1 {
		return i.Sources[:1]
	}

	return i.Sources
}

// Clone returns a deep copy of the instance.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}

	cloned := *i
	cloned.Sources = slices.Clone(i.Sources)
	cloned.UpdateSeconds = clonePtr(i.UpdateSeconds)
	cloned.ShowTimer = clonePtr(i.ShowTimer)
	cloned.LogOnOff = clonePtr(i.LogOnOff)

	return &cloned
}

// Equal reports whether two configurations would produce the same actor.
func (i *Instance) Equal(other *Instance) bool {
	if i == nil || other == nil {
		return i == other
	}

	return i.ID == other.ID &&
		i.Name == other.Name &&
		i.Kind == other.Kind &&
		i.Logic == other.Logic &&
		i.CountThreshold == other.CountThreshold &&
		i.Extend == other.Extend &&
		i.Reset == other.Reset &&
		i.Off == other.Off &&
		i.On == other.On &&
		equalPtr(i.UpdateSeconds, other.UpdateSeconds) &&
		equalPtr(i.ShowTimer, other.ShowTimer) &&
		equalPtr(i.LogOnOff, other.LogOnOff) &&
		slices.Equal(i.Sources, other.Sources)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}

	v := *p

	return &v
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}
