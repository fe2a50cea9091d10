package timer

import (
	"encoding/json"
	"maps"
	"math"
	"slices"
	"strconv"
	"time"
)

// Icon is the status icon shown next to an instance on the host.
type Icon string

// Status icons.
const (
	IconSensorOff Icon = "sensor-off"
	IconSensorOn  Icon = "sensor-on"
	IconTimerOff  Icon = "timer-off"
	IconTimerOn   Icon = "timer-on"
)

// Snapshot is the state of a device or variable as reported by the host.
type Snapshot struct {
	// Kind is the source kind.
	Kind SourceKind
	// ID is the host identifier.
	ID int64
	// Name is the display name.
	Name string
	// Values holds device states, or the single "value" of a variable.
	Values map[string]any
	// LastChanged is when the host last saw the source change.
	LastChanged time.Time
}

// Value returns the raw value of a field.
func (s *Snapshot) Value(field string) (any, bool) {
	if s == nil {
		return nil, false
	}

	v, ok := s.Values[field]

	return v, ok
}

// Matches reports whether the snapshot belongs to the referenced source.
func (s *Snapshot) Matches(ref SourceRef) bool {
	return s != nil && s.Kind == ref.Kind && s.ID == ref.ID
}

// Clone returns a copy that does not share the values map.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}

	cloned := *s
	cloned.Values = maps.Clone(s.Values)

	return &cloned
}

// Fields is the flat record an instance publishes to the host.
// Values are bool, int64, float64 or string.
type Fields map[string]any

// Clone returns a shallow copy of the record.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}

	return maps.Clone(f)
}

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	return slices.Sorted(maps.Keys(f))
}

// Diff returns the entries of next that are missing from f or differ from it.
func (f Fields) Diff(next Fields) Fields {
	changes := make(Fields)

	for key, value := range next {
		old, ok := f[key]
		if !ok || !ValuesEqual(old, value) {
			changes[key] = value
		}
	}

	return changes
}

// Merge writes changes into f and returns it.
func (f Fields) Merge(changes Fields) Fields {
	if f == nil {
		f = make(Fields, len(changes))
	}

	maps.Copy(f, changes)

	return f
}

// Bool returns a boolean field, false when missing or not a bool.
func (f Fields) Bool(key string) bool {
	switch v := f[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// Float returns a numeric field as float64, zero when missing.
func (f Fields) Float(key string) float64 {
	v, _ := toFloat(f[key])
	return v
}

// Int returns a numeric field rounded to int64, zero when missing.
func (f Fields) Int(key string) int64 {
	v, _ := toFloat(f[key])
	return int64(math.Round(v))
}

// String returns a string field, empty when missing.
func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// Has reports whether the field is present.
func (f Fields) Has(key string) bool {
	_, ok := f[key]
	return ok
}

// ValuesEqual compares two field values, treating all numeric types alike.
// Hosts that round-trip records through JSON hand numbers back as float64.
func ValuesEqual(a, b any) bool {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)

	if aNum || bNum {
		return aNum && bNum && af == bf
	}

	switch av := a.(type) {
	case bool, string, nil:
		return a == b
	case []byte:
		bv, ok := b.([]byte)
		return ok && string(av) == string(bv)
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Field names every instance record carries.
const (
	// FieldState is the symbolic state name.
	FieldState = "state"
	// FieldDisplay is the display string, a countdown when the timer is shown.
	FieldDisplay = "displayState"
	// FieldOnOff is the on/off flag.
	FieldOnOff = "onOffState"
	// FieldIcon is where hosts without native icons keep the status icon.
	FieldIcon = "stateIcon"
)
