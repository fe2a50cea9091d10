package logic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/oshokin/timed-devices/internal/domain/timer"
)

var (
	// ErrCoercion is returned when a value cannot be coerced for a complex comparison.
	ErrCoercion = errors.New("value cannot be coerced")
	// ErrUnknownOperator is returned for an unsupported complex operator.
	ErrUnknownOperator = errors.New("unknown operator")
	// ErrUnknownMode is returned for an unsupported logic mode.
	ErrUnknownMode = errors.New("unknown logic mode")
)

// truthy lists the text values the simple mode treats as true.
//
//nolint:gochecknoglobals // Fixed lookup table.
var truthy = map[string]struct{}{
	"true":   {},
	"on":     {},
	"open":   {},
	"up":     {},
	"yes":    {},
	"active": {},
	"locked": {},
	"1":      {},
}

// Evaluate maps a raw value to a boolean input according to l.
// A coercion failure yields false together with an error wrapping ErrCoercion.
func Evaluate(raw any, l timer.Logic) (bool, error) {
	switch l.Mode {
	case timer.LogicAny:
		return true, nil
	case timer.LogicSimple, "":
		result := isTruthy(raw)
		if l.Reverse {
			result = !result
		}

		return result, nil
	case timer.LogicComplex:
		return compare(raw, l)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownMode, l.Mode)
	}
}

// Validate checks that l can be evaluated, including a numeric comparison value.
func Validate(l timer.Logic) error {
	switch l.Mode {
	case timer.LogicAny, timer.LogicSimple, "":
		return nil
	case timer.LogicComplex:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, l.Mode)
	}

	switch l.Operator {
	case timer.OpEqual, timer.OpNotEqual, timer.OpGreater, timer.OpLess, timer.OpGreaterEqual, timer.OpLessEqual:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperator, l.Operator)
	}

	if l.ValueType == timer.ValueNumber {
		if _, err := strconv.ParseFloat(strings.TrimSpace(l.Value), 64); err != nil {
			return fmt.Errorf("comparison value %q: %w", l.Value, ErrCoercion)
		}
	}

	return nil
}

func isTruthy(raw any) bool {
	if n, ok := integer(raw); ok {
		return n != 0
	}

	switch v := raw.(type) {
	case bool:
		return v
	case string:
		_, ok := truthy[strings.ToLower(strings.TrimSpace(v))]
		return ok
	default:
		return false
	}
}

// integer mirrors the lenient integer reading of host values: numbers are
// truncated and text must hold an integer literal.
func integer(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), true
	case float32:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func compare(raw any, l timer.Logic) (bool, error) {
	if l.ValueType == timer.ValueNumber {
		want, err := strconv.ParseFloat(strings.TrimSpace(l.Value), 64)
		if err != nil {
			return false, fmt.Errorf("comparison value %q: %w", l.Value, ErrCoercion)
		}

		got, err := number(raw)
		if err != nil {
			return false, err
		}

		return apply(l.Operator, cmpFloat(got, want))
	}

	got := strings.ToLower(text(raw))
	want := strings.ToLower(l.Value)

	return apply(l.Operator, strings.Compare(got, want))
}

func number(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}

		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%q as number: %w", v, ErrCoercion)
		}

		return f, nil
	default:
		return 0, fmt.Errorf("%T as number: %w", raw, ErrCoercion)
	}
}

func text(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}

		return "false"
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func apply(op timer.Operator, c int) (bool, error) {
	switch op {
	case timer.OpEqual:
		return c == 0, nil
	case timer.OpNotEqual:
		return c != 0, nil
	case timer.OpGreater:
		return c > 0, nil
	case timer.OpLess:
		return c < 0, nil
	case timer.OpGreaterEqual:
		return c >= 0, nil
	case timer.OpLessEqual:
		return c <= 0, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, op)
	}
}
