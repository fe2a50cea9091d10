package logic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/timed-devices/internal/domain/timer"
)

// TestEvaluate_Any verifies that any change counts as a positive input.
func TestEvaluate_Any(t *testing.T) {
	t.Parallel()

	for _, raw := range []any{false, 0, "off", nil, 12.5} {
		got, err := Evaluate(raw, timer.Logic{Mode: timer.LogicAny})
		require.NoError(t, err)
		require.True(t, got)
	}
}

// TestEvaluate_Simple checks truthy tokens, numbers and the reverse flag.
func TestEvaluate_Simple(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  any
		want bool
	}{
		{true, true},
		{false, false},
		{"ON", true},
		{"Open", true},
		{"locked", true},
		{"closed", false},
		{"1", true},
		{"0", false},
		{"42", true},
		{3, true},
		{0, false},
		{0.0, false},
		{2.7, true},
		{nil, false},
		{"", false},
	}

	for _, tc := range cases {
		got, err := Evaluate(tc.raw, timer.Logic{Mode: timer.LogicSimple})
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "raw=%v", tc.raw)

		got, err = Evaluate(tc.raw, timer.Logic{Mode: timer.LogicSimple, Reverse: true})
		require.NoError(t, err)
		require.Equal(t, !tc.want, got, "reversed raw=%v", tc.raw)
	}

	// Empty mode defaults to simple.
	got, err := Evaluate("yes", timer.Logic{})
	require.NoError(t, err)
	require.True(t, got)
}

// TestEvaluate_Complex exercises every operator for text and numeric comparisons.
func TestEvaluate_Complex(t *testing.T) {
	t.Parallel()

	num := func(op timer.Operator, value string) timer.Logic {
		return timer.Logic{Mode: timer.LogicComplex, Operator: op, ValueType: timer.ValueNumber, Value: value}
	}
	str := func(op timer.Operator, value string) timer.Logic {
		return timer.Logic{Mode: timer.LogicComplex, Operator: op, ValueType: timer.ValueText, Value: value}
	}

	cases := []struct {
		name  string
		raw   any
		logic timer.Logic
		want  bool
	}{
		{"num eq", 20.0, num(timer.OpEqual, "20"), true},
		{"num ne", "21", num(timer.OpNotEqual, "20"), true},
		{"num gt", 21, num(timer.OpGreater, "20"), true},
		{"num lt", "19.5", num(timer.OpLess, "20"), true},
		{"num ge equal", 20, num(timer.OpGreaterEqual, "20"), true},
		{"num le above", 20.1, num(timer.OpLessEqual, "20"), false},
		{"str eq folded", "Heat", str(timer.OpEqual, "HEAT"), true},
		{"str ne", "cool", str(timer.OpNotEqual, "heat"), true},
		{"str gt", "b", str(timer.OpGreater, "a"), true},
		{"str bool", true, str(timer.OpEqual, "true"), true},
	}

	for _, tc := range cases {
		got, err := Evaluate(tc.raw, tc.logic)
		require.NoError(t, err, tc.name)
		require.Equal(t, tc.want, got, tc.name)
	}
}

// TestEvaluate_CoercionFailure ensures a failed numeric coercion yields false and an error.
func TestEvaluate_CoercionFailure(t *testing.T) {
	t.Parallel()

	l := timer.Logic{Mode: timer.LogicComplex, Operator: timer.OpGreater, ValueType: timer.ValueNumber, Value: "5"}

	got, err := Evaluate("warm", l)
	require.ErrorIs(t, err, ErrCoercion)
	require.False(t, got)

	// Same inputs, same outcome.
	again, againErr := Evaluate("warm", l)
	require.Equal(t, got, again)
	require.ErrorIs(t, againErr, ErrCoercion)
}

// TestValidate checks configuration level validation of logic settings.
func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Validate(timer.Logic{Mode: timer.LogicAny}))
	require.NoError(t, Validate(timer.Logic{}))
	require.ErrorIs(t, Validate(timer.Logic{Mode: "fuzzy"}), ErrUnknownMode)
	require.ErrorIs(t, Validate(timer.Logic{Mode: timer.LogicComplex, Operator: "approx"}), ErrUnknownOperator)
	require.ErrorIs(t, Validate(timer.Logic{
		Mode:      timer.LogicComplex,
		Operator:  timer.OpEqual,
		ValueType: timer.ValueNumber,
		Value:     "ten",
	}), ErrCoercion)
}
