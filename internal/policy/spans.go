package policy

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/oshokin/timed-devices/internal/timemath"
)

// spanDef describes one accumulation span of the running policy.
type spanDef struct {
	name       string
	calendar   timemath.Calendar
	continuous bool
	// depth is the ring length including the current bucket.
	depth int
}

// spanDefs are the running policy spans in record order.
//
//nolint:gochecknoglobals // Fixed span table.
var spanDefs = [...]spanDef{
	{name: "Hour", calendar: timemath.Hour, depth: 25},
	{name: "Day", calendar: timemath.Day, depth: 8},
	{name: "Week", calendar: timemath.Week, depth: 5},
	{name: "Month", calendar: timemath.Month, depth: 13},
	{name: "Year", calendar: timemath.Year, depth: 2},
	{name: "Continuous", continuous: true, depth: 2},
}

const (
	spanCount       = len(spanDefs)
	continuousIndex = spanCount - 1
)

// SecondsField is the record key holding the seconds of a span ring entry,
// index 0 being the current bucket.
func SecondsField(span string, index int) string {
	return fmt.Sprintf("seconds%s%02d", span, index)
}

// StringField is the record key holding the formatted seconds of a span ring entry.
func StringField(span string, index int) string {
	return fmt.Sprintf("string%s%02d", span, index)
}

// spanState is the bookkeeping of one span.
type spanState struct {
	// key is the start of the current bucket in epoch seconds, zero for the continuous span.
	key int64
	// done is the on-time of the current bucket saved at the last off transition.
	done float64
	// ring holds the seconds of the current bucket followed by the finished ones.
	ring []float64
}

// roll finishes the current bucket with total seconds and starts an empty one.
func (s *spanState) roll(total float64) {
	s.ring[0] = total
	copy(s.ring[1:], s.ring[:len(s.ring)-1])
	s.ring[0] = 0
}

// spanRecord is the persisted part of the span bookkeeping that the ring fields do not carry.
type spanRecord struct {
	Keys []int64   `cbor:"1,keyasint"`
	Done []float64 `cbor:"2,keyasint"`
}

// spanEncMode encodes span records canonically so that unchanged
// bookkeeping always produces the same field value.
//
//nolint:gochecknoglobals // Immutable codec modes.
var (
	spanEncMode cbor.EncMode
	spanDecMode cbor.DecMode
)

func init() { //nolint:gochecknoinits // Codec modes are built once from constant options.
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}

	spanEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create span record encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}

	spanDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create span record decoder mode: %v", err))
	}
}

func encodeSpanRecord(r spanRecord) (string, error) {
	data, err := spanEncMode.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode span record: %w", err)
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

func decodeSpanRecord(s string) (spanRecord, error) {
	var r spanRecord

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return r, fmt.Errorf("decode span record: %w", err)
	}

	if err = spanDecMode.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode span record: %w", err)
	}

	if len(r.Keys) != spanCount || len(r.Done) != spanCount {
		return spanRecord{}, fmt.Errorf("decode span record: %d keys and %d totals for %d spans: %w",
			len(r.Keys), len(r.Done), spanCount, errSpanRecordShape)
	}

	return r, nil
}
