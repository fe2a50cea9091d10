package policy

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/oshokin/timed-devices/internal/domain/timer"
	"github.com/oshokin/timed-devices/internal/logger"
	"github.com/oshokin/timed-devices/internal/timemath"
)

var errSpanRecordShape = errors.New("span record does not match the span table")

// Running accumulates on-time per hour, day, week, month and year, plus the
// length of the current and previous on episode.
//
// Only the bucket keys and the totals saved at off transitions are durable
// state; the current bucket of every span is recomputed from them and the
// on time, which is what makes the totals survive restarts.
type Running struct {
	common

	updateDelta float64

	onTime   float64
	offTime  float64
	nextSave float64
	spans    [spanCount]spanState
}

// NewRunning creates a running policy.
func NewRunning(inst *timer.Instance, loc *time.Location) *Running {
	r := &Running{
		common:      common{loc: loc},
		updateDelta: float64(max(inst.UpdateInterval(), 0)),
	}

	for i, def := range spanDefs {
		r.spans[i].ring = make([]float64, def.depth)
	}

	return r
}

// Init reconciles the restored totals with what the source reports now.
func (r *Running) Init(ctx context.Context, now float64, seed Seed) Effect {
	wasOn := r.on

	value, known := seed.first()
	if !known {
		value = wasOn
	}

	switch {
	case value && wasOn:
		r.onTime = max(r.onTime, min(seed.LastChanged, now))
	case value:
		r.on = true

		r.onTime = now
		if seed.LastChanged > 0 && seed.LastChanged <= now {
			r.onTime = seed.LastChanged
		}
	case wasOn && seed.LastChanged >= r.onTime && seed.LastChanged <= now:
		r.stop(seed.LastChanged)
	case wasOn:
		r.on = false
		r.offTime = now
	}

	if continuous := &r.spans[continuousIndex]; !r.on && continuous.ring[0] != 0 {
		continuous.roll(continuous.ring[0])
	}

	r.refresh(now)
	r.nextSave = now + r.updateDelta

	logger.DebugKV(ctx, "Spans rebuilt", "on", r.on, "on_time", r.onTime, "continuous", r.spans[continuousIndex].ring[0])

	return changed()
}

// Tick recomputes the spans, rolls finished buckets and saves periodically while on.
func (r *Running) Tick(ctx context.Context, now float64) Effect {
	var effect Effect

	if r.refresh(now) {
		effect = changed()

		logger.DebugKV(ctx, "Span rolled over", "on", r.on, "continuous", r.spans[continuousIndex].ring[0])
	}

	if r.updateDelta > 0 && r.on && now >= r.nextSave {
		r.nextSave = now + r.updateDelta
		effect = changed()
	}

	return effect
}

// Input starts or ends an on episode. Repeating the current value is a no-op.
func (r *Running) Input(ctx context.Context, now float64, value bool) Effect {
	if value == r.on {
		return Effect{}
	}

	if value {
		r.refresh(now)
		r.on = true
		r.onTime = now
		r.nextSave = now + r.updateDelta
	} else {
		r.stop(now)
	}

	logger.DebugKV(ctx, "Input applied", "input", value, "on", r.on)

	return changed()
}

// ForceOn starts an on episode.
func (r *Running) ForceOn(ctx context.Context, now float64) Effect {
	return r.Input(ctx, now, true)
}

// ForceOff ends the on episode.
func (r *Running) ForceOff(ctx context.Context, now float64) Effect {
	return r.Input(ctx, now, false)
}

// stop ends the on episode at the given time, saving the span totals.
func (r *Running) stop(at float64) {
	r.refresh(at)

	for i := range r.spans {
		if i == continuousIndex {
			r.spans[i].roll(r.spans[i].ring[0])
			continue
		}

		r.spans[i].done = r.spans[i].ring[0]
	}

	r.on = false
	r.offTime = at
}

// refresh brings every span up to now and reports whether a bucket rolled over.
func (r *Running) refresh(now float64) bool {
	rolled := false

	for i, def := range spanDefs {
		span := &r.spans[i]

		if def.continuous {
			span.ring[0] = r.accumulated(r.onTime, now)
			continue
		}

		key := timemath.BucketStart(def.calendar, timemath.Time(now, r.loc)).Unix()
		if span.key == 0 || key < span.key {
			span.key = key
		}

		for span.key < key {
			end := timemath.NextBucket(def.calendar, time.Unix(span.key, 0).In(r.loc)).Unix()
			if end <= span.key {
				span.key = key
				break
			}

			span.roll(span.done + r.accumulated(float64(span.key), float64(end)))
			span.done = 0
			span.key = end
			rolled = true
		}

		span.ring[0] = span.done + r.accumulated(float64(span.key), now)
	}

	return rolled
}

// accumulated is the on-time between start and end.
func (r *Running) accumulated(start, end float64) float64 {
	if !r.on {
		return 0
	}

	return max(end-max(r.onTime, start), 0)
}

// Derive renders the record.
func (r *Running) Derive(now float64, showTimer bool) timer.Fields {
	state := StateOff
	display := state

	if r.on {
		state = StateOn
		display = state

		if showTimer {
			display = timemath.FormatSeconds(now - r.onTime)
		}
	}

	f := r.fields(state, display)
	r.stamp(f, FieldOnTime, FieldOnString, r.onTime)
	r.stamp(f, FieldOffTime, FieldOffString, r.offTime)

	record := spanRecord{
		Keys: make([]int64, spanCount),
		Done: make([]float64, spanCount),
	}

	for i, def := range spanDefs {
		span := &r.spans[i]
		record.Keys[i] = span.key
		record.Done[i] = span.done

		for index, seconds := range span.ring {
			f[SecondsField(def.name, index)] = int64(math.Round(seconds))
			f[StringField(def.name, index)] = timemath.FormatSeconds(seconds)
		}
	}

	if encoded, err := encodeSpanRecord(record); err == nil {
		f[FieldSpanRecord] = encoded
	}

	return f
}

// Restore loads the state from a record. A missing or malformed span record
// starts every span in the current bucket with nothing saved.
func (r *Running) Restore(f timer.Fields) {
	r.on = f.Bool(timer.FieldOnOff)
	r.onTime = f.Float(FieldOnTime)
	r.offTime = f.Float(FieldOffTime)

	record, err := decodeSpanRecord(f.String(FieldSpanRecord))

	for i, def := range spanDefs {
		span := &r.spans[i]
		span.key, span.done = 0, 0

		if err == nil {
			span.key, span.done = record.Keys[i], record.Done[i]
		}

		for index := range span.ring {
			span.ring[index] = f.Float(SecondsField(def.name, index))
		}
	}
}

// Icon returns the status icon.
func (r *Running) Icon() timer.Icon {
	if r.on {
		return timer.IconTimerOn
	}

	return timer.IconSensorOff
}
