package actor

import (
	"context"
	"fmt"

	"github.com/oshokin/timed-devices/internal/domain/timer"
	"github.com/oshokin/timed-devices/internal/logger"
	"github.com/oshokin/timed-devices/internal/logic"
	"github.com/oshokin/timed-devices/internal/policy"
	"github.com/oshokin/timed-devices/internal/timemath"
)

// init restores the persisted record, seeds the policy from the tracked
// sources and publishes the initial state.
func (a *Actor) init(ctx context.Context) error {
	record, err := a.host.Record(ctx, a.inst.ID)
	if err != nil {
		logger.WarnKV(ctx, "Failed to read the persisted record, starting fresh", "error", err)

		record = timer.Fields{}
	}

	a.baseline = record.Clone()
	a.policy.Restore(record)

	now := a.now()
	effect := a.policy.Init(ctx, now, a.seed(ctx))
	a.replay(effect)

	return a.publish(ctx, now)
}

// seed reads the current values of the tracked sources.
func (a *Actor) seed(ctx context.Context) policy.Seed {
	var seed policy.Seed

	for i, ref := range a.inst.Tracked() {
		snapshot, err := a.host.Source(ctx, ref)
		if err != nil {
			logger.WarnKV(ctx, "Failed to read a tracked source", "source", ref.String(), "error", err)
			continue
		}

		if i == 0 && ref.Kind == timer.SourceDevice && !snapshot.LastChanged.IsZero() {
			seed.LastChanged = timemath.Epoch(snapshot.LastChanged)
		}

		raw, ok := snapshot.Value(fieldOf(ref))
		if !ok {
			logger.WarnKV(ctx, "Tracked field is missing", "source", ref.String())
			continue
		}

		value := a.evaluate(ctx, raw)
		a.lastInputs[ref] = value
		seed.Inputs = append(seed.Inputs, value)
	}

	return seed
}

// handle dispatches one task to the policy and publishes what changed.
func (a *Actor) handle(ctx context.Context, t task) error {
	now := a.now()

	var effect policy.Effect

	switch t.kind {
	case taskTick:
		effect = a.policy.Tick(ctx, now)
	case taskInput:
		effect = a.policy.Input(ctx, now, t.value)
	case taskSourceChanged:
		for _, value := range a.inputs(ctx, t.before, t.after) {
			effect = effect.Merge(a.policy.Input(ctx, now, value))
		}
	case taskForceOn:
		logger.Debug(ctx, "Forced on")

		effect = a.policy.ForceOn(ctx, now)
	case taskForceOff:
		logger.Debug(ctx, "Forced off")

		effect = a.policy.ForceOff(ctx, now)
	case taskCancel:
		return nil
	default:
		return fmt.Errorf("%w: %d", errUnknownTask, t.kind)
	}

	a.replay(effect)

	if !effect.Changed && !a.showTimer {
		return nil
	}

	return a.publish(ctx, now)
}

// inputs turns a change notification into policy inputs, one per tracked
// field of the source whose evaluated value actually moved.
func (a *Actor) inputs(ctx context.Context, before, after *timer.Snapshot) []bool {
	var result []bool

	for _, ref := range a.inst.Tracked() {
		if !after.Matches(ref) {
			continue
		}

		if a.inst.Kind == timer.KindAlive {
			if a.opts.Verbose {
				logger.DebugKV(ctx, "Source changed", "source", ref.String(), "name", after.Name)
			}

			// Every notification is a sign of life, whatever the field.
			return []bool{true}
		}

		field := fieldOf(ref)
		previous, _ := before.Value(field)
		raw, _ := after.Value(field)

		if a.inst.Logic.Mode == timer.LogicAny {
			if !timer.ValuesEqual(previous, raw) {
				result = append(result, true)
			}

			continue
		}

		value := a.evaluate(ctx, raw)

		if a.opts.Verbose {
			logger.DebugKV(ctx, "Source changed",
				"source", ref.String(), "name", after.Name, "raw", raw, "type", fmt.Sprintf("%T", raw), "input", value)
		}

		last, seen := a.lastInputs[ref]
		if !seen {
			last = a.evaluate(ctx, previous)
		}

		a.lastInputs[ref] = value

		if value != last {
			result = append(result, value)
		}
	}

	return result
}

func (a *Actor) evaluate(ctx context.Context, raw any) bool {
	value, err := logic.Evaluate(raw, a.inst.Logic)
	if err != nil {
		logger.DebugKV(ctx, "Source value evaluated as false", "raw", raw, "error", err)
	}

	return value
}

// publish writes the fields that differ from the baseline and adopts the host's record.
func (a *Actor) publish(ctx context.Context, now float64) error {
	next := a.policy.Derive(now, a.showTimer)

	changes := a.baseline.Diff(next)
	if len(changes) == 0 {
		return nil
	}

	record, err := a.host.Publish(ctx, a.inst.ID, changes)
	if err != nil {
		return fmt.Errorf("publish %d: %w", a.inst.ID, err)
	}

	a.opts.Metrics.FieldsPublished(a.inst.Kind, len(changes))

	if on, ok := changes[timer.FieldOnOff].(bool); ok && a.inst.LogsOnOff() {
		logger.InfoKV(ctx, "Instance switched "+onOff(on), "name", a.inst.Name)
	}

	if a.opts.Verbose {
		logger.DebugKV(ctx, "Fields written", "fields", changes)
	}

	if _, ok := changes[timer.FieldState]; ok {
		if err = a.host.SetIcon(ctx, a.inst.ID, a.policy.Icon()); err != nil {
			logger.WarnKV(ctx, "Failed to set the status icon", "error", err)
		}
	}

	a.baseline = record.Clone()
	a.policy.Restore(record)

	return nil
}

func (a *Actor) replay(effect policy.Effect) {
	if effect.Replay {
		a.Input(effect.ReplayValue)
	}
}

func fieldOf(ref timer.SourceRef) string {
	if ref.Kind == timer.SourceVariable || ref.Field == "" {
		return timer.VariableField
	}

	return ref.Field
}

func (a *Actor) now() float64 {
	return timemath.Epoch(a.opts.Clock.Now())
}

func onOff(on bool) string {
	if on {
		return "on"
	}

	return "off"
}
