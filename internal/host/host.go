package host

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/oshokin/timed-devices/internal/actor"
	"github.com/oshokin/timed-devices/internal/domain/timer"
	"github.com/oshokin/timed-devices/internal/logger"
	"github.com/oshokin/timed-devices/internal/repository/state"
)

var (
	// ErrUnknownSource is returned for a device or variable that was never registered.
	ErrUnknownSource = errors.New("unknown source")
	// ErrVariableField is returned when a variable update carries a field other than "value".
	ErrVariableField = errors.New(`variables only have a "value" field`)
	// ErrInvalidSource is returned for an unsupported source kind.
	ErrInvalidSource = errors.New("invalid source kind")
)

// Listener receives every source update, with the state before and after it.
type Listener func(before, after *timer.Snapshot)

type sourceKey struct {
	kind timer.SourceKind
	id   int64
}

// Host keeps sources in memory and instance records in a state repository.
type Host struct {
	repo  state.Repository
	clock actor.Clock

	// mu guards sources, listeners and order.
	mu        sync.RWMutex
	sources   map[sourceKey]*timer.Snapshot
	listeners []Listener
	// order holds one lock per source, taken from the write until every
	// listener has seen it, so notifications of a source keep write order.
	order map[sourceKey]*sync.Mutex
}

var _ actor.Host = (*Host)(nil)

// New creates a host storing records in repo.
func New(repo state.Repository, clock actor.Clock) *Host {
	if clock == nil {
		clock = actor.SystemClock{}
	}

	return &Host{
		repo:      repo,
		clock:     clock,
		mu:        sync.RWMutex{},
		sources:   make(map[sourceKey]*timer.Snapshot),
		listeners: nil,
		order:     make(map[sourceKey]*sync.Mutex),
	}
}

// Subscribe adds a listener for source updates. Listeners run on the updating goroutine.
func (h *Host) Subscribe(l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.listeners = append(h.listeners, l)
}

// Register creates or replaces a source without notifying listeners.
// Its last change stays unknown until the first update that changes a value.
func (h *Host) Register(kind timer.SourceKind, id int64, name string, values map[string]any) error {
	if err := validate(kind, values); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.sources[sourceKey{kind: kind, id: id}] = &timer.Snapshot{
		Kind:        kind,
		ID:          id,
		Name:        name,
		Values:      maps.Clone(values),
		LastChanged: time.Time{},
	}

	return nil
}

// Update merges values into a registered source and notifies every listener,
// even when nothing changed. LastChanged moves only when a value changed.
// Listeners see the updates of one source in the order they were written.
func (h *Host) Update(ctx context.Context, kind timer.SourceKind, id int64, values map[string]any) (*timer.Snapshot, error) {
	if err := validate(kind, values); err != nil {
		return nil, err
	}

	key := sourceKey{kind: kind, id: id}

	sequence := h.sequence(key)
	sequence.Lock()
	defer sequence.Unlock()

	h.mu.Lock()

	current, ok := h.sources[key]
	if !ok {
		h.mu.Unlock()

		return nil, fmt.Errorf("%w: %s %d", ErrUnknownSource, kind, id)
	}

	before, after, changed := h.apply(current, values)
	listeners := slices.Clone(h.listeners)

	h.mu.Unlock()

	logger.DebugKV(ctx, "Source updated", "kind", kind, "id", id, "name", after.Name, "changed", changed)

	notify(listeners, before, after)

	return after, nil
}

// sequence returns the delivery lock of a source.
func (h *Host) sequence(key sourceKey) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()

	lock, ok := h.order[key]
	if !ok {
		lock = new(sync.Mutex)
		h.order[key] = lock
	}

	return lock
}

// apply merges values into current and returns copies of the state around the merge.
// The caller must hold mu.
func (h *Host) apply(current *timer.Snapshot, values map[string]any) (*timer.Snapshot, *timer.Snapshot, bool) {
	before := current.Clone()
	changed := false

	for field, value := range values {
		if old, exists := current.Values[field]; !exists || !timer.ValuesEqual(old, value) {
			changed = true
		}

		if current.Values == nil {
			current.Values = make(map[string]any, len(values))
		}

		current.Values[field] = value
	}

	if changed {
		current.LastChanged = h.clock.Now()
	}

	return before, current.Clone(), changed
}

func notify(listeners []Listener, before, after *timer.Snapshot) {
	for _, l := range listeners {
		l(before, after)
	}
}

// Snapshot returns the current state of a source.
func (h *Host) Snapshot(kind timer.SourceKind, id int64) (*timer.Snapshot, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sources[sourceKey{kind: kind, id: id}]
	if !ok {
		return nil, fmt.Errorf("%w: %s %d", ErrUnknownSource, kind, id)
	}

	return s.Clone(), nil
}

// Sources returns every registered source ordered by kind and ID.
func (h *Host) Sources() []*timer.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]*timer.Snapshot, 0, len(h.sources))
	for _, s := range h.sources {
		result = append(result, s.Clone())
	}

	slices.SortFunc(result, func(a, b *timer.Snapshot) int {
		return cmp.Or(cmp.Compare(a.Kind, b.Kind), cmp.Compare(a.ID, b.ID))
	})

	return result
}

// Source implements actor.Host. A device that is another instance and has
// not published since start is read from its persisted record.
func (h *Host) Source(ctx context.Context, ref timer.SourceRef) (*timer.Snapshot, error) {
	snapshot, err := h.Snapshot(ref.Kind, ref.ID)
	if err == nil || ref.Kind != timer.SourceDevice {
		return snapshot, err
	}

	record, loadErr := h.repo.Load(ctx, timer.InstanceID(ref.ID))
	if loadErr != nil {
		return nil, err
	}

	return &timer.Snapshot{
		Kind:        timer.SourceDevice,
		ID:          ref.ID,
		Name:        "",
		Values:      record,
		LastChanged: time.Time{},
	}, nil
}

// Record implements actor.Host. An instance without a record gets an empty one.
func (h *Host) Record(ctx context.Context, id timer.InstanceID) (timer.Fields, error) {
	record, err := h.repo.Load(ctx, id)

	switch {
	case err == nil:
		return record, nil
	case errors.Is(err, state.ErrNotFound):
		return timer.Fields{}, nil
	default:
		return nil, fmt.Errorf("load record %d: %w", id, err)
	}
}

// Publish implements actor.Host. The instance is also a device: its record is
// mirrored as the device's states and listeners are notified like for Update,
// so instances can track each other.
func (h *Host) Publish(ctx context.Context, id timer.InstanceID, changes timer.Fields) (timer.Fields, error) {
	key := sourceKey{kind: timer.SourceDevice, id: int64(id)}

	sequence := h.sequence(key)
	sequence.Lock()
	defer sequence.Unlock()

	record, err := h.repo.Merge(ctx, id, changes)
	if err != nil {
		return nil, fmt.Errorf("persist record %d: %w", id, err)
	}

	h.mu.Lock()

	current, ok := h.sources[key]
	if !ok {
		current = &timer.Snapshot{
			Kind:        timer.SourceDevice,
			ID:          int64(id),
			Name:        "",
			Values:      make(map[string]any, len(record)),
			LastChanged: time.Time{},
		}
		h.sources[key] = current
	}

	before, after, _ := h.apply(current, record)
	listeners := slices.Clone(h.listeners)

	h.mu.Unlock()

	notify(listeners, before, after)

	return record, nil
}

// SetIcon implements actor.Host by storing the icon next to the record.
func (h *Host) SetIcon(ctx context.Context, id timer.InstanceID, icon timer.Icon) error {
	if _, err := h.repo.Merge(ctx, id, timer.Fields{timer.FieldIcon: string(icon)}); err != nil {
		return fmt.Errorf("persist icon %d: %w", id, err)
	}

	return nil
}

// Forget drops the record of an instance that is no longer configured.
func (h *Host) Forget(ctx context.Context, id timer.InstanceID) error {
	if err := h.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete record %d: %w", id, err)
	}

	key := sourceKey{kind: timer.SourceDevice, id: int64(id)}

	h.mu.Lock()
	delete(h.sources, key)
	delete(h.order, key)
	h.mu.Unlock()

	return nil
}

func validate(kind timer.SourceKind, values map[string]any) error {
	switch kind {
	case timer.SourceDevice:
		return nil
	case timer.SourceVariable:
		for field := range values {
			if field != timer.VariableField {
				return fmt.Errorf("%w: %q", ErrVariableField, field)
			}
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSource, kind)
	}
}
