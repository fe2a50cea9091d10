package actor

import (
	"context"
	"time"

	"github.com/oshokin/timed-devices/internal/domain/timer"
)

// Host is what an actor needs from the system that owns devices and variables.
type Host interface {
	// Source returns the current state of a tracked device or variable.
	Source(ctx context.Context, ref timer.SourceRef) (*timer.Snapshot, error)
	// Record returns the last persisted record of an instance, empty when there is none.
	Record(ctx context.Context, id timer.InstanceID) (timer.Fields, error)
	// Publish durably writes changed fields and returns the authoritative record.
	Publish(ctx context.Context, id timer.InstanceID, changes timer.Fields) (timer.Fields, error)
	// SetIcon selects the status icon of an instance.
	SetIcon(ctx context.Context, id timer.InstanceID, icon timer.Icon) error
}

// Clock tells the current time.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now implements Clock.Now using time.Now.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Metrics receives actor counters.
type Metrics interface {
	// TaskHandled counts a dispatched task.
	TaskHandled(kind timer.Kind, task string)
	// TaskFailed counts a task that returned an error or panicked.
	TaskFailed(kind timer.Kind, task string)
	// FieldsPublished counts fields written to the host.
	FieldsPublished(kind timer.Kind, fields int)
}

type noopMetrics struct{}

func (noopMetrics) TaskHandled(timer.Kind, string)  {}
func (noopMetrics) TaskFailed(timer.Kind, string)   {}
func (noopMetrics) FieldsPublished(timer.Kind, int) {}
