package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/timed-devices/internal/domain/timer"
	"github.com/oshokin/timed-devices/internal/logger"
	"github.com/oshokin/timed-devices/internal/policy"
)

// DefaultPollInterval bounds how long the dispatch loop waits for a task
// before checking its context again.
const DefaultPollInterval = 5 * time.Second

var (
	// ErrNilHost is returned by New when no host is given.
	ErrNilHost = errors.New("host is required")

	errUnknownTask = errors.New("unknown task")
)

// Options are the runtime settings shared by all actors of a supervisor.
type Options struct {
	// ShowTimer is the global countdown display default.
	ShowTimer bool
	// Verbose adds raw input and field write debug lines.
	Verbose bool
	// PollInterval bounds the idle wait, DefaultPollInterval when zero.
	PollInterval time.Duration
	// Clock supplies "now", the system clock when nil.
	Clock Clock
	// Location is used for calendar buckets and timestamp strings, local when nil.
	Location *time.Location
	// Metrics receives counters, discarded when nil.
	Metrics Metrics
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}

	if o.Clock == nil {
		o.Clock = SystemClock{}
	}

	if o.Location == nil {
		o.Location = time.Local
	}

	if o.Metrics == nil {
		o.Metrics = noopMetrics{}
	}

	return o
}

// Actor serializes every stimulus of one timer instance.
type Actor struct {
	// inst is the immutable configuration the actor was created with.
	inst *timer.Instance
	// policy holds the shadow state.
	policy policy.Policy
	host   Host
	opts   Options

	mailbox *mailbox
	done    chan struct{}

	// showTimer is the resolved countdown display preference.
	showTimer bool
	// baseline is the record the host last confirmed.
	baseline timer.Fields
	// lastInputs is the last evaluated value seen per tracked source.
	lastInputs map[timer.SourceRef]bool
}

// New creates an actor for inst. Run must be called to start it.
func New(inst *timer.Instance, host Host, opts Options) (*Actor, error) {
	if host == nil {
		return nil, ErrNilHost
	}

	opts = opts.withDefaults()
	inst = inst.Clone()

	p, err := policy.New(inst, opts.Location)
	if err != nil {
		return nil, fmt.Errorf("instance %d: %w", inst.ID, err)
	}

	return &Actor{
		inst:       inst,
		policy:     p,
		host:       host,
		opts:       opts,
		mailbox:    newMailbox(),
		done:       make(chan struct{}),
		showTimer:  inst.ShowsTimer(opts.ShowTimer),
		baseline:   timer.Fields{},
		lastInputs: make(map[timer.SourceRef]bool),
	}, nil
}

// Instance returns a copy of the configuration the actor runs.
func (a *Actor) Instance() *timer.Instance {
	return a.inst.Clone()
}

// Tick enqueues a heartbeat.
func (a *Actor) Tick() {
	a.mailbox.put(task{kind: taskTick})
}

// Input enqueues an already evaluated input.
func (a *Actor) Input(value bool) {
	a.mailbox.put(task{kind: taskInput, value: value})
}

// SourceChanged enqueues a change notification of a device or variable.
func (a *Actor) SourceChanged(before, after *timer.Snapshot) {
	a.mailbox.put(task{kind: taskSourceChanged, before: before.Clone(), after: after.Clone()})
}

// ForceOn enqueues a forced turn on.
func (a *Actor) ForceOn() {
	a.mailbox.put(task{kind: taskForceOn})
}

// ForceOff enqueues a forced turn off.
func (a *Actor) ForceOff() {
	a.mailbox.put(task{kind: taskForceOff})
}

// Cancel enqueues the last task the actor acts on.
func (a *Actor) Cancel() {
	a.mailbox.put(task{kind: taskCancel})
}

// Pending returns the number of queued tasks.
func (a *Actor) Pending() int {
	return a.mailbox.len()
}

// Done is closed once Run has returned.
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

// Run restores and seeds the instance, then dispatches tasks until Cancel is
// taken from the mailbox or ctx is done.
func (a *Actor) Run(ctx context.Context) {
	defer close(a.done)

	ctx = logger.WithFields(logger.WithName(ctx, "actor"),
		"instance_id", a.inst.ID,
		"instance", a.inst.Name,
		"policy", a.inst.Kind,
		"run_id", uuid.NewString(),
	)

	if a.opts.Verbose {
		ctx = logger.WithVerbose(ctx)
	}

	logger.Debug(ctx, "Actor started")

	a.safely(ctx, "init", a.init)

	for {
		t, ok := a.mailbox.take(ctx, a.opts.PollInterval)
		if !ok {
			if ctx.Err() != nil {
				logger.Debug(ctx, "Actor context done")
				return
			}

			continue
		}

		if t.kind == taskCancel {
			logger.Debug(ctx, "Actor cancelled")
			return
		}

		a.safely(ctx, t.kind.String(), func(ctx context.Context) error {
			return a.handle(ctx, t)
		})
	}
}

// safely runs one task, turning a panic into a logged failure.
func (a *Actor) safely(ctx context.Context, name string, fn func(ctx context.Context) error) {
	a.opts.Metrics.TaskHandled(a.inst.Kind, name)

	defer func() {
		if r := recover(); r != nil {
			a.opts.Metrics.TaskFailed(a.inst.Kind, name)
			logger.ErrorKV(ctx, "Task panicked", "task", name, "panic", r)
		}
	}()

	if err := fn(ctx); err != nil {
		a.opts.Metrics.TaskFailed(a.inst.Kind, name)
		logger.ErrorKV(ctx, "Task failed", "task", name, "error", err)
	}
}
