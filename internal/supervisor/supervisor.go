package supervisor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/oshokin/timed-devices/internal/actor"
	"github.com/oshokin/timed-devices/internal/domain/timer"
	"github.com/oshokin/timed-devices/internal/logger"
)

var (
	// ErrAlreadyRunning is returned when an instance already has an actor.
	ErrAlreadyRunning = errors.New("instance is already running")
	// ErrNotRunning is returned for an instance without an actor.
	ErrNotRunning = errors.New("instance is not running")
)

// Metrics receives supervisor counters on top of the actor ones.
type Metrics interface {
	actor.Metrics
	// TicksSkipped counts heartbeats dropped because the schedule fell behind.
	TicksSkipped(n int)
	// ActorStarted counts actor starts per policy kind.
	ActorStarted(kind timer.Kind)
	// ActorStopped counts actor stops per policy kind.
	ActorStopped(kind timer.Kind)
}

// Options are passed to every actor the supervisor starts.
type Options struct {
	// ShowTimer is the global countdown display default.
	ShowTimer bool
	// Verbose adds raw input and field write debug lines.
	Verbose bool
	// PollInterval bounds the idle wait of every actor.
	PollInterval time.Duration
	// Clock supplies "now", the system clock when nil.
	Clock actor.Clock
	// Location is used for calendar buckets and timestamp strings.
	Location *time.Location
	// Metrics receives counters, discarded when nil.
	Metrics Metrics
}

func (o Options) actorOptions() actor.Options {
	result := actor.Options{
		ShowTimer:    o.ShowTimer,
		Verbose:      o.Verbose,
		PollInterval: o.PollInterval,
		Clock:        o.Clock,
		Location:     o.Location,
		Metrics:      nil,
	}

	if o.Metrics != nil {
		result.Metrics = o.Metrics
	}

	return result
}

// sameRuntime reports whether running actors can keep their options when
// switching from o to other.
func (o Options) sameRuntime(other Options) bool {
	return o.ShowTimer == other.ShowTimer &&
		o.Verbose == other.Verbose &&
		o.PollInterval == other.PollInterval &&
		o.Location.String() == other.Location.String()
}

type sourceKey struct {
	kind timer.SourceKind
	id   int64
}

func keyOf(kind timer.SourceKind, id int64) sourceKey {
	return sourceKey{kind: kind, id: id}
}

// running is one started actor together with the means to stop it.
type running struct {
	actor  *actor.Actor
	cancel context.CancelFunc
}

// Supervisor is the registry of running actors.
type Supervisor struct {
	host actor.Host

	// mu guards opts, actors and subscribers.
	mu     sync.RWMutex
	opts   Options
	actors map[timer.InstanceID]*running
	// subscribers maps a source to the instances tracking it.
	subscribers map[sourceKey]map[timer.InstanceID]struct{}
}

// New creates an empty supervisor.
func New(host actor.Host, opts Options) *Supervisor {
	if opts.Clock == nil {
		opts.Clock = actor.SystemClock{}
	}

	return &Supervisor{
		host:        host,
		opts:        opts,
		mu:          sync.RWMutex{},
		actors:      make(map[timer.InstanceID]*running),
		subscribers: make(map[sourceKey]map[timer.InstanceID]struct{}),
	}
}

// Start creates and runs an actor for inst. The actor outlives ctx: it keeps
// the values of ctx but is only stopped through Stop, StopAll or Reconcile.
func (s *Supervisor) Start(ctx context.Context, inst *timer.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.actors[inst.ID]; ok {
		return fmt.Errorf("%w: %d", ErrAlreadyRunning, inst.ID)
	}

	a, err := actor.New(inst, s.host, s.opts.actorOptions())
	if err != nil {
		return fmt.Errorf("create actor: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.actors[inst.ID] = &running{actor: a, cancel: cancel}

	for _, ref := range inst.Tracked() {
		key := keyOf(ref.Kind, ref.ID)
		if s.subscribers[key] == nil {
			s.subscribers[key] = make(map[timer.InstanceID]struct{})
		}

		s.subscribers[key][inst.ID] = struct{}{}
	}

	go a.Run(runCtx)

	if s.opts.Metrics != nil {
		s.opts.Metrics.ActorStarted(inst.Kind)
	}

	logger.InfoKV(ctx, "Instance started", "instance_id", inst.ID, "instance", inst.Name, "policy", inst.Kind)

	return nil
}

// Stop cancels the actor of id and waits for it to exit. When ctx ends first
// the actor's context is cancelled and ctx's error is returned.
func (s *Supervisor) Stop(ctx context.Context, id timer.InstanceID) error {
	r, err := s.remove(id)
	if err != nil {
		return err
	}

	inst := r.actor.Instance()

	r.actor.Cancel()

	select {
	case <-r.actor.Done():
		r.cancel()
	case <-ctx.Done():
		r.cancel()
		<-r.actor.Done()

		return fmt.Errorf("stop %d: %w", id, ctx.Err())
	}

	if metrics := s.Options().Metrics; metrics != nil {
		metrics.ActorStopped(inst.Kind)
	}

	logger.InfoKV(ctx, "Instance stopped", "instance_id", id, "instance", inst.Name)

	return nil
}

// remove unregisters id and its subscriptions.
func (s *Supervisor) remove(id timer.InstanceID) (*running, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.actors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotRunning, id)
	}

	delete(s.actors, id)

	for key, ids := range s.subscribers {
		delete(ids, id)

		if len(ids) == 0 {
			delete(s.subscribers, key)
		}
	}

	return r, nil
}

// StopAll stops every actor.
func (s *Supervisor) StopAll(ctx context.Context) error {
	var errs []error

	for _, id := range s.ids() {
		if err := s.Stop(ctx, id); err != nil && !errors.Is(err, ErrNotRunning) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Reconcile makes the running set match instances: removed instances are
// stopped, changed ones restarted and new ones started.
func (s *Supervisor) Reconcile(ctx context.Context, instances []*timer.Instance) error {
	var (
		wanted = make(map[timer.InstanceID]*timer.Instance, len(instances))
		errs   []error
	)

	for _, inst := range instances {
		wanted[inst.ID] = inst
	}

	// Stop what is gone or changed first so a restarted actor never overlaps its predecessor.
	for _, current := range s.Instances() {
		next, ok := wanted[current.ID]
		if ok && next.Equal(current) {
			delete(wanted, current.ID)
			continue
		}

		if err := s.Stop(ctx, current.ID); err != nil {
			errs = append(errs, err)
		}
	}

	for _, inst := range instances {
		if _, ok := wanted[inst.ID]; !ok {
			continue
		}

		if err := s.Start(ctx, inst); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Options returns the options new actors are started with.
func (s *Supervisor) Options() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.opts
}

// Reconfigure replaces the options of the supervisor. When a setting the
// actors run with changed, every running actor is restarted with the new
// options; it restores its state from the persisted record.
func (s *Supervisor) Reconfigure(ctx context.Context, opts Options) error {
	if opts.Clock == nil {
		opts.Clock = actor.SystemClock{}
	}

	s.mu.Lock()
	same := s.opts.sameRuntime(opts)
	s.opts = opts
	s.mu.Unlock()

	if same {
		return nil
	}

	instances := s.Instances()

	logger.InfoKV(ctx, "Runtime options changed, restarting instances",
		"instances", len(instances), "show_timer", opts.ShowTimer, "verbose", opts.Verbose)

	var errs []error

	for _, inst := range instances {
		if err := s.Stop(ctx, inst.ID); err != nil {
			errs = append(errs, err)
			continue
		}

		if err := s.Start(ctx, inst); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Tick enqueues a heartbeat on every actor.
func (s *Supervisor) Tick() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.actors {
		r.actor.Tick()
	}
}

// SourceChanged routes a change notification to the actors tracking the source.
func (s *Supervisor) SourceChanged(before, after *timer.Snapshot) {
	if after == nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for id := range s.subscribers[keyOf(after.Kind, after.ID)] {
		s.actors[id].actor.SourceChanged(before, after)
	}
}

// ForceOn turns an instance on regardless of its sources.
func (s *Supervisor) ForceOn(id timer.InstanceID) error {
	r, err := s.get(id)
	if err != nil {
		return err
	}

	r.actor.ForceOn()

	return nil
}

// ForceOff turns an instance off regardless of its sources.
func (s *Supervisor) ForceOff(id timer.InstanceID) error {
	r, err := s.get(id)
	if err != nil {
		return err
	}

	r.actor.ForceOff()

	return nil
}

// Instance returns the configuration of a running instance.
func (s *Supervisor) Instance(id timer.InstanceID) (*timer.Instance, error) {
	r, err := s.get(id)
	if err != nil {
		return nil, err
	}

	return r.actor.Instance(), nil
}

// Instances returns the configurations of all running instances ordered by ID.
func (s *Supervisor) Instances() []*timer.Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*timer.Instance, 0, len(s.actors))
	for _, r := range s.actors {
		result = append(result, r.actor.Instance())
	}

	slices.SortFunc(result, func(a, b *timer.Instance) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return result
}

// Len returns the number of running actors.
func (s *Supervisor) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.actors)
}

// Backlog returns the number of tasks queued across all actors.
func (s *Supervisor) Backlog() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, r := range s.actors {
		total += r.actor.Pending()
	}

	return total
}

func (s *Supervisor) get(id timer.InstanceID) (*running, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.actors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotRunning, id)
	}

	return r, nil
}

func (s *Supervisor) ids() []timer.InstanceID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]timer.InstanceID, 0, len(s.actors))
	for id := range s.actors {
		result = append(result, id)
	}

	slices.Sort(result)

	return result
}
