package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	api "github.com/oshokin/timed-devices/internal/api/grpc/timers"
	"github.com/oshokin/timed-devices/internal/config"
	"github.com/oshokin/timed-devices/internal/domain/timer"
	"github.com/oshokin/timed-devices/internal/host"
	"github.com/oshokin/timed-devices/internal/logger"
	"github.com/oshokin/timed-devices/internal/supervisor"
)

// service adapts the supervisor and the host to the control API.
// It is unexported to keep the transport decoupled from the implementation.
type service struct {
	// supervisor runs the timer actors.
	supervisor *supervisor.Supervisor
	// host owns sources and instance records.
	host *host.Host
	// mu serializes configuration applies.
	mu sync.Mutex
}

var _ api.Service = (*service)(nil)

// newService creates a service over a supervisor and its host.
func newService(sup *supervisor.Supervisor, h *host.Host) *service {
	return &service{
		supervisor: sup,
		host:       h,
		mu:         sync.Mutex{},
	}
}

// apply registers sources the host does not know yet and brings the running
// instances in line with cfg. Records of instances that were removed are dropped.
func (s *service) apply(ctx context.Context, cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Register new sources only, so a reload does not reset live values.
	for _, src := range cfg.Sources {
		if _, err := s.host.Snapshot(src.Kind, src.ID); err == nil {
			continue
		}

		if err := s.host.Register(src.Kind, src.ID, src.Name, src.Values); err != nil {
			return fmt.Errorf("register %s %d: %w", src.Kind, src.ID, err)
		}
	}

	// Runtime options first, so instances started below already use them.
	opts := s.supervisor.Options()
	opts.ShowTimer = cfg.ShowTimer
	opts.Verbose = cfg.Verbose
	opts.PollInterval = cfg.PollInterval
	opts.Location = cfg.Location()

	if err := s.supervisor.Reconfigure(ctx, opts); err != nil {
		return fmt.Errorf("reconfigure instances: %w", err)
	}

	wanted := make(map[timer.InstanceID]struct{}, len(cfg.Instances))
	for _, inst := range cfg.Instances {
		wanted[inst.ID] = struct{}{}
	}

	removed := make([]timer.InstanceID, 0)

	for _, inst := range s.supervisor.Instances() {
		if _, ok := wanted[inst.ID]; !ok {
			removed = append(removed, inst.ID)
		}
	}

	if err := s.supervisor.Reconcile(ctx, cfg.Instances); err != nil {
		return fmt.Errorf("reconcile instances: %w", err)
	}

	for _, id := range removed {
		if err := s.host.Forget(ctx, id); err != nil {
			logger.WarnKV(ctx, "Failed to drop the record of a removed instance", "instance_id", id, "error", err)
		}
	}

	logger.InfoKV(ctx, "Configuration applied",
		"instances", s.supervisor.Len(), "removed", len(removed), "sources", len(cfg.Sources))

	return nil
}

// ListInstances returns every running instance with its record.
func (s *service) ListInstances(ctx context.Context) ([]*api.InstanceView, error) {
	instances := s.supervisor.Instances()

	views := make([]*api.InstanceView, 0, len(instances))

	for _, inst := range instances {
		record, err := s.host.Record(ctx, inst.ID)
		if err != nil {
			return nil, err
		}

		views = append(views, &api.InstanceView{Instance: inst, Record: record})
	}

	return views, nil
}

// GetInstance returns one running instance with its record.
func (s *service) GetInstance(ctx context.Context, id timer.InstanceID) (*api.InstanceView, error) {
	inst, err := s.supervisor.Instance(id)
	if err != nil {
		return nil, mapError(err)
	}

	record, err := s.host.Record(ctx, id)
	if err != nil {
		return nil, err
	}

	return &api.InstanceView{Instance: inst, Record: record}, nil
}

// ForceOn turns an instance on on behalf of caller.
func (s *service) ForceOn(ctx context.Context, caller *timer.Caller, id timer.InstanceID) error {
	if err := s.supervisor.ForceOn(id); err != nil {
		return mapError(err)
	}

	logger.InfoKV(ctx, "Force on requested", "instance_id", id, "caller", caller.String())

	return nil
}

// ForceOff turns an instance off on behalf of caller.
func (s *service) ForceOff(ctx context.Context, caller *timer.Caller, id timer.InstanceID) error {
	if err := s.supervisor.ForceOff(id); err != nil {
		return mapError(err)
	}

	logger.InfoKV(ctx, "Force off requested", "instance_id", id, "caller", caller.String())

	return nil
}

// UpdateSource merges values into a device or variable, notifying the actors that track it.
func (s *service) UpdateSource(
	ctx context.Context,
	caller *timer.Caller,
	kind timer.SourceKind,
	id int64,
	values map[string]any,
) (*timer.Snapshot, error) {
	snapshot, err := s.host.Update(ctx, kind, id, values)
	if err != nil {
		return nil, mapError(err)
	}

	logger.DebugKV(ctx, "Source update requested", "kind", kind, "id", id, "caller", caller.String())

	return snapshot, nil
}

// mapError marks domain errors with the transport sentinel they correspond to.
func mapError(err error) error {
	switch {
	case errors.Is(err, supervisor.ErrNotRunning), errors.Is(err, host.ErrUnknownSource):
		return fmt.Errorf("%w: %w", api.ErrNotFound, err)
	case errors.Is(err, host.ErrVariableField), errors.Is(err, host.ErrInvalidSource):
		return fmt.Errorf("%w: %w", api.ErrInvalidArgument, err)
	default:
		return err
	}
}
