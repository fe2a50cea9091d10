package timers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/timed-devices/internal/domain/timer"
)

// Metadata keys carrying the caller's identity.
const (
	MetadataHostname = "x-caller-hostname"
	MetadataUsername = "x-caller-username"
)

var (
	// ErrNotFound marks service errors for unknown instances or sources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument marks service errors caused by the request content.
	ErrInvalidArgument = errors.New("invalid argument")
)

// InstanceView is an instance configuration together with its published record.
type InstanceView struct {
	// Instance is the running configuration.
	Instance *timer.Instance
	// Record is the last published record, empty before the first publish.
	Record timer.Fields
}

// Service abstracts the business operations the transport layer depends on.
type Service interface {
	ListInstances(ctx context.Context) ([]*InstanceView, error)
	GetInstance(ctx context.Context, id timer.InstanceID) (*InstanceView, error)
	ForceOn(ctx context.Context, caller *timer.Caller, id timer.InstanceID) error
	ForceOff(ctx context.Context, caller *timer.Caller, id timer.InstanceID) error
	UpdateSource(
		ctx context.Context,
		caller *timer.Caller,
		kind timer.SourceKind,
		id int64,
		values map[string]any,
	) (*timer.Snapshot, error)
}

// Server implements the TimerService gRPC API.
type Server struct {
	// service provides the business logic for timer operations.
	service Service
}

var _ TimerServiceServer = (*Server)(nil)

// NewServer wires the provided service implementation into a gRPC handler.
func NewServer(service Service) *Server {
	return &Server{
		service: service,
	}
}

// ListInstances returns every running instance with its record.
func (s *Server) ListInstances(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	views, err := s.service.ListInstances(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	list := make([]any, 0, len(views))
	for _, view := range views {
		list = append(list, viewToMap(view))
	}

	return newStruct(map[string]any{"instances": list})
}

// GetInstance returns one instance with its record.
func (s *Server) GetInstance(ctx context.Context, req *wrapperspb.Int64Value) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	view, err := s.service.GetInstance(ctx, timer.InstanceID(req.GetValue()))
	if err != nil {
		return nil, toStatus(err)
	}

	return newStruct(viewToMap(view))
}

// ForceOn turns an instance on regardless of its sources.
func (s *Server) ForceOn(ctx context.Context, req *wrapperspb.Int64Value) (*emptypb.Empty, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	if err := s.service.ForceOn(ctx, CallerFromContext(ctx), timer.InstanceID(req.GetValue())); err != nil {
		return nil, toStatus(err)
	}

	return &emptypb.Empty{}, nil
}

// ForceOff turns an instance off regardless of its sources.
func (s *Server) ForceOff(ctx context.Context, req *wrapperspb.Int64Value) (*emptypb.Empty, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	if err := s.service.ForceOff(ctx, CallerFromContext(ctx), timer.InstanceID(req.GetValue())); err != nil {
		return nil, toStatus(err)
	}

	return &emptypb.Empty{}, nil
}

// UpdateSource merges new values into a device or variable.
func (s *Server) UpdateSource(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	fields := req.GetFields()

	kind := timer.SourceKind(fields["kind"].GetStringValue())
	if kind == "" {
		return nil, status.Error(codes.InvalidArgument, "kind is required")
	}

	id, ok := fields["id"].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	values := fields["values"].GetStructValue()
	if len(values.GetFields()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "values are required")
	}

	snapshot, err := s.service.UpdateSource(ctx, CallerFromContext(ctx), kind, int64(id.NumberValue), values.AsMap())
	if err != nil {
		return nil, toStatus(err)
	}

	return newStruct(snapshotToMap(snapshot))
}

// CallerFromContext reads the caller identity from incoming metadata.
// It returns nil when the caller did not identify itself.
func CallerFromContext(ctx context.Context) *timer.Caller {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}

	caller := &timer.Caller{
		Hostname: first(md.Get(MetadataHostname)),
		Username: first(md.Get(MetadataUsername)),
	}

	if caller.Hostname == "" && caller.Username == "" {
		return nil
	}

	return caller
}

// WithCaller attaches the caller identity to outgoing metadata.
func WithCaller(ctx context.Context, caller *timer.Caller) context.Context {
	if caller == nil {
		return ctx
	}

	return metadata.AppendToOutgoingContext(ctx,
		MetadataHostname, caller.Hostname,
		MetadataUsername, caller.Username,
	)
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}

	return values[0]
}

// toStatus maps service errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}

	return s, nil
}

// viewToMap converts an instance view to the plain map carried in a Struct.
func viewToMap(view *InstanceView) map[string]any {
	inst := view.Instance

	sources := make([]any, 0, len(inst.Sources))
	for _, ref := range inst.Sources {
		sources = append(sources, ref.String())
	}

	record := make(map[string]any, len(view.Record))
	for key, value := range view.Record {
		record[key] = value
	}

	return map[string]any{
		"id":      int64(inst.ID),
		"name":    inst.Name,
		"kind":    string(inst.Kind),
		"sources": sources,
		"record":  record,
	}
}

// snapshotToMap converts a source snapshot to the plain map carried in a Struct.
func snapshotToMap(s *timer.Snapshot) map[string]any {
	result := map[string]any{
		"kind":   string(s.Kind),
		"id":     s.ID,
		"name":   s.Name,
		"values": map[string]any(s.Values),
	}

	if !s.LastChanged.IsZero() {
		result["lastChanged"] = s.LastChanged.UTC().Format(time.RFC3339)
	}

	return result
}
