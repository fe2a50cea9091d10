package timers

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/timed-devices/internal/domain/timer"
)

// fakeService implements the timers Service interface for unit testing the transport.
type fakeService struct {
	// views holds the instances by ID.
	views map[timer.InstanceID]*InstanceView
	// forced records the last force command per instance.
	forced map[timer.InstanceID]bool
	// caller is the identity of the last force or update call.
	caller *timer.Caller
}

func newFakeService() *fakeService {
	return &fakeService{
		views: map[timer.InstanceID]*InstanceView{
			1: {
				Instance: &timer.Instance{
					ID: 1, Name: "porch", Kind: timer.KindPersistence,
					Sources: []timer.SourceRef{{Kind: timer.SourceDevice, ID: 5, Field: "onOffState"}},
				},
				Record: timer.Fields{timer.FieldOnOff: true, "count": int64(2)},
			},
		},
		forced: make(map[timer.InstanceID]bool),
	}
}

// ListInstances returns every stored view.
func (f *fakeService) ListInstances(context.Context) ([]*InstanceView, error) {
	result := make([]*InstanceView, 0, len(f.views))
	for _, view := range f.views {
		result = append(result, view)
	}

	return result, nil
}

// GetInstance returns a stored view or ErrNotFound.
func (f *fakeService) GetInstance(_ context.Context, id timer.InstanceID) (*InstanceView, error) {
	view, ok := f.views[id]
	if !ok {
		return nil, fmt.Errorf("%w: instance %d", ErrNotFound, id)
	}

	return view, nil
}

// ForceOn records a forced on.
func (f *fakeService) ForceOn(ctx context.Context, caller *timer.Caller, id timer.InstanceID) error {
	return f.force(ctx, caller, id, true)
}

// ForceOff records a forced off.
func (f *fakeService) ForceOff(ctx context.Context, caller *timer.Caller, id timer.InstanceID) error {
	return f.force(ctx, caller, id, false)
}

func (f *fakeService) force(_ context.Context, caller *timer.Caller, id timer.InstanceID, on bool) error {
	if _, ok := f.views[id]; !ok {
		return fmt.Errorf("%w: instance %d", ErrNotFound, id)
	}

	f.caller = caller
	f.forced[id] = on

	return nil
}

// UpdateSource echoes the update back as a snapshot.
func (f *fakeService) UpdateSource(
	_ context.Context,
	caller *timer.Caller,
	kind timer.SourceKind,
	id int64,
	values map[string]any,
) (*timer.Snapshot, error) {
	if kind != timer.SourceDevice && kind != timer.SourceVariable {
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidArgument, kind)
	}

	f.caller = caller

	return &timer.Snapshot{
		Kind:        kind,
		ID:          id,
		Name:        "echo",
		Values:      values,
		LastChanged: time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

// TestServer_Validation ensures invalid requests return InvalidArgument errors.
func TestServer_Validation(t *testing.T) {
	t.Parallel()

	s := NewServer(newFakeService())

	_, err := s.GetInstance(context.Background(), nil)
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.ForceOn(context.Background(), nil)
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.UpdateSource(context.Background(), nil)
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	request, err := structpb.NewStruct(map[string]any{"kind": "device", "values": map[string]any{"x": 1}})
	require.NoError(t, err)

	_, err = s.UpdateSource(context.Background(), request)
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	request, err = structpb.NewStruct(map[string]any{"kind": "scene", "id": 1, "values": map[string]any{"x": 1}})
	require.NoError(t, err)

	_, err = s.UpdateSource(context.Background(), request)
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

// TestServer_NotFound maps unknown instances to NotFound.
func TestServer_NotFound(t *testing.T) {
	t.Parallel()

	s := NewServer(newFakeService())

	_, err := s.GetInstance(context.Background(), wrapperspb.Int64(99))
	require.Equal(t, codes.NotFound, status.Code(err))

	_, err = s.ForceOff(context.Background(), wrapperspb.Int64(99))
	require.Equal(t, codes.NotFound, status.Code(err))
}

// TestServer_Caller reads the caller identity from incoming metadata.
func TestServer_Caller(t *testing.T) {
	t.Parallel()

	service := newFakeService()
	s := NewServer(service)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(
		MetadataHostname, "kitchen-pc",
		MetadataUsername, "o.shokin",
	))

	_, err := s.ForceOn(ctx, wrapperspb.Int64(1))
	require.NoError(t, err)
	require.True(t, service.forced[1])
	require.Equal(t, &timer.Caller{Hostname: "kitchen-pc", Username: "o.shokin"}, service.caller)

	require.Nil(t, CallerFromContext(context.Background()))
}

// TestServer_GetInstance renders the configuration and the record.
func TestServer_GetInstance(t *testing.T) {
	t.Parallel()

	s := NewServer(newFakeService())

	resp, err := s.GetInstance(context.Background(), wrapperspb.Int64(1))
	require.NoError(t, err)

	got := resp.AsMap()
	require.Equal(t, "porch", got["name"])
	require.Equal(t, "persistence", got["kind"])
	require.Equal(t, []any{"device:5/onOffState"}, got["sources"])
	require.Equal(t, map[string]any{"onOffState": true, "count": float64(2)}, got["record"])
}

// TestClient_Roundtrip exercises every method through a real gRPC connection.
func TestClient_Roundtrip(t *testing.T) {
	t.Parallel()

	// Serve over an in-memory listener.
	listener := bufconn.Listen(1 << 20)
	service := newFakeService()

	grpcServer := grpc.NewServer()
	RegisterTimerServiceServer(grpcServer, NewServer(service))

	go func() {
		_ = grpcServer.Serve(listener)
	}()

	defer grpcServer.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	defer conn.Close()

	client := NewTimerServiceClient(conn)
	ctx := WithCaller(context.Background(), &timer.Caller{Hostname: "garage", Username: "root"})

	list, err := client.ListInstances(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	require.Len(t, list.GetFields()["instances"].GetListValue().GetValues(), 1)

	_, err = client.ForceOff(ctx, wrapperspb.Int64(1))
	require.NoError(t, err)
	require.False(t, service.forced[1])
	require.Equal(t, "root@garage", service.caller.String())

	_, err = client.ForceOn(ctx, wrapperspb.Int64(2))
	require.Equal(t, codes.NotFound, status.Code(err))

	request, err := structpb.NewStruct(map[string]any{
		"kind":   "variable",
		"id":     7,
		"values": map[string]any{"value": "away"},
	})
	require.NoError(t, err)

	snapshot, err := client.UpdateSource(ctx, request)
	require.NoError(t, err)
	require.Equal(t, "away", snapshot.GetFields()["values"].GetStructValue().GetFields()["value"].GetStringValue())
	require.Equal(t, "2024-05-01T12:00:00Z", snapshot.GetFields()["lastChanged"].GetStringValue())

	one, err := client.GetInstance(ctx, wrapperspb.Int64(1))
	require.NoError(t, err)
	require.Equal(t, "porch", one.GetFields()["name"].GetStringValue())
}
