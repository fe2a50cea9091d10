package timers

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "timers.v1.TimerService"

// Full method names.
const (
	MethodListInstances = "/" + ServiceName + "/ListInstances"
	MethodGetInstance   = "/" + ServiceName + "/GetInstance"
	MethodForceOn       = "/" + ServiceName + "/ForceOn"
	MethodForceOff      = "/" + ServiceName + "/ForceOff"
	MethodUpdateSource  = "/" + ServiceName + "/UpdateSource"
)

// TimerServiceServer is the server API of timers.v1.TimerService.
type TimerServiceServer interface {
	// ListInstances returns {"instances": [instance...]}.
	ListInstances(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	// GetInstance returns one instance with its record.
	GetInstance(ctx context.Context, req *wrapperspb.Int64Value) (*structpb.Struct, error)
	// ForceOn turns an instance on.
	ForceOn(ctx context.Context, req *wrapperspb.Int64Value) (*emptypb.Empty, error)
	// ForceOff turns an instance off.
	ForceOff(ctx context.Context, req *wrapperspb.Int64Value) (*emptypb.Empty, error)
	// UpdateSource merges {"kind", "id", "values"} into a device or variable and returns its snapshot.
	UpdateSource(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes timers.v1.TimerService for grpc.Server.RegisterService.
//
//nolint:gochecknoglobals // Service descriptors are package-level by convention.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TimerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ListInstances", MethodListInstances, TimerServiceServer.ListInstances),
		unary("GetInstance", MethodGetInstance, TimerServiceServer.GetInstance),
		unary("ForceOn", MethodForceOn, TimerServiceServer.ForceOn),
		unary("ForceOff", MethodForceOff, TimerServiceServer.ForceOff),
		unary("UpdateSource", MethodUpdateSource, TimerServiceServer.UpdateSource),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "timers/v1/timers.proto",
}

// RegisterTimerServiceServer registers srv with s.
func RegisterTimerServiceServer(s grpc.ServiceRegistrar, srv TimerServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary builds the method descriptor of a unary call, the way generated code does.
func unary[Req, Resp any](
	name, fullMethod string,
	call func(TimerServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodDesc {
	handler := func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}

		server, _ := srv.(TimerServiceServer)

		if interceptor == nil {
			return call(server, ctx, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}

		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			typed, _ := req.(*Req)
			return call(server, ctx, typed)
		})
	}

	return grpc.MethodDesc{
		MethodName: name,
		Handler:    handler,
	}
}

// TimerServiceClient is the client API of timers.v1.TimerService.
type TimerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewTimerServiceClient creates a client over cc.
func NewTimerServiceClient(cc grpc.ClientConnInterface) *TimerServiceClient {
	return &TimerServiceClient{cc: cc}
}

// ListInstances calls TimerService.ListInstances.
func (c *TimerServiceClient) ListInstances(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodListInstances, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// GetInstance calls TimerService.GetInstance.
func (c *TimerServiceClient) GetInstance(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodGetInstance, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// ForceOn calls TimerService.ForceOn.
func (c *TimerServiceClient) ForceOn(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, MethodForceOn, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// ForceOff calls TimerService.ForceOff.
func (c *TimerServiceClient) ForceOff(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, MethodForceOff, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// UpdateSource calls TimerService.UpdateSource.
func (c *TimerServiceClient) UpdateSource(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodUpdateSource, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}
