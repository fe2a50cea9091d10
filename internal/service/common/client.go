//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	api "github.com/oshokin/timed-devices/internal/api/grpc/timers"
	"github.com/oshokin/timed-devices/internal/config"
	"github.com/oshokin/timed-devices/internal/domain/timer"
)

// Client wraps the gRPC TimerService client with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the daemon.
	conn *grpc.ClientConn
	// api is the TimerService client.
	api *api.TimerServiceClient

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
	// caller is sent with every call, nil to stay anonymous.
	caller *timer.Caller
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithCaller identifies the client to the daemon on every call.
func WithCaller(caller *timer.Caller) Option {
	return func(c *Client) {
		c.caller = caller.Clone()
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errValuesRequired is returned when a source update carries no values.
	errValuesRequired = errors.New("values must be provided")
)

// Dial establishes a gRPC connection to the timed-devices daemon.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy until native TLS is added.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	// Use the non-context NewClient API recommended by grpc-go
	// (DialContext is deprecated as of grpc-go v1.60+).
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial timed-devices daemon: %w", err)
	}

	client := &Client{
		conn:        conn,
		api:         api.NewTimerServiceClient(conn),
		callTimeout: config.DefaultTimeout,
		caller:      nil,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// ListInstances returns every running instance with its record.
func (c *Client) ListInstances(ctx context.Context) ([]map[string]any, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.ListInstances(callCtx, &emptypb.Empty{})
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	values := resp.GetFields()["instances"].GetListValue().GetValues()

	result := make([]map[string]any, 0, len(values))
	for _, v := range values {
		result = append(result, v.GetStructValue().AsMap())
	}

	return result, nil
}

// GetInstance returns one instance with its record.
func (c *Client) GetInstance(ctx context.Context, id timer.InstanceID) (map[string]any, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.GetInstance(callCtx, wrapperspb.Int64(int64(id)))
	if err != nil {
		return nil, fmt.Errorf("get instance %d: %w", id, err)
	}

	return resp.AsMap(), nil
}

// ForceOn turns an instance on.
func (c *Client) ForceOn(ctx context.Context, id timer.InstanceID) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if _, err := c.api.ForceOn(callCtx, wrapperspb.Int64(int64(id))); err != nil {
		return fmt.Errorf("force on %d: %w", id, err)
	}

	return nil
}

// ForceOff turns an instance off.
func (c *Client) ForceOff(ctx context.Context, id timer.InstanceID) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if _, err := c.api.ForceOff(callCtx, wrapperspb.Int64(int64(id))); err != nil {
		return fmt.Errorf("force off %d: %w", id, err)
	}

	return nil
}

// UpdateSource merges values into a device or variable on the daemon.
func (c *Client) UpdateSource(
	ctx context.Context,
	kind timer.SourceKind,
	id int64,
	values map[string]any,
) (map[string]any, error) {
	if len(values) == 0 {
		return nil, errValuesRequired
	}

	request, err := structpb.NewStruct(map[string]any{
		"kind":   string(kind),
		"id":     id,
		"values": values,
	})
	if err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.UpdateSource(callCtx, request)
	if err != nil {
		return nil, fmt.Errorf("update %s %d: %w", kind, id, err)
	}

	return resp.AsMap(), nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline. The caller
// identity travels in its metadata.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = api.WithCaller(ctx, c.caller)

	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
