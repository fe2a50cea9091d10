package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/timed-devices/internal/config"
	"github.com/oshokin/timed-devices/internal/domain/timer"
	"github.com/oshokin/timed-devices/internal/logger"
	"github.com/oshokin/timed-devices/internal/service/common"
)

// Action names a control command.
type Action string

// Supported control commands.
const (
	ActionList        Action = "list"
	ActionGet         Action = "get"
	ActionForceOn     Action = "force-on"
	ActionForceOff    Action = "force-off"
	ActionSetVariable Action = "set-variable"
	ActionSetDevice   Action = "set-device"
	ActionWatch       Action = "watch"
)

// Options configures one timerctl invocation.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string
	// ServerAddress overrides server address from config when specified.
	ServerAddress string
	// Action is the command to run.
	Action Action
	// InstanceID is the target of get and force commands.
	InstanceID timer.InstanceID
	// SourceID is the target of set commands.
	SourceID int64
	// Values are merged into the source by set commands.
	Values map[string]any
	// PollInterval is how often watch polls, DefaultPollInterval when zero.
	PollInterval time.Duration
	// Output receives the YAML rendering of the result, stdout when nil.
	Output io.Writer
}

var (
	// errUnknownAction is returned for an action Run does not know.
	errUnknownAction = errors.New("unknown action")
	// errInvalidAssignment is returned for a malformed field=value pair.
	errInvalidAssignment = errors.New("assignment must look like field=value")
)

// controller is the part of common.Client the commands use.
type controller interface {
	ListInstances(ctx context.Context) ([]map[string]any, error)
	GetInstance(ctx context.Context, id timer.InstanceID) (map[string]any, error)
	ForceOn(ctx context.Context, id timer.InstanceID) error
	ForceOff(ctx context.Context, id timer.InstanceID) error
	UpdateSource(ctx context.Context, kind timer.SourceKind, id int64, values map[string]any) (map[string]any, error)
}

// Run connects to the daemon, executes one command and prints its result.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "timerctl")

	// Load settings from configuration file.
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	// Use server address from options if provided, otherwise use config.
	serverAddress := cfg.ServerAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	// Identify current user and hostname for the daemon's log.
	caller, err := common.DetectCaller()
	if err != nil {
		return err
	}

	// Connect to the daemon with timeout from config.
	client, err := common.Dial(ctx, serverAddress, common.WithCallTimeout(cfg.Timeout), common.WithCaller(caller))
	if err != nil {
		return err
	}

	// Close connection on function exit.
	defer func() {
		_ = client.Close()
	}()

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	// Watching keeps polling until the context is canceled.
	if opts.Action == ActionWatch {
		logger.InfoKV(ctx, "Watching instances", "server_address", serverAddress, "instance_id", opts.InstanceID)

		return watch(ctx, client, opts, out)
	}

	logger.DebugKV(ctx, "Sending command", "server_address", serverAddress, "action", opts.Action)

	result, err := execute(ctx, client, opts)
	if err != nil {
		return err
	}

	return render(out, result)
}

// execute runs the command against c and returns what should be printed, nil for nothing.
func execute(ctx context.Context, c controller, opts *Options) (any, error) {
	switch opts.Action {
	case ActionList:
		return c.ListInstances(ctx)
	case ActionGet:
		return c.GetInstance(ctx, opts.InstanceID)
	case ActionForceOn:
		if err := c.ForceOn(ctx, opts.InstanceID); err != nil {
			return nil, err
		}

		return c.GetInstance(ctx, opts.InstanceID)
	case ActionForceOff:
		if err := c.ForceOff(ctx, opts.InstanceID); err != nil {
			return nil, err
		}

		return c.GetInstance(ctx, opts.InstanceID)
	case ActionSetVariable:
		return c.UpdateSource(ctx, timer.SourceVariable, opts.SourceID, opts.Values)
	case ActionSetDevice:
		return c.UpdateSource(ctx, timer.SourceDevice, opts.SourceID, opts.Values)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownAction, opts.Action)
	}
}

func render(w io.Writer, result any) error {
	if result == nil {
		return nil
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("render result: %w", err)
	}

	return encoder.Close()
}

// ParseValue reads a command line value: booleans and numbers keep their
// type, anything else stays a string.
func ParseValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}

	return s
}

// ParseAssignments turns field=value pairs into a value map.
func ParseAssignments(pairs []string) (map[string]any, error) {
	values := make(map[string]any, len(pairs))

	for _, pair := range pairs {
		field, raw, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(field) == "" {
			return nil, fmt.Errorf("%w: %q", errInvalidAssignment, pair)
		}

		values[strings.TrimSpace(field)] = ParseValue(raw)
	}

	return values, nil
}
