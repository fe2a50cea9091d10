package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/timed-devices/internal/domain/timer"
	"github.com/oshokin/timed-devices/internal/logger"
	"github.com/oshokin/timed-devices/internal/logic"
)

// Config holds the settings shared by the timed-devices daemon and timerctl.
type Config struct {
	// ServerAddress is the gRPC address the daemon serves and timerctl dials.
	ServerAddress string `yaml:"server_addr"`
	// MetricsAddress is where the daemon serves Prometheus metrics, disabled when empty.
	MetricsAddress string `yaml:"metrics_addr,omitempty"`
	// StateBackend selects where instance records are persisted. The file
	// backend rewrites the whole document on every publish, use sqlite with
	// show_timer or many instances.
	StateBackend string `yaml:"state_backend"`
	// StateFile is the path to the JSON file of the file backend.
	StateFile string `yaml:"state_file"`
	// DatabaseFile is the path to the database of the sqlite backend.
	DatabaseFile string `yaml:"database_file,omitempty"`
	// Timeout is the duration for network operations and RPC calls.
	Timeout time.Duration `yaml:"timeout"`
	// TickInterval is the heartbeat period.
	TickInterval time.Duration `yaml:"tick_interval"`
	// PollInterval bounds how long an idle actor waits before checking for shutdown.
	PollInterval time.Duration `yaml:"poll_interval"`
	// Timezone names the zone used for calendar buckets and timestamp strings.
	Timezone string `yaml:"timezone"`
	// LogLevel is the minimum level written to the log.
	LogLevel string `yaml:"log_level"`
	// LogFormat is console or json.
	LogFormat string `yaml:"log_format,omitempty"`
	// ShowTimer is the default countdown display of every instance.
	ShowTimer bool `yaml:"show_timer"`
	// Verbose adds raw source values and field writes to the debug log.
	Verbose bool `yaml:"verbose"`
	// Sources are the devices and variables registered with the host at start.
	Sources []*Source `yaml:"sources,omitempty"`
	// Instances are the timers to run.
	Instances []*timer.Instance `yaml:"instances,omitempty"`

	// location is the loaded Timezone.
	location *time.Location
}

// Source is the initial state of a device or variable.
type Source struct {
	// Kind is device or variable.
	Kind timer.SourceKind `yaml:"kind"`
	// ID is the host identifier.
	ID int64 `yaml:"id"`
	// Name is the display name.
	Name string `yaml:"name"`
	// Values are the initial states, a single "value" for variables.
	Values map[string]any `yaml:"values,omitempty"`
}

// Supported state backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "timed-devices.yaml"

	// DefaultStateFilename is the default filename of the file backend.
	DefaultStateFilename = "timed-devices-state.json"

	// DefaultDatabaseFilename is the default filename of the sqlite backend.
	DefaultDatabaseFilename = "timed-devices.db"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultTickInterval is the default heartbeat period.
	DefaultTickInterval = time.Second

	// DefaultPollInterval is the default idle wait of an actor.
	DefaultPollInterval = 5 * time.Second

	// DefaultFilePermissions is the default file permission for config and state files.
	DefaultFilePermissions = 0o600

	// DefaultDeviceField is the device state tracked when a source names none.
	DefaultDeviceField = "onOffState"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errServerSocketRequired is returned when server address is missing.
	errServerSocketRequired = errors.New("server address must be provided")

	// ErrInvalidInstance is returned for an instance that cannot be run.
	ErrInvalidInstance = errors.New("invalid instance")
	// ErrInvalidSource is returned for a malformed source definition.
	ErrInvalidSource = errors.New("invalid source")
	// ErrInvalidSetting is returned for a malformed global setting.
	ErrInvalidSetting = errors.New("invalid setting")
)

// Load reads configuration from the provided path and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes Settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Location returns the configured time zone, local time before Validate ran.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}

	return c.location
}

// Validate checks the provided settings and fills in defaults.
//
//nolint:cyclop // A flat list of independent checks.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.ServerAddress == "" {
		return errServerSocketRequired
	}

	if _, err := net.ResolveTCPAddr("tcp", settings.ServerAddress); err != nil {
		return fmt.Errorf("invalid server socket: %w", err)
	}

	if settings.MetricsAddress != "" {
		if _, err := net.ResolveTCPAddr("tcp", settings.MetricsAddress); err != nil {
			return fmt.Errorf("invalid metrics socket: %w", err)
		}
	}

	// Set defaults for everything optional.
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.TickInterval <= 0 {
		settings.TickInterval = DefaultTickInterval
	}

	if settings.PollInterval <= 0 {
		settings.PollInterval = DefaultPollInterval
	}

	if settings.StateFile == "" {
		settings.StateFile = DefaultStateFilename
	}

	if settings.DatabaseFile == "" {
		settings.DatabaseFile = DefaultDatabaseFilename
	}

	switch settings.StateBackend {
	case "":
		settings.StateBackend = BackendFile
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("%w: state backend %q", ErrInvalidSetting, settings.StateBackend)
	}

	if settings.LogLevel != "" {
		if _, ok := logger.ParseLogLevel(settings.LogLevel); !ok {
			return fmt.Errorf("%w: log level %q", ErrInvalidSetting, settings.LogLevel)
		}
	}

	if _, ok := logger.ParseFormat(settings.LogFormat); !ok {
		return fmt.Errorf("%w: log format %q", ErrInvalidSetting, settings.LogFormat)
	}

	// An empty zone is local time, which LoadLocation would read as UTC.
	settings.location = time.Local

	if settings.Timezone != "" {
		location, err := time.LoadLocation(settings.Timezone)
		if err != nil {
			return fmt.Errorf("%w: timezone %q: %w", ErrInvalidSetting, settings.Timezone, err)
		}

		settings.location = location
	}

	if err := validateSources(settings.Sources); err != nil {
		return err
	}

	if err := validateInstances(settings.Instances); err != nil {
		return err
	}

	return validateDeviceIDs(settings)
}

// validateDeviceIDs keeps devices and instances apart: every instance is also
// the device its record is published as.
func validateDeviceIDs(settings *Config) error {
	instances := make(map[int64]struct{}, len(settings.Instances))
	for _, inst := range settings.Instances {
		instances[int64(inst.ID)] = struct{}{}
	}

	for _, s := range settings.Sources {
		if _, clash := instances[s.ID]; clash && s.Kind == timer.SourceDevice {
			return fmt.Errorf("%w: device %d is also an instance", ErrInvalidSource, s.ID)
		}
	}

	return nil
}

func validateSources(sources []*Source) error {
	seen := make(map[timer.SourceRef]struct{}, len(sources))

	for _, s := range sources {
		switch s.Kind {
		case timer.SourceDevice:
		case timer.SourceVariable:
			for field := range s.Values {
				if field != timer.VariableField {
					return fmt.Errorf("%w: variable %d has field %q", ErrInvalidSource, s.ID, field)
				}
			}
		default:
			return fmt.Errorf("%w: %d has kind %q", ErrInvalidSource, s.ID, s.Kind)
		}

		key := timer.SourceRef{Kind: s.Kind, ID: s.ID, Field: ""}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate %s %d", ErrInvalidSource, s.Kind, s.ID)
		}

		seen[key] = struct{}{}
	}

	return nil
}

func validateInstances(instances []*timer.Instance) error {
	seen := make(map[timer.InstanceID]struct{}, len(instances))

	for _, inst := range instances {
		if _, dup := seen[inst.ID]; dup {
			return fmt.Errorf("%w: duplicate id %d", ErrInvalidInstance, inst.ID)
		}

		seen[inst.ID] = struct{}{}

		if err := ValidateInstance(inst); err != nil {
			return err
		}
	}

	return nil
}

// ValidateInstance checks one instance and normalizes its source fields.
func ValidateInstance(inst *timer.Instance) error {
	if !inst.Kind.Valid() {
		return fmt.Errorf("%w: %d has unknown kind %q", ErrInvalidInstance, inst.ID, inst.Kind)
	}

	if err := logic.Validate(inst.Logic); err != nil {
		return fmt.Errorf("%w: %d logic: %w", ErrInvalidInstance, inst.ID, err)
	}

	for name, d := range map[string]timer.Duration{"reset": inst.Reset, "off": inst.Off, "on": inst.On} {
		if err := validateDuration(d); err != nil {
			return fmt.Errorf("%w: %d %s: %w", ErrInvalidInstance, inst.ID, name, err)
		}
	}

	if inst.CountThreshold < 0 {
		return fmt.Errorf("%w: %d count threshold must not be negative", ErrInvalidInstance, inst.ID)
	}

	if inst.UpdateSeconds != nil && *inst.UpdateSeconds < 0 {
		return fmt.Errorf("%w: %d update interval must not be negative", ErrInvalidInstance, inst.ID)
	}

	for _, ref := range inst.Sources {
		if ref.Kind == timer.SourceDevice && ref.ID == int64(inst.ID) {
			return fmt.Errorf("%w: %d tracks itself", ErrInvalidInstance, inst.ID)
		}
	}

	if inst.Kind.SingleSource() && len(inst.Sources) == 0 {
		return fmt.Errorf("%w: %d needs a source", ErrInvalidInstance, inst.ID)
	}

	for i := range inst.Sources {
		ref := &inst.Sources[i]

		switch ref.Kind {
		case timer.SourceDevice:
			if ref.Field == "" {
				ref.Field = DefaultDeviceField
			}
		case timer.SourceVariable:
			ref.Field = timer.VariableField
		default:
			return fmt.Errorf("%w: %d source %d has kind %q", ErrInvalidInstance, inst.ID, ref.ID, ref.Kind)
		}
	}

	return nil
}

var errNegativeCycles = errors.New("cycles must not be negative")

func validateDuration(d timer.Duration) error {
	if d.Cycles < 0 {
		return errNegativeCycles
	}

	switch d.Unit {
	case "", timer.UnitSeconds, timer.UnitMinutes, timer.UnitHours, timer.UnitDays:
		return nil
	default:
		return fmt.Errorf("unknown unit %q", d.Unit) //nolint:err113 // One-off message.
	}
}
