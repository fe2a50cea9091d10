package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"

	api "github.com/oshokin/timed-devices/internal/api/grpc/timers"
	"github.com/oshokin/timed-devices/internal/config"
	"github.com/oshokin/timed-devices/internal/host"
	"github.com/oshokin/timed-devices/internal/logger"
	"github.com/oshokin/timed-devices/internal/metrics"
	repository "github.com/oshokin/timed-devices/internal/repository/state"
	"github.com/oshokin/timed-devices/internal/supervisor"
	"github.com/oshokin/timed-devices/internal/version"
)

// Options controls the timed-devices process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the gRPC server.
	ListenAddress string
	// StateFile overrides the state file (file backend) or database (sqlite backend) path.
	StateFile string
}

// shutdownTimeout bounds how long stopping the actors may take.
const shutdownTimeout = 10 * time.Second

// ErrNoServerAddress indicates missing server configuration.
var ErrNoServerAddress = errors.New("no server address configured")

// Run starts the timer runtime and its gRPC control server and blocks until
// ctx is canceled or the server stops.
//
//nolint:funlen // Linear wiring of the daemon; splitting would scatter it.
func Run(ctx context.Context, opts *Options) error {
	// Load configuration first to get server and logging settings.
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	configureLogger(settings)
	defer logger.Sync()

	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "timed-devices")

	// Determine listen address: CLI argument overrides config port extraction.
	listenAddress, err := resolveListenAddress(settings.ServerAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	// Open the repository holding instance records.
	repo, err := openRepository(ctx, settings, opts.StateFile)
	if err != nil {
		return fmt.Errorf("open state repository: %w", err)
	}

	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			logger.WarnKV(ctx, "Failed to close the state repository", "error", closeErr)
		}
	}()

	// Metrics are always collected, served only when an address is configured.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	collector := metrics.New(registry)

	// Wire host, supervisor and the change feed between them.
	h := host.New(repo, nil)
	sup := supervisor.New(h, supervisor.Options{
		ShowTimer:    settings.ShowTimer,
		Verbose:      settings.Verbose,
		PollInterval: settings.PollInterval,
		Clock:        nil,
		Location:     settings.Location(),
		Metrics:      collector,
	})

	h.Subscribe(sup.SourceChanged)
	metrics.RegisterRuntime(registry, sup, version.Labels())

	svc := newService(sup, h)
	if err = svc.apply(ctx, settings); err != nil {
		return fmt.Errorf("start instances: %w", err)
	}

	// Stop every actor on the way out, whatever ends the server.
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if stopErr := sup.StopAll(stopCtx); stopErr != nil {
			logger.ErrorKV(ctx, "Failed to stop instances", "error", stopErr)
		}
	}()

	go sup.RunHeartbeat(ctx, settings.TickInterval)

	go watchConfig(ctx, opts.ConfigPath, svc)

	if settings.MetricsAddress != "" {
		go serveMetrics(ctx, settings.MetricsAddress, registry)
	}

	// Setup TCP listener for gRPC server.
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	// Create and configure gRPC server with the timer service.
	grpcServer := grpc.NewServer()
	api.RegisterTimerServiceServer(grpcServer, api.NewServer(svc))

	logger.InfoKV(ctx, "Timed devices server listening",
		"listen_address", listenAddress,
		"state_backend", settings.StateBackend,
		"instances", sup.Len(),
		"version", version.Short())

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down gRPC server")
		grpcServer.GracefulStop()
		close(done)
	}()

	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "GRPC server stopped")

	return nil
}

// configureLogger applies the logging settings to the global logger.
func configureLogger(settings *config.Config) {
	level, ok := logger.ParseLogLevel(settings.LogLevel)
	if !ok {
		level = logger.Level()
	}

	format, _ := logger.ParseFormat(settings.LogFormat)

	logger.Configure(level, format)
}

// openRepository opens the configured backend, override replacing its path.
//
//nolint:ireturn // The backend is chosen at runtime.
func openRepository(ctx context.Context, settings *config.Config, override string) (repository.Repository, error) {
	switch settings.StateBackend {
	case config.BackendSQLite:
		path := settings.DatabaseFile
		if override != "" {
			path = override
		}

		return repository.NewSQLiteRepository(ctx, path)
	default:
		path := settings.StateFile
		if override != "" {
			path = override
		}

		return repository.NewFileRepository(path), nil
	}
}

// watchConfig applies every configuration reload until ctx is done.
func watchConfig(ctx context.Context, path string, svc *service) {
	err := config.Watch(ctx, path, func(cfg *config.Config) {
		configureLogger(cfg)

		if err := svc.apply(ctx, cfg); err != nil {
			logger.ErrorKV(ctx, "Failed to apply the reloaded configuration", "error", err)
		}
	})
	if err != nil {
		logger.WarnKV(ctx, "Configuration hot reload is disabled", "error", err)
	}
}

// serveMetrics serves /metrics until ctx is done.
func serveMetrics(ctx context.Context, address string, gatherer prometheus.Gatherer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(gatherer))

	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}()

	logger.InfoKV(ctx, "Metrics listening", "metrics_address", address)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.ErrorKV(ctx, "Metrics server failed", "error", err)
	}
}

// resolveListenAddress determines the listen address for the gRPC server.
// If override is provided, uses it directly. Otherwise extracts port from configAddr.
// Returns appropriate listen address (e.g., ":8080" for port-only binding).
func resolveListenAddress(configAddr, override string) (string, error) {
	// Use override address if provided (e.g., ":9090", "0.0.0.0:8080").
	if override != "" {
		return override, nil
	}

	// Extract port from config address (e.g., "server.example.com:8080" -> ":8080").
	if configAddr == "" {
		return "", ErrNoServerAddress
	}

	// Parse the address to extract port.
	_, port, err := net.SplitHostPort(configAddr)
	if err != nil {
		return "", fmt.Errorf("invalid server address format %q: %w", configAddr, err)
	}

	// Return port-only listen address to bind on all interfaces.
	return ":" + port, nil
}
