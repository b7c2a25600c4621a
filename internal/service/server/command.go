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
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	api "github.com/oshokin/alarm-sink/internal/api/grpc/alarm"
	"github.com/oshokin/alarm-sink/internal/config"
	"github.com/oshokin/alarm-sink/internal/consumer"
	"github.com/oshokin/alarm-sink/internal/logger"
	"github.com/oshokin/alarm-sink/internal/metrics"
	"github.com/oshokin/alarm-sink/internal/service/lifecycle"
	"github.com/oshokin/alarm-sink/internal/version"
)

// Options controls the alarm-sink-server process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the gRPC server.
	ListenAddress string
	// StateFile overrides the inventory path of the file backend.
	StateFile string
	// MetricsAddress overrides the Prometheus listen address.
	MetricsAddress string

	// ready, when set, receives the bound gRPC address once the server accepts connections.
	ready func(address string)
}

// ErrNoServerAddress indicates missing server configuration.
var ErrNoServerAddress = errors.New("no server address configured")

const (
	metricsReadHeaderTimeout = 5 * time.Second
	// storeRetryInterval is the pause before a consumed event is retried while the store is unavailable.
	storeRetryInterval = time.Second
)

// Run starts the gRPC server and blocks until context is canceled or a component fails.
// Loads configuration first, then determines listen address from config or override.
//
//nolint:funlen // Startup wiring reads best top to bottom.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "alarm-sink-server")

	// Load configuration first to get server settings.
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if !logger.Setup(settings.LogLevel, settings.LogFormat) {
		logger.WarnKV(ctx, "Unknown log level, keeping default", "log_level", settings.LogLevel)
	}

	if opts.StateFile != "" {
		settings.Storage.StateFile = opts.StateFile
	}

	if opts.MetricsAddress != "" {
		settings.MetricsAddress = opts.MetricsAddress
	}

	// Determine listen address: CLI argument overrides config port extraction.
	listenAddress, err := resolveListenAddress(settings.ServerAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	repo, closeRepo, err := openRepository(ctx, &settings.Storage, settings.Timeout)
	if err != nil {
		return fmt.Errorf("open inventory: %w", err)
	}

	defer func() {
		if closeErr := closeRepo(); closeErr != nil {
			logger.ErrorKV(ctx, "Failed to close inventory", "error", closeErr)
		}
	}()

	store := lifecycle.NewStore(settings.Shards)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	recorder, err := metrics.NewRecorder(registry, store.Active)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	engineOpts := []lifecycle.Option{lifecycle.WithMetrics(recorder)}
	if repo != nil {
		engineOpts = append(engineOpts, lifecycle.WithRepository(repo))
	}

	engine := lifecycle.NewEngine(store, engineOpts...)
	if err = engine.Restore(ctx); err != nil {
		return fmt.Errorf("restore inventory: %w", err)
	}

	var reader *kafka.Reader

	if settings.Kafka.Enabled() {
		if reader, err = consumer.NewReader(&settings.Kafka); err != nil {
			return fmt.Errorf("create kafka reader: %w", err)
		}
	}

	// Setup TCP listener for gRPC server.
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		if reader != nil {
			_ = reader.Close()
		}

		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	grpcServer := grpc.NewServer()
	api.RegisterAlarmServiceServer(grpcServer, api.NewServer(engine))

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.InfoKV(ctx, "Alarm server listening",
			"version", version.Short(),
			"listen_address", lis.Addr().String(),
			"backend", settings.Storage.Backend,
		)

		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info(ctx, "Shutting down gRPC server")
		grpcServer.GracefulStop()

		return nil
	})

	if settings.MetricsAddress != "" {
		startMetricsServer(ctx, groupCtx, group, settings.MetricsAddress, registry)
	}

	if reader != nil {
		startConsumer(ctx, groupCtx, group, reader, settings, engine, recorder)
	}

	if opts.ready != nil {
		opts.ready(lis.Addr().String())
	}

	err = group.Wait()

	logger.InfoKV(ctx, "Alarm server stopped", "active_alarms", engine.NumberOfAlarms())

	return err
}

// startMetricsServer serves /metrics and /healthz until groupCtx ends.
func startMetricsServer(
	ctx, groupCtx context.Context,
	group *errgroup.Group,
	address string,
	registry *prometheus.Registry,
) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	mux.HandleFunc("/healthz", healthz)

	httpServer := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	group.Go(func() error {
		logger.InfoKV(ctx, "Metrics listening", "metrics_address", address)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve metrics: %w", err)
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsReadHeaderTimeout)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// startConsumer runs the Kafka consumer behind a worker pool until groupCtx ends.
func startConsumer(
	ctx, groupCtx context.Context,
	group *errgroup.Group,
	reader consumer.MessageReader,
	settings *config.Config,
	engine *lifecycle.Engine,
	recorder *metrics.Recorder,
) {
	pool := lifecycle.NewPool(groupCtx, engine, settings.Workers, lifecycle.WithRetry(storeRetryInterval))
	events := consumer.New(reader, pool,
		consumer.WithMetrics(recorder),
		consumer.WithMaxInFlight(settings.Workers),
	)

	logger.InfoKV(ctx, "Consuming alarm events",
		"brokers", settings.Kafka.BrokerList(),
		"topic", settings.Kafka.Topic,
		"group_id", settings.Kafka.GroupID,
		"workers", settings.Workers,
	)

	group.Go(func() error {
		defer func() {
			pool.Close()

			if err := events.Close(); err != nil {
				logger.ErrorKV(ctx, "Failed to close kafka reader", "error", err)
			}
		}()

		if err := events.Run(groupCtx); err != nil {
			return fmt.Errorf("consume events: %w", err)
		}

		return nil
	})
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
