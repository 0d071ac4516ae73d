// Command server runs the modelrelay HTTP gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelrelay/modelrelay"
	"github.com/modelrelay/modelrelay/internal/api"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/events"
	"github.com/modelrelay/modelrelay/internal/healthcheck"
	"github.com/modelrelay/modelrelay/internal/observability"
	"github.com/modelrelay/modelrelay/internal/statestore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgManager, err := config.NewManager(configPath, nil)
	if err != nil {
		return err
	}
	defer func() { _ = cfgManager.Close() }()
	cfg := cfgManager.Get()

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.Format == "json",
	})
	logger.Info("starting modelrelay", "version", modelrelay.Version, "config", configPath)
	for _, warning := range cfg.Warnings() {
		logger.Warn("config warning", "warning", warning)
	}

	tracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown", "error", err)
		}
	}()

	bus := events.NewBus(logger, cfg.Events.BufferSize)
	defer bus.Close()
	bus.Subscribe(func(ev events.Event) {
		logger.Info("event", "type", ev.Type, "provider", ev.Provider, "data", ev.Data)
	})

	client, err := modelrelay.New(
		modelrelay.WithConfig(cfg),
		modelrelay.WithLogger(logger),
		modelrelay.WithTracer(tracing.Tracer()),
		modelrelay.WithEventBus(bus),
	)
	if err != nil {
		return err
	}

	cfgManager.OnChange(func(next *config.Config) {
		if err := client.Apply(next); err != nil {
			logger.Error("failed to apply reloaded config", "error", err)
			return
		}
		bus.Publish(events.New(events.EventConfigReloaded, "", nil))
	})
	if err := cfgManager.Watch(ctx); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	if cfg.Redis.Enabled {
		store, err := statestore.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() { _ = store.Close() }()
		mirror := statestore.NewMirror(store, client.Manager().Status, logger, cfg.Redis.MirrorInterval())
		go mirror.Run(ctx)
	}

	prober := healthcheck.NewProber(healthcheck.Config{
		Enabled:  cfg.HealthCheck.Enabled,
		Interval: cfg.HealthCheck.Interval(),
		Timeout:  cfg.HealthCheck.ProbeTimeout(),
	}, client.Providers(), client.Manager(), bus, logger)
	prober.Start(ctx)

	providerNames := make([]string, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providerNames = append(providerNames, p.Name)
	}
	handler := api.NewHandler(client, client.Manager().Status, providerNames, logger)
	router := handler.NewRouter(api.RouterConfig{
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
