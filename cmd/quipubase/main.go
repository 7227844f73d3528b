// Command quipubase runs the Quipubase core engine: the schema registry,
// record store, event bus, and HTTP/streaming surface wired together
// behind a single embedded KV engine file.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/asaidimu/go-events"
	"github.com/quipubase/quipubase-go/internal/api"
	"github.com/quipubase/quipubase-go/internal/config"
	"github.com/quipubase/quipubase-go/internal/eventbus"
	"github.com/quipubase/quipubase-go/internal/kv"
	"github.com/quipubase/quipubase-go/internal/registry"
	"github.com/quipubase/quipubase-go/internal/store"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", zap.String("path", cfg.DataDir), zap.Error(err))
		return err
	}

	dbPath := cfg.DataDir + "/quipubase.db"
	kvEngine, err := kv.Open(dbPath)
	if err != nil {
		logger.Error("failed to open kv engine", zap.String("path", dbPath), zap.Error(err))
		return err
	}

	reg := registry.New(kvEngine)
	ctx := context.Background()
	if err := reg.Load(ctx); err != nil {
		logger.Error("failed to load schema registry", zap.Error(err))
		return err
	}

	telemetryBus, err := events.NewTypedEventBus[store.RecordEvent](events.DefaultConfig())
	if err != nil {
		logger.Error("failed to construct telemetry bus", zap.Error(err))
		return err
	}
	telemetry := store.NewTelemetry(telemetryBus, logger)

	bus := eventbus.New(
		eventbus.WithBufferCapacity(cfg.SubscriberBuffer),
		eventbus.WithDropHandler(telemetry.SlowSubscriberWarning),
	)

	engine := store.NewEngine(kvEngine, reg, bus, telemetry)

	var draining atomic.Bool
	server := api.NewServer(api.Options{
		Addr:              cfg.ListenAddr,
		Engine:            engine,
		Logger:            logger,
		KeepAliveInterval: cfg.KeepAliveInterval,
		ShuttingDown:      draining.Load,
	})

	logger.Info("starting quipubase",
		zap.String("addr", cfg.ListenAddr),
		zap.String("data_dir", cfg.DataDir),
	)

	serverErrors := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return err
	case sig := <-signals:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	draining.Store(true)

	// Broadcast stop on every topic first so streaming handlers return and
	// server.Shutdown does not wait on them until the deadline.
	bus.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server did not shut down cleanly", zap.Error(err))
	}

	if err := engine.Shutdown(); err != nil {
		logger.Error("engine shutdown failed", zap.Error(err))
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
