package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tournevent/tracksync/internal/config"
	"github.com/tournevent/tracksync/internal/lock"
	"github.com/tournevent/tracksync/internal/store"
	"github.com/tournevent/tracksync/internal/telemetry"
	"github.com/tournevent/tracksync/pkg/carrier"
	"github.com/tournevent/tracksync/pkg/carrier/correios"
	"github.com/tournevent/tracksync/pkg/tracking"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type app struct {
	cfg     *config.Config
	logger  *otelzap.Logger
	service *tracking.Service
	closers []func(context.Context) error
}

func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("Shutdown step failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(level string) (*otelzap.Logger, error) {
	return telemetry.NewLogger(level)
}

func initTracer(ctx context.Context, cfg *config.Config) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return nil, func(context.Context) error { return nil }, nil
	}

	return telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version, cfg.Attributes()...)
}

func initCarrier(cfg *config.Config, logger *otelzap.Logger, tracer trace.Tracer) *correios.Client {
	loc, err := cfg.Location()
	if err != nil {
		logger.Warn("Unknown carrier time zone, using default",
			zap.String("timezone", cfg.CorreiosTimezone),
			zap.Error(err),
		)
		loc = nil
	}

	return correios.New(correios.Config{
		BaseURL:              cfg.CorreiosBaseURL,
		UseMock:              cfg.CorreiosUseMock,
		Timeout:              cfg.CorreiosTimeout,
		MaxRequestsPerSecond: cfg.CorreiosMaxRPS,
		BreakerEnabled:       cfg.CorreiosBreakerEnabled,
		Location:             loc,
	}, logger, tracer)
}

type stores interface {
	tracking.CredentialStore
	tracking.OrderStore
	tracking.TenantLister
}

func initStore(ctx context.Context, cfg *config.Config, logger *otelzap.Logger) (stores, func(context.Context) error, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return store.NewMemory(), func(context.Context) error { return nil }, nil
	}

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return pg, func(context.Context) error { return pg.Close() }, nil
}

func initLocker(ctx context.Context, cfg *config.Config, logger *otelzap.Logger) (tracking.Locker, func(context.Context) error, error) {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set, using in-process sync lock")
		return lock.NewLocal(), func(context.Context) error { return nil }, nil
	}

	locker, err := lock.NewLocker(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return locker, func(context.Context) error { return locker.Close() }, nil
}

// setup wires configuration, telemetry, storage and the sync service.
func setup(ctx context.Context) (*app, error) {
	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	// Initialize telemetry
	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	tracer, tracerShutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
	} else {
		a.closers = append(a.closers, tracerShutdown)
	}

	metrics := telemetry.NewMetrics(nil)

	st, closeStore, err := initStore(ctx, cfg, logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	a.closers = append(a.closers, closeStore)

	locker, closeLocker, err := initLocker(ctx, cfg, logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("initializing lock: %w", err)
	}
	a.closers = append(a.closers, closeLocker)

	a.service = tracking.NewService(tracking.ServiceConfig{
		Carrier:           initCarrier(cfg, logger, tracer),
		Credentials:       st,
		Orders:            st,
		Tenants:           st,
		Locker:            locker,
		LockTTL:           cfg.LockTTL,
		TenantConcurrency: cfg.SyncTenantConcurrency,
	}, correios.Classify, logger,
		tracking.WithBatchDelay(cfg.SyncBatchDelay),
		tracking.WithRecorder(metrics),
		tracking.WithTracer(tracer),
	)

	return a, nil
}

func printResult(cmd *cobra.Command, teamID string, result carrier.BatchResult, err error) {
	if err != nil {
		cmd.PrintErrf("%s: failed (%s): %v\n", teamID, carrier.ErrorType(err), err)
		if result.TotalProcessed == 0 {
			return
		}
	}
	cmd.Printf("%s: processed=%d updated=%d failed=%d chunks=%d failed_chunks=%d aborted=%t\n",
		teamID,
		result.TotalProcessed,
		result.SuccessfulUpdates,
		result.Failed(),
		result.Chunks,
		result.FailedChunks,
		result.Aborted,
	)
	for _, status := range carrier.Statuses {
		if n := result.ByStatus[status]; n > 0 {
			cmd.Printf("  %-10s %d\n", status, n)
		}
	}
}
