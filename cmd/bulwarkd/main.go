package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bulwarklabs/bulwark/internal/api"
	"github.com/bulwarklabs/bulwark/internal/cache"
	"github.com/bulwarklabs/bulwark/internal/store"
	"github.com/bulwarklabs/bulwark/pkg/config"
	"github.com/bulwarklabs/bulwark/pkg/health"
	"github.com/bulwarklabs/bulwark/pkg/logging"
	"github.com/bulwarklabs/bulwark/pkg/metrics"
	"github.com/bulwarklabs/bulwark/pkg/monitor"
	"github.com/bulwarklabs/bulwark/pkg/resilience"
)

func main() {
	// A local .env is optional; real deployments set the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.GetLogger().Error("Failed to load configuration", "error", err.Error())
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "bulwarkd",
		Version:     version,
	})
	if err != nil {
		logging.GetLogger().Error("Failed to initialize logger", "error", err.Error())
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("bulwarkd exited with error", "error", err.Error())
		os.Exit(1)
	}
}

var version = "dev"

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(&metrics.Config{
		Namespace: cfg.Metrics.Namespace,
		Enabled:   cfg.Metrics.Enabled,
	})

	st, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	c := cache.New(st, &cache.Config{
		DefaultTTL:          cfg.Cache.DefaultTTL,
		EnableCompression:   cfg.Cache.EnableCompression,
		CompressionMinBytes: cfg.Cache.CompressionMinBytes,
		PressureRatio:       cfg.Cache.PressureRatio,
		EvictFraction:       cfg.Cache.EvictFraction,
	}, logger, m)

	mon := monitor.New(monitor.DefaultConfig(), logger, m)

	registry := resilience.NewRegistry(resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
	}, logger, m)

	invoker := resilience.NewInvoker(c, registry, mon, m, logger, resilience.InvokerOptions{
		Retry: resilience.RetryPolicy{
			BaseDelay: cfg.Retry.BaseDelay,
			MaxDelay:  cfg.Retry.MaxDelay,
			Jitter:    cfg.Retry.Jitter,
		},
		SingleFlight: cfg.Invoker.SingleFlight,
	})
	invokeCfg := resilience.InvokeConfig{
		Timeout:      cfg.Invoker.Timeout,
		MaxRetries:   cfg.Retry.MaxRetries,
		CacheEnabled: cfg.Invoker.CacheEnabled,
		CacheTTL:     cfg.Invoker.CacheTTL,
	}

	var evaluator *health.Evaluator
	if cfg.Health.Enabled {
		evaluator = health.NewEvaluator(c, mon, registry, &health.Config{
			Interval:            cfg.Health.Interval,
			HitRateWarning:      cfg.Health.HitRateWarning,
			HitRateCritical:     cfg.Health.HitRateCritical,
			AvgDurationWarning:  cfg.Health.AvgDurationWarning,
			AvgDurationCritical: cfg.Health.AvgDurationCritical,
			MinCacheSamples:     health.DefaultConfig().MinCacheSamples,
			TripSuspension:      cfg.Health.TripSuspension,
		}, logger, nil)

		if err := evaluator.Start(ctx); err != nil {
			return err
		}
		defer evaluator.Stop()
	}

	server := api.NewServer(&cfg.Server, c, mon, registry, evaluator, st, m, logger, invoker, invokeCfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return server.Shutdown(shutdownCtx)
}

func newStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "redis":
		return store.NewRedisStore(cfg)
	default:
		return store.NewMemoryStore(int64(cfg.Store.LimitMB) * 1024 * 1024), nil
	}
}
