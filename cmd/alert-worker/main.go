package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wolfman30/rehab-clinic-platform/cmd/mainconfig"
	"github.com/wolfman30/rehab-clinic-platform/internal/app/bootstrap"
	"github.com/wolfman30/rehab-clinic-platform/internal/config"
	"github.com/wolfman30/rehab-clinic-platform/internal/events"
	"github.com/wolfman30/rehab-clinic-platform/internal/observability/metrics"
	"github.com/wolfman30/rehab-clinic-platform/internal/packages"
	"github.com/wolfman30/rehab-clinic-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("alert worker requires DATABASE_URL")
		os.Exit(1)
	}

	pool := bootstrap.BuildPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		os.Exit(1)
	}
	defer pool.Close()

	stores, err := bootstrap.BuildStores(pool, cfg.DatabaseURL, cfg.MemoryPatientIDs, logger)
	if err != nil {
		logger.Error("failed to build stores", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		logger.Warn("sweeps are not serialized with API consumes without redis")
	}

	awsCfg, err := mainconfig.LoadOptionalAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	packageMetrics := metrics.NewPackageMetrics(prometheus.DefaultRegisterer)
	service := bootstrap.BuildPackageService(stores, bootstrap.BuildLocker(redisClient, cfg, logger), cfg, packageMetrics, logger)

	handler := bootstrap.BuildDeliveryHandler(cfg, awsCfg, stores.Patients, packageMetrics, logger)
	deliverer := events.NewDeliverer(stores.Outbox, handler, logger).WithInterval(cfg.OutboxPollInterval)

	sweepInterval := cfg.PackageSweepInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}
	sweeper := packages.NewSweeper(service, sweepInterval, cfg.PackageExpiringSoonWindow, logger)

	go deliverer.Start(ctx)
	go sweeper.Start(ctx)
	logger.Info("alert worker started", "outbox_interval", cfg.OutboxPollInterval, "sweep_interval", sweepInterval)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("alert worker shutting down")
	cancel()
	time.Sleep(2 * time.Second)
}
