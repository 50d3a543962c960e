package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/rehab-clinic-platform/cmd/mainconfig"
	"github.com/wolfman30/rehab-clinic-platform/internal/api/router"
	"github.com/wolfman30/rehab-clinic-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/rehab-clinic-platform/internal/config"
	"github.com/wolfman30/rehab-clinic-platform/internal/events"
	"github.com/wolfman30/rehab-clinic-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/rehab-clinic-platform/internal/http/middleware"
	"github.com/wolfman30/rehab-clinic-platform/internal/observability/metrics"
	"github.com/wolfman30/rehab-clinic-platform/internal/packages"
	"github.com/wolfman30/rehab-clinic-platform/pkg/logging"
)

func main() {
	// .env is optional; deployments set the environment directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting rehab-clinic-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"memory_stores", cfg.UseMemoryStores(),
	)
	if cfg.StaffJWTSecret == "" {
		logger.Error("STAFF_JWT_SECRET is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthChecks := map[string]router.Pinger{}

	pool := bootstrap.BuildPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil && !cfg.UseMemoryStores() {
		logger.Error("postgres unavailable; refusing to start with DATABASE_URL set")
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
		healthChecks["postgres"] = pool
	}
	stores, err := bootstrap.BuildStores(pool, cfg.DatabaseURL, cfg.MemoryPatientIDs, logger)
	if err != nil {
		logger.Error("failed to build stores", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
		healthChecks["redis"] = redisPinger{client: redisClient}
	}

	registry, metricsHandler := setupMetrics()
	packageMetrics := metrics.NewPackageMetrics(registry)

	service := bootstrap.BuildPackageService(stores, bootstrap.BuildLocker(redisClient, cfg, logger), cfg, packageMetrics, logger)

	var deliverer *events.Deliverer
	if cfg.RunWorkersInAPI || cfg.UseMemoryStores() {
		awsCfg, err := mainconfig.LoadOptionalAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		handler := bootstrap.BuildDeliveryHandler(cfg, awsCfg, stores.Patients, packageMetrics, logger)
		deliverer = events.NewDeliverer(stores.Outbox, handler, logger).WithInterval(cfg.OutboxPollInterval)
		go deliverer.Start(ctx)
		go packages.NewSweeper(service, cfg.PackageSweepInterval, cfg.PackageExpiringSoonWindow, logger).Start(ctx)
	} else {
		logger.Info("outbox delivery and sweeps left to alert-worker")
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.RunEviction(ctx, time.Minute, 10*time.Minute)

	var adminAudit *handlers.AdminAuditHandler
	if stores.Audit != nil {
		adminAudit = handlers.NewAdminAuditHandler(stores.Audit, logger)
	}

	r := router.New(&router.Config{
		Logger:             logger,
		PackagesHandler:    packages.NewHandler(service, logger),
		AdminDashboard:     handlers.NewAdminDashboardHandler(service, logger),
		AdminAudit:         adminAudit,
		StaffJWTSecret:     cfg.StaffJWTSecret,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
		HealthChecks:       healthChecks,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if deliverer != nil {
		// In-memory outboxes do not survive a restart.
		deliverer.Drain(shutdownCtx)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func setupMetrics() (*prometheus.Registry, http.Handler) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
