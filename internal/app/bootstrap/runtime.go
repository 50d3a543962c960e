package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/rehab-clinic-platform/internal/compliance"
	appconfig "github.com/wolfman30/rehab-clinic-platform/internal/config"
	"github.com/wolfman30/rehab-clinic-platform/internal/events"
	"github.com/wolfman30/rehab-clinic-platform/internal/locks"
	"github.com/wolfman30/rehab-clinic-platform/internal/observability/metrics"
	"github.com/wolfman30/rehab-clinic-platform/internal/packages"
	"github.com/wolfman30/rehab-clinic-platform/internal/patients"
	"github.com/wolfman30/rehab-clinic-platform/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not available; package locks stay in-process", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPostgresPool returns nil when url is empty or the database cannot be reached.
func BuildPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("failed to reach postgres", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// BuildLocker prefers Redis so several API replicas share package locks.
func BuildLocker(client *redis.Client, cfg *appconfig.Config, logger *logging.Logger) locks.Locker {
	if client == nil || cfg == nil {
		return locks.NewLocalLocker()
	}
	return locks.NewRedisLocker(client, cfg.PackageLockTTL, logger)
}

// Stores groups the persistence the package service and outbox deliverer need.
type Stores struct {
	Packages packages.Repository
	Patients patients.Directory
	Outbox   events.Source
	Audit    *compliance.AuditService

	closers []func()
}

// Close releases the audit connection. The pool is owned by the caller.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// BuildStores wires Postgres-backed stores when pool is set and in-memory ones otherwise.
// In memory mode, memoryPatientIDs restricts which patients exist; empty accepts any id.
func BuildStores(pool *pgxpool.Pool, databaseURL string, memoryPatientIDs []string, logger *logging.Logger) (*Stores, error) {
	if pool == nil {
		if logger == nil {
			logger = logging.Default()
		}
		logger.Warn("no database; using in-memory stores", "seeded_patients", len(memoryPatientIDs))
		outbox := events.NewMemoryOutbox()
		return &Stores{
			Packages: packages.NewInMemoryRepository().WithOutbox(outbox),
			Patients: memoryDirectory(memoryPatientIDs),
			Outbox:   outbox,
		}, nil
	}

	auditDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open audit db: %w", err)
	}
	return &Stores{
		Packages: packages.NewPostgresRepository(pool),
		Patients: patients.NewPostgresDirectory(pool),
		Outbox:   events.NewOutboxStore(pool),
		Audit:    compliance.NewAuditService(auditDB),
		closers:  []func(){func() { _ = auditDB.Close() }},
	}, nil
}

// BuildPackageService applies the configured locker, metrics, auditor and alert method.
func BuildPackageService(stores *Stores, locker locks.Locker, cfg *appconfig.Config, m *metrics.PackageMetrics, logger *logging.Logger) *packages.Service {
	svc := packages.NewService(stores.Packages, stores.Patients, logger).
		WithLocker(locker).
		WithMetrics(m).
		WithAlertMethod(packages.ParseAlertMethod(cfg.AlertDeliveryMethod))
	if stores.Audit != nil {
		svc = svc.WithAuditor(stores.Audit)
	}
	return svc
}

func memoryDirectory(ids []string) *patients.StaticDirectory {
	if len(ids) == 0 {
		return patients.NewPermissiveDirectory()
	}
	seed := make([]patients.Patient, 0, len(ids))
	for _, id := range ids {
		seed = append(seed, patients.Patient{ID: id})
	}
	return patients.NewStaticDirectory(seed...)
}
