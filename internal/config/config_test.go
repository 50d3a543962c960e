package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ALERT_DELIVERY_METHOD", "")
	t.Setenv("PACKAGE_SWEEP_INTERVAL", "")
	t.Setenv("API_RUN_WORKERS", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if !cfg.UseMemoryStores() {
		t.Fatalf("expected memory stores without DATABASE_URL")
	}
	if cfg.AlertDeliveryMethod != "panel" {
		t.Fatalf("expected panel alert delivery, got %s", cfg.AlertDeliveryMethod)
	}
	if cfg.PackageSweepInterval != 0 {
		t.Fatalf("expected sweep disabled by default, got %s", cfg.PackageSweepInterval)
	}
	if cfg.PackageLockTTL != 10*time.Second {
		t.Fatalf("expected default lock ttl, got %s", cfg.PackageLockTTL)
	}
	if !cfg.RunWorkersInAPI {
		t.Fatalf("expected workers to run in the API by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("ALERT_DELIVERY_METHOD", " EMAIL ")
	t.Setenv("ALERT_EMAIL_RECIPIENTS", "front@clinic.test, ,owner@clinic.test")
	t.Setenv("PACKAGE_SWEEP_INTERVAL", "15m")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("API_RUN_WORKERS", "false")
	t.Setenv("MEMORY_PATIENT_IDS", "patient-1, ,patient-2")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.UseMemoryStores() {
		t.Fatalf("expected postgres stores when DATABASE_URL set")
	}
	if cfg.AlertDeliveryMethod != "email" {
		t.Fatalf("expected email delivery, got %q", cfg.AlertDeliveryMethod)
	}
	if len(cfg.AlertEmailRecipients) != 2 || cfg.AlertEmailRecipients[1] != "owner@clinic.test" {
		t.Fatalf("unexpected recipients %#v", cfg.AlertEmailRecipients)
	}
	if len(cfg.MemoryPatientIDs) != 2 || cfg.MemoryPatientIDs[1] != "patient-2" {
		t.Fatalf("unexpected memory patient ids %#v", cfg.MemoryPatientIDs)
	}
	if cfg.PackageSweepInterval != 15*time.Minute {
		t.Fatalf("expected sweep interval override, got %s", cfg.PackageSweepInterval)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Fatalf("expected rate override, got %v", cfg.RateLimitRPS)
	}
	if !cfg.RedisTLS {
		t.Fatalf("expected redis tls enabled")
	}
	if cfg.RunWorkersInAPI {
		t.Fatalf("expected API workers disabled")
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "many")
	t.Setenv("PACKAGE_LOCK_TTL", "soon")
	cfg := Load()
	if cfg.RateLimitBurst != 40 {
		t.Fatalf("expected default burst, got %d", cfg.RateLimitBurst)
	}
	if cfg.PackageLockTTL != 10*time.Second {
		t.Fatalf("expected default lock ttl, got %s", cfg.PackageLockTTL)
	}
}
