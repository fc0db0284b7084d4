package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RateLimitCapacity != 5 || cfg.RateLimitWindow != time.Minute {
		t.Fatalf("unexpected limiter defaults: capacity=%d window=%v", cfg.RateLimitCapacity, cfg.RateLimitWindow)
	}
	if cfg.DailyReportQuota != 3 {
		t.Fatalf("expected daily quota 3, got %d", cfg.DailyReportQuota)
	}
	if cfg.MaxImageBytes != 5<<20 {
		t.Fatalf("expected 5MiB image cap, got %d", cfg.MaxImageBytes)
	}
	if len(cfg.AllowedImageTypes) != 4 {
		t.Fatalf("expected 4 allowed image types, got %v", cfg.AllowedImageTypes)
	}
	if cfg.CSRFTTL != 24*time.Hour {
		t.Fatalf("expected 24h csrf ttl, got %v", cfg.CSRFTTL)
	}
	if cfg.IsProduction() {
		t.Fatalf("development config reported as production")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "10")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("RATE_LIMIT_BACKEND", "REDIS")
	t.Setenv("ALLOWED_IMAGE_TYPES", " image/png , ,image/gif")
	t.Setenv("ALLOW_PRIVATE_IMAGE_HOSTS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RateLimitCapacity != 10 || cfg.RateLimitWindow != 30*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.RateLimitBackend != "redis" {
		t.Fatalf("expected backend redis, got %q", cfg.RateLimitBackend)
	}
	if len(cfg.AllowedImageTypes) != 2 || cfg.AllowedImageTypes[0] != "image/png" {
		t.Fatalf("unexpected image types %v", cfg.AllowedImageTypes)
	}
	if !cfg.AllowPrivateImageHosts {
		t.Fatalf("expected private hosts allowed")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"RATE_LIMIT_CAPACITY": "0",
		"DAILY_REPORT_QUOTA":  "-1",
		"RATE_LIMIT_BACKEND":  "memcached",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", key, val)
			}
		})
	}
}

func TestLoadProductionRequiresSecrets(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/reports")
	t.Setenv("JWT_SECRET", "prod-secret")

	if _, err := Load(); err == nil {
		t.Fatalf("expected missing IDENTITY_HASH_KEY to fail in production")
	}

	t.Setenv("IDENTITY_HASH_KEY", "prod-identity-key")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.IsProduction() {
		t.Fatalf("expected production")
	}
}
