// Package main is the entry point for the price-gouging report server.
// It accepts public report submissions behind a CSRF guard, a per-identity
// rate limiter, payload validation, image verification and a daily quota.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/scamalert/report-server/internal/config"
	"github.com/scamalert/report-server/internal/database"
	"github.com/scamalert/report-server/internal/handlers"
	"github.com/scamalert/report-server/internal/imagecheck"
	"github.com/scamalert/report-server/internal/metrics"
	"github.com/scamalert/report-server/internal/ratelimit"
	"github.com/scamalert/report-server/internal/security"
	"github.com/scamalert/report-server/internal/server"
	"github.com/scamalert/report-server/internal/services"
	"github.com/scamalert/report-server/internal/validation"
)

func main() {
	// Initialize structured logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	sugar := logger.Sugar()

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("Failed to load config: %v", err)
	}

	sugar.Infow("Starting report server",
		"port", cfg.Port,
		"env", cfg.Environment,
		"rate_limit_backend", cfg.RateLimitBackend,
		"daily_quota", cfg.DailyReportQuota,
	)

	ctx := context.Background()
	checks := map[string]handlers.ReadinessCheck{}

	// Report store: PostgreSQL when configured, otherwise in-memory
	var store services.ReportStore
	if cfg.DatabaseURL != "" {
		if cfg.AutoMigrate {
			if err := database.Migrate(cfg.DatabaseURL, sugar); err != nil {
				sugar.Fatalf("Failed to migrate database: %v", err)
			}
		}
		db, err := database.NewPool(ctx, cfg.DatabaseURL, sugar)
		if err != nil {
			sugar.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		store = services.NewPostgresReportStore(db, sugar)
		checks["database"] = store.Ping
	} else {
		sugar.Warn("DATABASE_URL not set, reports are kept in memory")
		store = services.NewMemoryReportStore()
	}

	// Rate limiter: shared Redis buckets or a bounded in-process table
	policy := ratelimit.Policy{
		Capacity:    cfg.RateLimitCapacity,
		Window:      cfg.RateLimitWindow,
		BackoffBase: cfg.RateLimitBackoffBase,
		BackoffMax:  cfg.RateLimitBackoffMax,
	}
	var limiter ratelimit.Limiter
	switch cfg.RateLimitBackend {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			sugar.Fatalf("Invalid REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			sugar.Fatalf("Failed to connect to redis: %v", err)
		}
		limiter = ratelimit.NewRedisLimiter(rdb, "ratelimit", policy)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	default:
		mem := ratelimit.NewMemoryLimiter(policy, cfg.RateLimitMaxIdentities)
		metrics.RegisterBucketGauge(mem.Len)
		limiter = mem
	}

	// Initialize services
	hasher := security.NewIdentityHasher(cfg.IdentityHashKey)
	verifier := imagecheck.NewVerifier(imagecheck.Options{
		MaxBytes:          cfg.MaxImageBytes,
		AllowedTypes:      cfg.AllowedImageTypes,
		Timeout:           cfg.ImageProbeTimeout,
		AllowPrivateHosts: cfg.AllowPrivateImageHosts,
	})
	quotaSvc := services.NewQuotaService(store, cfg.DailyReportQuota, sugar)
	submissionSvc := services.NewSubmissionService(validation.New(), verifier, quotaSvc, store, hasher, sugar)

	router := server.NewRouter(server.Deps{
		Logger:            logger,
		CSRF:              security.NewCSRFGuard(cfg.CSRFCookieName, cfg.CSRFHeaderName, cfg.CSRFTTL, cfg.IsProduction()),
		Limiter:           limiter,
		Hasher:            hasher,
		Submissions:       submissionSvc,
		Quota:             quotaSvc,
		Checks:            checks,
		AllowedOrigins:    cfg.AllowedOrigins,
		IdentityHeader:    cfg.IdentityHeader,
		JWTSecret:         cfg.JWTSecret,
		MaxBodyBytes:      cfg.MaxBodyBytes,
		RateLimitFailOpen: cfg.RateLimitFailOpen,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sugar.Infof("Server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	sugar.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Fatalf("Forced shutdown: %v", err)
	}

	sugar.Info("Server stopped")
}
