// Package server assembles the HTTP router: global middleware, the report
// pipeline and operator routes.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/scamalert/report-server/internal/handlers"
	"github.com/scamalert/report-server/internal/middleware"
	"github.com/scamalert/report-server/internal/ratelimit"
	"github.com/scamalert/report-server/internal/security"
	"github.com/scamalert/report-server/internal/services"
)

// Deps are the collaborators the router needs.
type Deps struct {
	Logger *zap.Logger

	CSRF        *security.CSRFGuard
	Limiter     ratelimit.Limiter
	Hasher      *security.IdentityHasher
	Submissions *services.SubmissionService
	Quota       *services.QuotaService
	Checks      map[string]handlers.ReadinessCheck

	AllowedOrigins    []string
	IdentityHeader    string
	JWTSecret         string
	MaxBodyBytes      int64
	RateLimitFailOpen bool
	RequestTimeout    time.Duration
}

// NewRouter builds the chi router. On POST /api/v1/reports the CSRF guard
// runs before the rate limiter, and both run before the body is read.
func NewRouter(d Deps) http.Handler {
	sugar := d.Logger.Sugar()
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	csrfHandler := handlers.NewCSRFHandler(d.CSRF, sugar)
	reportHandler := handlers.NewReportHandler(d.Submissions, d.IdentityHeader, d.MaxBodyBytes, sugar)
	adminHandler := handlers.NewAdminHandler(d.Quota, d.Limiter, d.Hasher, sugar)
	healthHandler := handlers.NewHealthHandler(d.Checks, sugar)

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(d.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))
	r.Use(middleware.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", d.CSRF.HeaderName},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.Metrics())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Check)
		r.Get("/health/ready", healthHandler.Ready)

		r.Get("/csrf", csrfHandler.Issue)

		r.Route("/reports", func(r chi.Router) {
			r.Use(middleware.CSRF(d.CSRF, sugar))
			r.Use(middleware.RateLimit(d.Limiter, d.Hasher, d.IdentityHeader, d.RateLimitFailOpen, sugar))
			r.Post("/", reportHandler.Submit)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAuth(d.JWTSecret))
			r.Get("/quota/{ip}", adminHandler.QuotaStatus)
			r.Delete("/ratelimit/{ip}", adminHandler.ResetRateLimit)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
