// Package middleware provides HTTP middleware for the report server.
package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/scamalert/report-server/internal/metrics"
	"github.com/scamalert/report-server/internal/ratelimit"
	"github.com/scamalert/report-server/internal/response"
	"github.com/scamalert/report-server/internal/security"
	"github.com/scamalert/report-server/internal/services"
)

// StructuredLogger returns a middleware that logs HTTP requests with zap
func StructuredLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			logger.Info("HTTP Request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.statusCode),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", r.Header.Get("X-Request-ID")),
			)
		})
	}
}

// SecurityHeaders sets hardening headers on every response
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth validates HMAC-signed JWT bearer tokens for protected routes
func RequireAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", nil)
				return
			}

			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
			token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))

			if err != nil || !token.Valid {
				response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CSRF rejects state-changing requests whose header token does not match
// the cookie token. Safe methods pass through.
func CSRF(guard *security.CSRFGuard, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := guard.Validate(r)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			code := services.CodeCSRFInvalid
			if errors.Is(err, security.ErrCSRFMissing) {
				code = services.CodeCSRFMissing
			}
			services.RecordRejection(services.StageCSRF, code)
			logger.Infow("CSRF check failed", "code", code, "path", r.URL.Path)
			response.Error(w, http.StatusForbidden, code, nil)
		})
	}
}

// RateLimit admits one token per request from the caller's bucket. The
// bucket key is the keyed hash of the client identity. When failOpen is set
// a limiter backend error lets the request through instead of failing it.
func RateLimit(limiter ratelimit.Limiter, hasher *security.IdentityHasher, identityHeader string, failOpen bool, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := security.ClientIdentity(r, identityHeader)
			if err != nil {
				services.RecordRejection(services.StageRateLimit, services.CodeIdentityUnknown)
				response.Error(w, http.StatusBadRequest, services.CodeIdentityUnknown, nil)
				return
			}

			decision, err := limiter.Admit(r.Context(), hasher.Hash(identity), 1)
			if err != nil {
				if failOpen {
					logger.Warnw("Rate limiter unavailable, admitting request", "error", err)
					next.ServeHTTP(w, r)
					return
				}
				logger.Errorw("Rate limiter failed", "error", err)
				services.RecordRejection(services.StageRateLimit, services.CodeInternal)
				response.Error(w, http.StatusInternalServerError, services.CodeInternal, nil)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				services.RecordRejection(services.StageRateLimit, services.CodeRateLimited)
				logger.Infow("Rate limit exceeded", "path", r.URL.Path, "retry_after", decision.RetryAfter)
				response.Throttled(w, services.CodeRateLimited, decision.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Metrics records request counts and latency per chi route pattern
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
