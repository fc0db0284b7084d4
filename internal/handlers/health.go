package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/scamalert/report-server/internal/models"
	"github.com/scamalert/report-server/internal/response"
)

const version = "1.0.0"

var startTime = time.Now()

// ReadinessCheck reports whether one dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// HealthHandler provides health check endpoints
type HealthHandler struct {
	checks map[string]ReadinessCheck
	logger *zap.SugaredLogger
}

// NewHealthHandler creates a new health handler. checks is keyed by
// dependency name, e.g. "database" or "redis".
func NewHealthHandler(checks map[string]ReadinessCheck, logger *zap.SugaredLogger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

// Check handles GET /api/v1/health (liveness probe)
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, models.HealthStatus{
		Status:  "ok",
		Version: version,
		Uptime:  time.Since(startTime).String(),
	})
}

// Ready handles GET /api/v1/health/ready (readiness probe)
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := models.HealthStatus{
		Status:  "ready",
		Version: version,
		Uptime:  time.Since(startTime).String(),
		Checks:  make(map[string]string, len(h.checks)),
	}
	code := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warnw("Readiness check failed", "check", name, "error", err)
			status.Checks[name] = "unavailable"
			status.Status = "not ready"
			code = http.StatusServiceUnavailable
			continue
		}
		status.Checks[name] = "ok"
	}
	response.JSON(w, code, status)
}
