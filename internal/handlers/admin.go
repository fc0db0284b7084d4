package handlers

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/scamalert/report-server/internal/ratelimit"
	"github.com/scamalert/report-server/internal/response"
	"github.com/scamalert/report-server/internal/security"
	"github.com/scamalert/report-server/internal/services"
)

// AdminHandler exposes operator endpoints. Routes are JWT-protected.
type AdminHandler struct {
	quota   *services.QuotaService
	limiter ratelimit.Limiter
	hasher  *security.IdentityHasher
	logger  *zap.SugaredLogger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(quota *services.QuotaService, limiter ratelimit.Limiter, hasher *security.IdentityHasher, logger *zap.SugaredLogger) *AdminHandler {
	return &AdminHandler{quota: quota, limiter: limiter, hasher: hasher, logger: logger}
}

// QuotaStatus handles GET /api/v1/admin/quota/{ip}
func (h *AdminHandler) QuotaStatus(w http.ResponseWriter, r *http.Request) {
	reporter, ok := h.reporterParam(w, r)
	if !ok {
		return
	}

	status, err := h.quota.Status(r.Context(), reporter)
	if err != nil {
		h.logger.Errorw("Failed to read quota", "error", err)
		response.Error(w, http.StatusInternalServerError, services.CodeInternal, nil)
		return
	}
	response.JSON(w, http.StatusOK, status)
}

// ResetRateLimit handles DELETE /api/v1/admin/ratelimit/{ip}
func (h *AdminHandler) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	reporter, ok := h.reporterParam(w, r)
	if !ok {
		return
	}

	if err := h.limiter.Reset(r.Context(), reporter); err != nil {
		h.logger.Errorw("Failed to reset rate limit", "error", err)
		response.Error(w, http.StatusInternalServerError, services.CodeInternal, nil)
		return
	}
	h.logger.Infow("Rate limit reset", "reporter", reporter)
	w.WriteHeader(http.StatusNoContent)
}

// reporterParam hashes the {ip} path parameter the same way the pipeline does.
func (h *AdminHandler) reporterParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	ip := net.ParseIP(chi.URLParam(r, "ip"))
	if ip == nil {
		response.Error(w, http.StatusBadRequest, services.CodeIdentityUnknown, nil)
		return "", false
	}
	return h.hasher.Hash(ip.String()), true
}
