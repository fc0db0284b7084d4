package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/scamalert/report-server/internal/models"
	"github.com/scamalert/report-server/internal/response"
	"github.com/scamalert/report-server/internal/security"
	"github.com/scamalert/report-server/internal/services"
)

// CSRFHandler issues double-submit tokens
type CSRFHandler struct {
	guard  *security.CSRFGuard
	logger *zap.SugaredLogger
}

// NewCSRFHandler creates a new CSRF handler
func NewCSRFHandler(guard *security.CSRFGuard, logger *zap.SugaredLogger) *CSRFHandler {
	return &CSRFHandler{guard: guard, logger: logger}
}

// Issue handles GET /api/v1/csrf
// Sets the token cookie and returns the same token for the client to echo
// in the CSRF header.
func (h *CSRFHandler) Issue(w http.ResponseWriter, r *http.Request) {
	token, err := h.guard.Issue(w, r)
	if err != nil {
		h.logger.Errorw("Failed to issue CSRF token", "error", err)
		response.Error(w, http.StatusInternalServerError, services.CodeInternal, nil)
		return
	}
	response.JSON(w, http.StatusOK, models.CSRFTokenResponse{Token: token, Success: true})
}
