// Package handlers contains HTTP request handlers for the report API.
// Handlers parse requests, call services, and return JSON responses.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/scamalert/report-server/internal/models"
	"github.com/scamalert/report-server/internal/response"
	"github.com/scamalert/report-server/internal/security"
	"github.com/scamalert/report-server/internal/services"
)

const codeBodyTooLarge = "BODY_TOO_LARGE"

// ReportHandler handles report submission
type ReportHandler struct {
	submissions    *services.SubmissionService
	identityHeader string
	maxBodyBytes   int64
	logger         *zap.SugaredLogger
}

// NewReportHandler creates a new report handler
func NewReportHandler(svc *services.SubmissionService, identityHeader string, maxBodyBytes int64, logger *zap.SugaredLogger) *ReportHandler {
	return &ReportHandler{
		submissions:    svc,
		identityHeader: identityHeader,
		maxBodyBytes:   maxBodyBytes,
		logger:         logger,
	}
}

// Submit handles POST /api/v1/reports
// CSRF and rate limiting have already run as middleware.
func (h *ReportHandler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var req models.ReportSubmission
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			services.RecordRejection(services.StageValidation, codeBodyTooLarge)
			response.Error(w, http.StatusRequestEntityTooLarge, codeBodyTooLarge, nil)
			return
		}
		services.RecordRejection(services.StageValidation, services.CodeInvalidBody)
		response.Error(w, http.StatusBadRequest, services.CodeInvalidBody, nil)
		return
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		services.RecordRejection(services.StageValidation, services.CodeInvalidBody)
		response.Error(w, http.StatusBadRequest, services.CodeInvalidBody, nil)
		return
	}

	// Unknown identity is passed through empty and rejected by the service.
	identity, _ := security.ClientIdentity(r, h.identityHeader)

	report, err := h.submissions.Submit(r.Context(), identity, &req)
	if err != nil {
		writeRejection(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, report)
}

func writeRejection(w http.ResponseWriter, err error) {
	var rej *services.RejectionError
	if !errors.As(err, &rej) {
		response.Error(w, http.StatusInternalServerError, services.CodeInternal, nil)
		return
	}
	if rej.Status == http.StatusTooManyRequests {
		response.Throttled(w, rej.Code, rej.RetryAfter)
		return
	}
	response.Error(w, rej.Status, rej.Code, rej.Details)
}
