package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scamalert/report-server/internal/imagecheck"
	"github.com/scamalert/report-server/internal/metrics"
	"github.com/scamalert/report-server/internal/models"
	"github.com/scamalert/report-server/internal/security"
	"github.com/scamalert/report-server/internal/validation"
)

// Stage names a step of the submission pipeline.
type Stage string

const (
	StageCSRF       Stage = "csrf"
	StageRateLimit  Stage = "rate_limit"
	StageValidation Stage = "validation"
	StageImage      Stage = "image"
	StageQuota      Stage = "quota"
	StageCommit     Stage = "commit"
)

// Client-facing error codes.
const (
	CodeCSRFMissing      = "CSRF_TOKEN_MISSING"
	CodeCSRFInvalid      = "CSRF_TOKEN_INVALID"
	CodeRateLimited      = "RATE_LIMITED"
	CodeIdentityUnknown  = "IDENTITY_UNKNOWN"
	CodeInvalidBody      = "INVALID_BODY"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeQuotaExceeded    = "daily_quota_exceeded"
	CodeInternal         = "INTERNAL_ERROR"
)

// RejectionError ends a submission. Code and Details are safe to show the
// caller; Err is for logs only.
type RejectionError struct {
	Stage      Stage
	Code       string
	Status     int
	Details    []models.FieldError
	RetryAfter time.Duration
	Err        error
}

func (e *RejectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s rejected (%s): %v", e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s rejected (%s)", e.Stage, e.Code)
}

func (e *RejectionError) Unwrap() error { return e.Err }

// RecordRejection counts a rejection in the pipeline metrics.
func RecordRejection(stage Stage, code string) {
	metrics.RejectionsTotal.WithLabelValues(string(stage), code).Inc()
}

// SubmissionService runs the body-level stages of the pipeline: validation,
// image verification, daily quota and commit. CSRF and rate limiting run
// earlier as HTTP middleware.
type SubmissionService struct {
	validator *validation.Validator
	images    *imagecheck.Verifier
	quota     *QuotaService
	store     ReportStore
	hasher    *security.IdentityHasher
	logger    *zap.SugaredLogger
	now       func() time.Time
}

// NewSubmissionService wires the pipeline stages together
func NewSubmissionService(
	validator *validation.Validator,
	images *imagecheck.Verifier,
	quota *QuotaService,
	store ReportStore,
	hasher *security.IdentityHasher,
	logger *zap.SugaredLogger,
) *SubmissionService {
	return &SubmissionService{
		validator: validator,
		images:    images,
		quota:     quota,
		store:     store,
		hasher:    hasher,
		logger:    logger,
		now:       time.Now,
	}
}

// Submit validates sub and, if every stage passes, persists it on behalf of
// identity. Every terminal outcome other than success is a *RejectionError.
func (s *SubmissionService) Submit(ctx context.Context, identity string, sub *models.ReportSubmission) (*models.Report, error) {
	if details := s.validator.Report(sub); details != nil {
		return nil, s.reject(&RejectionError{
			Stage:   StageValidation,
			Code:    CodeValidationFailed,
			Status:  http.StatusBadRequest,
			Details: details,
		})
	}

	if err := s.images.VerifyAll(ctx, sub.ImageRefs()...); err != nil {
		var ie *imagecheck.Error
		if errors.As(err, &ie) {
			return nil, s.reject(&RejectionError{
				Stage:  StageImage,
				Code:   string(ie.Reason),
				Status: ie.Status,
				Err:    err,
			})
		}
		return nil, s.reject(internal(StageImage, err))
	}

	if identity == "" {
		return nil, s.reject(&RejectionError{
			Stage:  StageQuota,
			Code:   CodeIdentityUnknown,
			Status: http.StatusBadRequest,
			Err:    security.ErrIdentityUnknown,
		})
	}
	reporter := s.hasher.Hash(identity)
	now := s.now().UTC()

	status, err := s.quota.CheckAt(ctx, reporter, now)
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			return nil, s.reject(quotaExceeded(status.ResetsAt, now, err))
		}
		return nil, s.reject(internal(StageQuota, err))
	}

	id := uuid.New()
	report := &models.Report{
		ID:               id,
		Reference:        id.String()[:8],
		ReportSubmission: *sub,
		ReporterHash:     reporter,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	from, to := DayWindow(now)
	if err := s.store.CreateWithinQuota(ctx, report, from, to, s.quota.Limit()); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			return nil, s.reject(quotaExceeded(to, now, err))
		}
		return nil, s.reject(internal(StageCommit, err))
	}

	metrics.SubmissionsTotal.Inc()
	s.logger.Infow("Report submitted",
		"id", report.ID,
		"reporter", reporter,
		"has_image", len(sub.ImageRefs()) > 0,
	)
	return report, nil
}

func (s *SubmissionService) reject(e *RejectionError) *RejectionError {
	RecordRejection(e.Stage, e.Code)
	if e.Status >= http.StatusInternalServerError && e.Code == CodeInternal {
		s.logger.Errorw("Report submission failed", "stage", e.Stage, "error", e.Err)
	} else {
		s.logger.Infow("Report rejected", "stage", e.Stage, "code", e.Code, "error", e.Err)
	}
	return e
}

func quotaExceeded(resetsAt, now time.Time, err error) *RejectionError {
	return &RejectionError{
		Stage:      StageQuota,
		Code:       CodeQuotaExceeded,
		Status:     http.StatusTooManyRequests,
		RetryAfter: resetsAt.Sub(now),
		Err:        err,
	}
}

func internal(stage Stage, err error) *RejectionError {
	return &RejectionError{
		Stage:  stage,
		Code:   CodeInternal,
		Status: http.StatusInternalServerError,
		Err:    err,
	}
}
