// Package models defines the data structures used across the application.
// These map to the PostgreSQL reports schema.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ReportSubmission is the request body for filing a new price-gouging report.
// String fields are trimmed before validation; lengths count characters.
type ReportSubmission struct {
	Title            string   `json:"title" validate:"required,min=3,max=100"`
	Description      string   `json:"description" validate:"required,min=10,max=1000"`
	BusinessName     string   `json:"business_name" validate:"required,min=2,max=100"`
	Location         string   `json:"location" validate:"required,min=2,max=100"`
	Category         string   `json:"category,omitempty" validate:"omitempty,min=2,max=50"`
	ReportType       string   `json:"report_type,omitempty" validate:"omitempty,min=2,max=50"`
	ReceiptIssueType string   `json:"receipt_issue_type,omitempty" validate:"omitempty,min=2,max=50"`
	PriceBefore      *float64 `json:"price_before,omitempty" validate:"omitempty,gt=0"`
	PriceAfter       *float64 `json:"price_after,omitempty" validate:"omitempty,gt=0"`
	ImageURL         string   `json:"image_url,omitempty" validate:"omitempty,imageref"`
	PhotoURL         string   `json:"photo_url,omitempty" validate:"omitempty,imageref"`
	ReceiptURL       string   `json:"receipt_url,omitempty" validate:"omitempty,imageref"`
}

// ImageRefs returns the image references present on the submission, in field order.
func (s *ReportSubmission) ImageRefs() []string {
	refs := make([]string, 0, 3)
	for _, ref := range []string{s.ImageURL, s.PhotoURL, s.ReceiptURL} {
		if ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

// Report is a persisted submission.
// ReporterHash is the keyed hash of the caller's network identity and never leaves the server.
type Report struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Reference string    `json:"reference" db:"reference"`
	ReportSubmission
	ReporterHash string    `json:"-" db:"reporter_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// FieldError describes a single failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error      string       `json:"error"`
	Details    []FieldError `json:"details,omitempty"`
	RetryAfter int          `json:"retry_after,omitempty"`
}

// CSRFTokenResponse is returned by the token issuance endpoint.
type CSRFTokenResponse struct {
	Token   string `json:"token"`
	Success bool   `json:"success"`
}

// QuotaStatus describes an identity's usage of the daily submission ceiling.
type QuotaStatus struct {
	Used     int       `json:"used"`
	Limit    int       `json:"limit"`
	ResetsAt time.Time `json:"resets_at"`
}

// HealthStatus represents the server health check response
type HealthStatus struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}
