// Package validation checks submitted report bodies against their struct tags.
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/scamalert/report-server/internal/models"
)

// Validator wraps a configured validator.Validate. Safe for concurrent use.
type Validator struct {
	v *validator.Validate
}

// New creates a validator with the imageref rule registered and JSON field
// names reported in errors.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// registration only fails for an empty tag or nil func
	_ = v.RegisterValidation("imageref", isImageRef)
	return &Validator{v: v}
}

// Report normalizes sub in place and returns every failed rule, or nil.
func (val *Validator) Report(sub *models.ReportSubmission) []models.FieldError {
	Normalize(sub)

	err := val.v.Struct(sub)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []models.FieldError{{Field: "", Rule: "invalid", Message: "request body could not be validated"}}
	}

	out := make([]models.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, models.FieldError{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Message: message(fe),
		})
	}
	return out
}

// Normalize trims surrounding whitespace from every text field.
func Normalize(sub *models.ReportSubmission) {
	for _, p := range []*string{
		&sub.Title, &sub.Description, &sub.BusinessName, &sub.Location,
		&sub.Category, &sub.ReportType, &sub.ReceiptIssueType,
		&sub.ImageURL, &sub.PhotoURL, &sub.ReceiptURL,
	} {
		*p = strings.TrimSpace(*p)
	}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be a positive number", fe.Field())
	case "imageref":
		return fmt.Sprintf("%s must be a URL or a data URI", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// isImageRef accepts an absolute URL with scheme and host, or a data URI
// with a payload separator. Scheme and encoding checks happen in imagecheck.
func isImageRef(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if strings.HasPrefix(strings.ToLower(s), "data:") {
		return strings.Contains(s, ",")
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}
