// Package response writes JSON bodies for handlers and middleware.
package response

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/scamalert/report-server/internal/models"
)

// JSON writes data with the given status.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Error writes {"error": code} with optional per-field details.
func Error(w http.ResponseWriter, status int, code string, details []models.FieldError) {
	JSON(w, status, models.ErrorResponse{Error: code, Details: details})
}

// Throttled writes a 429-class body and sets Retry-After in whole seconds.
func Throttled(w http.ResponseWriter, code string, retryAfter time.Duration) {
	secs := RetryAfterSeconds(retryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	JSON(w, http.StatusTooManyRequests, models.ErrorResponse{Error: code, RetryAfter: secs})
}

// RetryAfterSeconds rounds up to whole seconds, never below one.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
