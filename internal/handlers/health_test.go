package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/scamalert/report-server/internal/models"
)

func TestReadyReportsFailingDependency(t *testing.T) {
	h := NewHealthHandler(map[string]ReadinessCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, zap.NewNop().Sugar())

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	var status models.HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Status != "not ready" || status.Checks["database"] != "ok" || status.Checks["redis"] != "unavailable" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestCheckIsAlwaysOK(t *testing.T) {
	h := NewHealthHandler(nil, zap.NewNop().Sugar())
	rec := httptest.NewRecorder()
	h.Check(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
