package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scamalert/report-server/internal/models"
)

// DayWindow returns the UTC calendar day containing t as [start, end).
func DayWindow(t time.Time) (time.Time, time.Time) {
	u := t.UTC()
	start := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// QuotaService enforces the per-reporter daily submission ceiling by
// counting stored reports. Nothing is cached: every check re-reads the store.
type QuotaService struct {
	store  ReportStore
	limit  int
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewQuotaService creates a quota service with the given daily ceiling
func NewQuotaService(store ReportStore, limit int, logger *zap.SugaredLogger) *QuotaService {
	return &QuotaService{store: store, limit: limit, logger: logger, now: time.Now}
}

// Limit returns the daily ceiling
func (q *QuotaService) Limit() int { return q.limit }

// Window returns today's UTC window
func (q *QuotaService) Window() (time.Time, time.Time) {
	return DayWindow(q.now())
}

// Status reports reporter's usage today without judging it.
func (q *QuotaService) Status(ctx context.Context, reporter string) (models.QuotaStatus, error) {
	return q.StatusAt(ctx, reporter, q.now())
}

// StatusAt reports reporter's usage on the UTC day containing at.
func (q *QuotaService) StatusAt(ctx context.Context, reporter string, at time.Time) (models.QuotaStatus, error) {
	from, to := DayWindow(at)
	used, err := q.store.CountByReporter(ctx, reporter, from, to)
	if err != nil {
		return models.QuotaStatus{}, fmt.Errorf("count daily reports: %w", err)
	}
	return models.QuotaStatus{Used: used, Limit: q.limit, ResetsAt: to}, nil
}

// Check returns ErrQuotaExceeded once reporter has reached the ceiling today.
func (q *QuotaService) Check(ctx context.Context, reporter string) (models.QuotaStatus, error) {
	return q.CheckAt(ctx, reporter, q.now())
}

// CheckAt is Check for the UTC day containing at. Store failures are
// returned wrapped and must not be treated as permissive.
func (q *QuotaService) CheckAt(ctx context.Context, reporter string, at time.Time) (models.QuotaStatus, error) {
	status, err := q.StatusAt(ctx, reporter, at)
	if err != nil {
		return status, err
	}
	if status.Used >= status.Limit {
		q.logger.Infow("Daily quota exceeded", "reporter", reporter, "used", status.Used, "limit", status.Limit)
		return status, ErrQuotaExceeded
	}
	return status, nil
}
