// Package services contains business logic layers.
// Services are called by handlers and interact with the database.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/scamalert/report-server/internal/models"
)

// ErrQuotaExceeded is returned when an identity has used its daily ceiling.
var ErrQuotaExceeded = errors.New("daily quota exceeded")

// ReportStore persists reports and counts them per reporter.
type ReportStore interface {
	// CountByReporter counts reports by reporter created in [from, to).
	CountByReporter(ctx context.Context, reporter string, from, to time.Time) (int, error)
	// CreateWithinQuota inserts report unless the reporter already has
	// ceiling reports in [from, to), in which case it returns ErrQuotaExceeded.
	// The count and insert are atomic per reporter and day.
	CreateWithinQuota(ctx context.Context, report *models.Report, from, to time.Time, ceiling int) error
	Ping(ctx context.Context) error
}

// PostgresReportStore is the pgx-backed ReportStore
type PostgresReportStore struct {
	db     *pgxpool.Pool
	logger *zap.SugaredLogger
}

// NewPostgresReportStore creates a new report store
func NewPostgresReportStore(db *pgxpool.Pool, logger *zap.SugaredLogger) *PostgresReportStore {
	return &PostgresReportStore{db: db, logger: logger}
}

const countByReporterQuery = `
	SELECT COUNT(*) FROM reports
	WHERE reporter_hash = $1 AND created_at >= $2 AND created_at < $3
`

// CountByReporter returns how many reports reporter filed in [from, to)
func (s *PostgresReportStore) CountByReporter(ctx context.Context, reporter string, from, to time.Time) (int, error) {
	var count int
	if err := s.db.QueryRow(ctx, countByReporterQuery, reporter, from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("count reports: %w", err)
	}
	return count, nil
}

// CreateWithinQuota serializes writers for the same reporter and day with a
// transaction-scoped advisory lock, re-counts, then inserts.
func (s *PostgresReportStore) CreateWithinQuota(ctx context.Context, report *models.Report, from, to time.Time, ceiling int) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin report tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lockKey := report.ReporterHash + ":" + from.Format("2006-01-02")
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return fmt.Errorf("lock reporter day: %w", err)
	}

	var count int
	if err := tx.QueryRow(ctx, countByReporterQuery, report.ReporterHash, from, to).Scan(&count); err != nil {
		return fmt.Errorf("recount reports: %w", err)
	}
	if count >= ceiling {
		return ErrQuotaExceeded
	}

	query := `
		INSERT INTO reports (id, reference, title, description, business_name, location,
			category, report_type, receipt_issue_type, price_before, price_after,
			image_url, photo_url, receipt_url, reporter_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = tx.Exec(ctx, query,
		report.ID, report.Reference,
		report.Title, report.Description, report.BusinessName, report.Location,
		nullable(report.Category), nullable(report.ReportType), nullable(report.ReceiptIssueType),
		report.PriceBefore, report.PriceAfter,
		nullable(report.ImageURL), nullable(report.PhotoURL), nullable(report.ReceiptURL),
		report.ReporterHash, report.CreatedAt, report.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit report: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (s *PostgresReportStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// MemoryReportStore keeps reports in process memory. Used in development
// when no DATABASE_URL is configured, and in tests.
type MemoryReportStore struct {
	mu      sync.Mutex
	reports []models.Report
}

// NewMemoryReportStore creates an empty in-memory store
func NewMemoryReportStore() *MemoryReportStore {
	return &MemoryReportStore{}
}

// CountByReporter returns how many reports reporter filed in [from, to)
func (s *MemoryReportStore) CountByReporter(_ context.Context, reporter string, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(reporter, from, to), nil
}

// CreateWithinQuota inserts report unless the ceiling is reached
func (s *MemoryReportStore) CreateWithinQuota(_ context.Context, report *models.Report, from, to time.Time, ceiling int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countLocked(report.ReporterHash, from, to) >= ceiling {
		return ErrQuotaExceeded
	}
	s.reports = append(s.reports, *report)
	return nil
}

// Ping always succeeds
func (s *MemoryReportStore) Ping(context.Context) error { return nil }

// Len returns the number of stored reports
func (s *MemoryReportStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

// Seed stores report as-is, bypassing quota checks.
func (s *MemoryReportStore) Seed(report models.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
}

func (s *MemoryReportStore) countLocked(reporter string, from, to time.Time) int {
	n := 0
	for _, r := range s.reports {
		if r.ReporterHash == reporter && !r.CreatedAt.Before(from) && r.CreatedAt.Before(to) {
			n++
		}
	}
	return n
}
