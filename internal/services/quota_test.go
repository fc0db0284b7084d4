package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scamalert/report-server/internal/models"
)

func seedReport(store *MemoryReportStore, reporter string, at time.Time) {
	store.Seed(models.Report{ID: uuid.New(), ReporterHash: reporter, CreatedAt: at, UpdatedAt: at})
}

func TestDayWindow(t *testing.T) {
	at := time.Date(2026, 3, 14, 23, 59, 59, 0, time.UTC)
	from, to := DayWindow(at)
	if !from.Equal(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", from)
	}
	if !to.Equal(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end %v", to)
	}

	// a non-UTC instant is bucketed by its UTC day
	east := time.FixedZone("UTC+10", 10*3600)
	from, _ = DayWindow(time.Date(2026, 3, 15, 5, 0, 0, 0, east))
	if !from.Equal(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected UTC bucketing, got %v", from)
	}
}

func TestQuotaCheckBoundaries(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	store := NewMemoryReportStore()
	q := NewQuotaService(store, 3, zap.NewNop().Sugar())
	q.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		seedReport(store, "alice", now.Add(-time.Duration(i+1)*time.Hour))
	}
	status, err := q.Check(ctx, "alice")
	if err != nil {
		t.Fatalf("expected N-1 reports to pass, got %v", err)
	}
	if status.Used != 2 || status.Limit != 3 {
		t.Fatalf("unexpected status %+v", status)
	}
	if !status.ResetsAt.Equal(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected reset %v", status.ResetsAt)
	}

	seedReport(store, "alice", now.Add(-10*time.Minute))
	if _, err := q.Check(ctx, "alice"); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded at N reports, got %v", err)
	}

	if _, err := q.Check(ctx, "bob"); err != nil {
		t.Fatalf("expected other reporter to be unaffected, got %v", err)
	}
}

func TestQuotaIgnoresPreviousDay(t *testing.T) {
	now := time.Date(2026, 3, 14, 0, 30, 0, 0, time.UTC)
	store := NewMemoryReportStore()
	q := NewQuotaService(store, 3, zap.NewNop().Sugar())
	q.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		seedReport(store, "alice", time.Date(2026, 3, 13, 23, 59, 59, 0, time.UTC))
	}
	status, err := q.Status(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if status.Used != 0 {
		t.Fatalf("expected yesterday's reports not to count, got %d", status.Used)
	}
}

type failingStore struct{ MemoryReportStore }

func (*failingStore) CountByReporter(context.Context, string, time.Time, time.Time) (int, error) {
	return 0, errors.New("connection refused")
}

func TestQuotaStoreFailureIsNotPermissive(t *testing.T) {
	q := NewQuotaService(&failingStore{}, 3, zap.NewNop().Sugar())
	_, err := q.Check(context.Background(), "alice")
	if err == nil || errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestMemoryStoreCreateWithinQuota(t *testing.T) {
	store := NewMemoryReportStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	from, to := DayWindow(now)

	for i := 0; i < 3; i++ {
		r := &models.Report{ID: uuid.New(), ReporterHash: "alice", CreatedAt: now}
		if err := store.CreateWithinQuota(ctx, r, from, to, 3); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	r := &models.Report{ID: uuid.New(), ReporterHash: "alice", CreatedAt: now}
	if err := store.CreateWithinQuota(ctx, r, from, to, 3); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if store.Len() != 3 {
		t.Fatalf("expected 3 stored reports, got %d", store.Len())
	}
}
