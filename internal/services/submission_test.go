package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/scamalert/report-server/internal/imagecheck"
	"github.com/scamalert/report-server/internal/models"
	"github.com/scamalert/report-server/internal/security"
	"github.com/scamalert/report-server/internal/validation"
)

type submissionFixture struct {
	svc    *SubmissionService
	store  *MemoryReportStore
	hasher *security.IdentityHasher
	now    time.Time
}

func newSubmissionFixture(t *testing.T, store ReportStore) *submissionFixture {
	t.Helper()
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	logger := zap.NewNop().Sugar()

	opts := imagecheck.DefaultOptions()
	opts.AllowPrivateHosts = true
	opts.Timeout = time.Second

	quota := NewQuotaService(store, 3, logger)
	quota.now = func() time.Time { return now }
	hasher := security.NewIdentityHasher("test-key")

	svc := NewSubmissionService(validation.New(), imagecheck.NewVerifier(opts), quota, store, hasher, logger)
	svc.now = func() time.Time { return now }

	f := &submissionFixture{svc: svc, hasher: hasher, now: now}
	if mem, ok := store.(*MemoryReportStore); ok {
		f.store = mem
	}
	return f
}

func validSubmission() *models.ReportSubmission {
	price := 12.5
	return &models.ReportSubmission{
		Title:        "  Bottled water tripled  ",
		Description:  "A case of water went from four to twelve dollars overnight.",
		BusinessName: "Corner Mart",
		Location:     "Springfield",
		PriceAfter:   &price,
	}
}

func wantRejection(t *testing.T, err error, stage Stage, code string, status int) *RejectionError {
	t.Helper()
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected *RejectionError, got %v", err)
	}
	if rej.Stage != stage || rej.Code != code || rej.Status != status {
		t.Fatalf("expected %s/%s/%d, got %s/%s/%d", stage, code, status, rej.Stage, rej.Code, rej.Status)
	}
	return rej
}

func TestSubmitPersistsValidReport(t *testing.T) {
	f := newSubmissionFixture(t, NewMemoryReportStore())

	report, err := f.svc.Submit(context.Background(), "203.0.113.7", validSubmission())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if report.Title != "Bottled water tripled" {
		t.Fatalf("expected trimmed title, got %q", report.Title)
	}
	if report.Reference != report.ID.String()[:8] {
		t.Fatalf("unexpected reference %q", report.Reference)
	}
	if report.ReporterHash != f.hasher.Hash("203.0.113.7") {
		t.Fatal("expected reporter hash of identity")
	}
	if !report.CreatedAt.Equal(f.now) {
		t.Fatalf("unexpected created_at %v", report.CreatedAt)
	}
	if f.store.Len() != 1 {
		t.Fatalf("expected 1 stored report, got %d", f.store.Len())
	}
}

func TestSubmitValidationFailure(t *testing.T) {
	f := newSubmissionFixture(t, NewMemoryReportStore())
	sub := validSubmission()
	sub.Title = "ab"
	zero := 0.0
	sub.PriceBefore = &zero

	_, err := f.svc.Submit(context.Background(), "203.0.113.7", sub)
	rej := wantRejection(t, err, StageValidation, CodeValidationFailed, http.StatusBadRequest)
	fields := map[string]bool{}
	for _, d := range rej.Details {
		fields[d.Field] = true
	}
	if !fields["title"] || !fields["price_before"] {
		t.Fatalf("expected title and price_before details, got %+v", rej.Details)
	}
	if f.store.Len() != 0 {
		t.Fatal("expected nothing stored")
	}
}

func TestSubmitImageRejection(t *testing.T) {
	f := newSubmissionFixture(t, NewMemoryReportStore())
	sub := validSubmission()
	sub.PhotoURL = "data:image/svg+xml;base64,AAAA"

	_, err := f.svc.Submit(context.Background(), "203.0.113.7", sub)
	wantRejection(t, err, StageImage, string(imagecheck.ReasonUnsupportedType), http.StatusBadRequest)
}

func TestSubmitImageFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	f := newSubmissionFixture(t, NewMemoryReportStore())
	sub := validSubmission()
	sub.ImageURL = srv.URL + "/missing.png"

	_, err := f.svc.Submit(context.Background(), "203.0.113.7", sub)
	wantRejection(t, err, StageImage, string(imagecheck.ReasonFetchFailed), http.StatusBadGateway)
}

func TestSubmitRemoteImageAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", "2048")
	}))
	t.Cleanup(srv.Close)

	f := newSubmissionFixture(t, NewMemoryReportStore())
	sub := validSubmission()
	sub.ReceiptURL = srv.URL + "/receipt.png"

	if _, err := f.svc.Submit(context.Background(), "203.0.113.7", sub); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestSubmitRequiresIdentity(t *testing.T) {
	f := newSubmissionFixture(t, NewMemoryReportStore())
	_, err := f.svc.Submit(context.Background(), "", validSubmission())
	rej := wantRejection(t, err, StageQuota, CodeIdentityUnknown, http.StatusBadRequest)
	if !errors.Is(rej, security.ErrIdentityUnknown) {
		t.Fatalf("expected ErrIdentityUnknown in chain, got %v", rej)
	}
}

func TestSubmitDailyQuota(t *testing.T) {
	f := newSubmissionFixture(t, NewMemoryReportStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.svc.Submit(ctx, "203.0.113.7", validSubmission()); err != nil {
			t.Fatalf("submission %d: %v", i+1, err)
		}
	}

	_, err := f.svc.Submit(ctx, "203.0.113.7", validSubmission())
	rej := wantRejection(t, err, StageQuota, CodeQuotaExceeded, http.StatusTooManyRequests)
	if rej.RetryAfter != 9*time.Hour {
		t.Fatalf("expected retry until midnight UTC, got %v", rej.RetryAfter)
	}
	if f.store.Len() != 3 {
		t.Fatalf("expected 3 stored reports, got %d", f.store.Len())
	}

	if _, err := f.svc.Submit(ctx, "198.51.100.2", validSubmission()); err != nil {
		t.Fatalf("expected other identity to pass, got %v", err)
	}
}

func TestSubmitYesterdaysReportsDoNotCount(t *testing.T) {
	f := newSubmissionFixture(t, NewMemoryReportStore())
	reporter := f.hasher.Hash("203.0.113.7")
	for i := 0; i < 3; i++ {
		seedReport(f.store, reporter, f.now.AddDate(0, 0, -1))
	}

	if _, err := f.svc.Submit(context.Background(), "203.0.113.7", validSubmission()); err != nil {
		t.Fatalf("expected yesterday's reports to be ignored, got %v", err)
	}
}

// raceStore lets the quota check pass but reports the ceiling at commit,
// as happens when a concurrent request commits in between.
type raceStore struct{ MemoryReportStore }

func (*raceStore) CreateWithinQuota(context.Context, *models.Report, time.Time, time.Time, int) error {
	return ErrQuotaExceeded
}

func TestSubmitQuotaRaceAtCommit(t *testing.T) {
	f := newSubmissionFixture(t, &raceStore{})
	_, err := f.svc.Submit(context.Background(), "203.0.113.7", validSubmission())
	wantRejection(t, err, StageQuota, CodeQuotaExceeded, http.StatusTooManyRequests)
}

type brokenStore struct{ MemoryReportStore }

func (*brokenStore) CreateWithinQuota(context.Context, *models.Report, time.Time, time.Time, int) error {
	return errors.New("disk full")
}

func TestSubmitCommitFailureIsInternal(t *testing.T) {
	f := newSubmissionFixture(t, &brokenStore{})
	_, err := f.svc.Submit(context.Background(), "203.0.113.7", validSubmission())
	wantRejection(t, err, StageCommit, CodeInternal, http.StatusInternalServerError)
}

func TestSubmitQuotaStoreFailureIsInternal(t *testing.T) {
	f := newSubmissionFixture(t, &failingStore{})
	_, err := f.svc.Submit(context.Background(), "203.0.113.7", validSubmission())
	wantRejection(t, err, StageQuota, CodeInternal, http.StatusInternalServerError)
}
