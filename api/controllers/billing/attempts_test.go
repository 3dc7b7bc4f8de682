package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	billingsvc "github.com/mateovidal/givebridge-backend/internal/billing"
	"github.com/mateovidal/givebridge-backend/pkg/db/models"
	"github.com/mateovidal/givebridge-backend/pkg/enums"
	"github.com/mateovidal/givebridge-backend/pkg/pagination"
)

type stubAttemptLister struct {
	query    billingsvc.ListBillingAttemptsQuery
	attempts []models.BillingAttempt
	next     *pagination.Cursor
	err      error
}

func (s *stubAttemptLister) ListBillingAttempts(ctx context.Context, query billingsvc.ListBillingAttemptsQuery) ([]models.BillingAttempt, *pagination.Cursor, error) {
	s.query = query
	return s.attempts, s.next, s.err
}

func TestBillingAttemptsListForwardsFilters(t *testing.T) {
	accountID := uuid.New()
	lister := &stubAttemptLister{
		attempts: []models.BillingAttempt{
			{
				ID:          uuid.New(),
				AccountID:   accountID,
				CycleDate:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
				AmountCents: 2500,
				Currency:    "usd",
				Outcome:     enums.AttemptOutcomeDeclined,
				AttemptedAt: time.Now().UTC(),
			},
		},
		next: &pagination.Cursor{CreatedAt: time.Now().UTC(), ID: uuid.New()},
	}

	router := chi.NewRouter()
	router.Get("/accounts/{accountID}/billing-attempts", BillingAttemptsList(lister, nil))

	req := httptest.NewRequest(http.MethodGet, "/accounts/"+accountID.String()+"/billing-attempts?limit=10&outcome=declined", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if lister.query.AccountID != accountID {
		t.Fatalf("account filter not forwarded")
	}
	if lister.query.Outcome == nil || *lister.query.Outcome != enums.AttemptOutcomeDeclined {
		t.Fatalf("outcome filter not forwarded: %v", lister.query.Outcome)
	}
	if lister.query.Page.Limit != 10 {
		t.Fatalf("limit not forwarded, got %d", lister.query.Page.Limit)
	}

	var envelope struct {
		Data billingAttemptListResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(envelope.Data.Attempts) != 1 {
		t.Fatalf("expected 1 attempt got %d", len(envelope.Data.Attempts))
	}
	if envelope.Data.Attempts[0].CycleDate != "2026-03-01" {
		t.Fatalf("unexpected cycle date %s", envelope.Data.Attempts[0].CycleDate)
	}
	if envelope.Data.NextCursor == "" {
		t.Fatalf("expected next cursor")
	}
}

func TestBillingAttemptsListRejectsUnknownOutcome(t *testing.T) {
	router := chi.NewRouter()
	router.Get("/accounts/{accountID}/billing-attempts", BillingAttemptsList(&stubAttemptLister{}, nil))

	req := httptest.NewRequest(http.MethodGet, "/accounts/"+uuid.NewString()+"/billing-attempts?outcome=timeout", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestBillingAttemptsListRejectsOversizedLimit(t *testing.T) {
	router := chi.NewRouter()
	router.Get("/accounts/{accountID}/billing-attempts", BillingAttemptsList(&stubAttemptLister{}, nil))

	req := httptest.NewRequest(http.MethodGet, "/accounts/"+uuid.NewString()+"/billing-attempts?limit=5000", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
