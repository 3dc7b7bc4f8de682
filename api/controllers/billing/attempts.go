package billing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/mateovidal/givebridge-backend/api/controllers"
	"github.com/mateovidal/givebridge-backend/api/responses"
	"github.com/mateovidal/givebridge-backend/api/validators"
	billingsvc "github.com/mateovidal/givebridge-backend/internal/billing"
	"github.com/mateovidal/givebridge-backend/pkg/db/models"
	"github.com/mateovidal/givebridge-backend/pkg/enums"
	pkgerrors "github.com/mateovidal/givebridge-backend/pkg/errors"
	"github.com/mateovidal/givebridge-backend/pkg/logger"
	"github.com/mateovidal/givebridge-backend/pkg/pagination"
)

// AttemptLister describes the attempt history query used by the HTTP layer.
type AttemptLister interface {
	ListBillingAttempts(ctx context.Context, query billingsvc.ListBillingAttemptsQuery) ([]models.BillingAttempt, *pagination.Cursor, error)
}

type billingAttemptResponse struct {
	ID              string    `json:"id"`
	PaymentMethodID *string   `json:"payment_method_id,omitempty"`
	CycleDate       string    `json:"cycle_date"`
	AmountCents     int64     `json:"amount_cents"`
	Currency        string    `json:"currency"`
	Outcome         string    `json:"outcome"`
	ExternalTxID    *string   `json:"external_tx_id,omitempty"`
	DeclineReason   *string   `json:"decline_reason,omitempty"`
	AttemptedAt     time.Time `json:"attempted_at"`
}

type billingAttemptListResponse struct {
	Attempts   []billingAttemptResponse `json:"attempts"`
	NextCursor string                   `json:"next_cursor,omitempty"`
}

func toBillingAttemptResponse(attempt *models.BillingAttempt) billingAttemptResponse {
	resp := billingAttemptResponse{
		ID:            attempt.ID.String(),
		CycleDate:     attempt.CycleDate.UTC().Format("2006-01-02"),
		AmountCents:   attempt.AmountCents,
		Currency:      attempt.Currency,
		Outcome:       string(attempt.Outcome),
		ExternalTxID:  attempt.ExternalTxID,
		DeclineReason: attempt.DeclineReason,
		AttemptedAt:   attempt.AttemptedAt.UTC(),
	}
	if attempt.PaymentMethodID != nil {
		id := attempt.PaymentMethodID.String()
		resp.PaymentMethodID = &id
	}
	return resp
}

// BillingAttemptsList returns one account's charge history, newest first.
func BillingAttemptsList(lister AttemptLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if lister == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing repository unavailable"))
			return
		}

		accountID, err := controllers.ResolveAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		query := billingsvc.ListBillingAttemptsQuery{
			AccountID: accountID,
			Page: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		}

		if raw := strings.TrimSpace(r.URL.Query().Get("outcome")); raw != "" {
			outcome, err := enums.ParseAttemptOutcome(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid outcome filter"))
				return
			}
			query.Outcome = &outcome
		}

		attempts, next, err := lister.ListBillingAttempts(r.Context(), query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := billingAttemptListResponse{
			Attempts: make([]billingAttemptResponse, 0, len(attempts)),
		}
		for i := range attempts {
			resp.Attempts = append(resp.Attempts, toBillingAttemptResponse(&attempts[i]))
		}
		if next != nil {
			resp.NextCursor = pagination.EncodeCursor(*next)
		}

		responses.WriteSuccess(w, resp)
	}
}
