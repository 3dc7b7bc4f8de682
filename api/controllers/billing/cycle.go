package billing

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/mateovidal/givebridge-backend/api/controllers"
	"github.com/mateovidal/givebridge-backend/api/responses"
	"github.com/mateovidal/givebridge-backend/internal/subscriptions"
	pkgerrors "github.com/mateovidal/givebridge-backend/pkg/errors"
	"github.com/mateovidal/givebridge-backend/pkg/logger"
)

// CycleRunner triggers one billing cycle for one account.
type CycleRunner interface {
	RunCycle(ctx context.Context, accountID uuid.UUID) (*subscriptions.CycleResult, error)
}

type cycleRunResponse struct {
	AccountID string  `json:"account_id"`
	Outcome   string  `json:"outcome"`
	CycleDate string  `json:"cycle_date,omitempty"`
	AttemptID *string `json:"attempt_id,omitempty"`
}

// BillingCycleRun lets operators collect a due cycle outside the sweep
// schedule. The engine's idempotency makes repeated triggers harmless.
func BillingCycleRun(runner CycleRunner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runner == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing orchestrator unavailable"))
			return
		}

		accountID, err := controllers.ResolveAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := runner.RunCycle(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := cycleRunResponse{
			AccountID: result.AccountID.String(),
			Outcome:   string(result.Outcome),
		}
		if !result.CycleDate.IsZero() {
			resp.CycleDate = result.CycleDate.UTC().Format("2006-01-02")
		}
		if result.AttemptID != nil {
			id := result.AttemptID.String()
			resp.AttemptID = &id
		}

		responses.WriteSuccess(w, resp)
	}
}
