package billing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/mateovidal/givebridge-backend/api/responses"
	"github.com/mateovidal/givebridge-backend/api/validators"
	billingsvc "github.com/mateovidal/givebridge-backend/internal/billing"
	"github.com/mateovidal/givebridge-backend/pkg/db/models"
	"github.com/mateovidal/givebridge-backend/pkg/enums"
	pkgerrors "github.com/mateovidal/givebridge-backend/pkg/errors"
	"github.com/mateovidal/givebridge-backend/pkg/logger"
)

// PlanStore describes the plan catalog methods used by the HTTP controllers.
type PlanStore interface {
	CreateBillingPlan(ctx context.Context, plan *models.BillingPlan) error
	ListBillingPlans(ctx context.Context, query billingsvc.ListBillingPlansQuery) ([]models.BillingPlan, error)
}

type billingPlanResponse struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Status           string    `json:"status"`
	Tier             string    `json:"tier"`
	Interval         string    `json:"interval"`
	PriceAmountCents int64     `json:"price_amount_cents"`
	CurrencyCode     string    `json:"currency_code"`
	TrialDays        int       `json:"trial_days"`
	IsDefault        bool      `json:"is_default"`
	Features         []string  `json:"features"`
	CreatedAt        time.Time `json:"created_at"`
}

type billingPlanListResponse struct {
	Plans []billingPlanResponse `json:"plans"`
}

type billingPlanCreateRequest struct {
	ID               string   `json:"id" validate:"required"`
	Name             string   `json:"name" validate:"required"`
	Tier             string   `json:"tier" validate:"required"`
	Interval         string   `json:"interval" validate:"required"`
	PriceAmountCents int64    `json:"price_amount_cents" validate:"min=0"`
	CurrencyCode     string   `json:"currency_code,omitempty"`
	TrialDays        int      `json:"trial_days,omitempty" validate:"min=0"`
	IsDefault        bool     `json:"is_default,omitempty"`
	Features         []string `json:"features,omitempty"`
}

func toBillingPlanResponse(plan *models.BillingPlan) billingPlanResponse {
	return billingPlanResponse{
		ID:               plan.ID,
		Name:             plan.Name,
		Status:           string(plan.Status),
		Tier:             string(plan.Tier),
		Interval:         string(plan.Interval),
		PriceAmountCents: plan.AmountCents(),
		CurrencyCode:     plan.CurrencyCode,
		TrialDays:        plan.TrialDays,
		IsDefault:        plan.IsDefault,
		Features:         []string(plan.Features),
		CreatedAt:        plan.CreatedAt.UTC(),
	}
}

// BillingPlansList returns catalog plans, optionally filtered by status.
func BillingPlansList(store PlanStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan store unavailable"))
			return
		}

		query := billingsvc.ListBillingPlansQuery{}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParsePlanStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			query.Status = &status
		}

		plans, err := store.ListBillingPlans(r.Context(), query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := billingPlanListResponse{Plans: make([]billingPlanResponse, 0, len(plans))}
		for i := range plans {
			resp.Plans = append(resp.Plans, toBillingPlanResponse(&plans[i]))
		}
		responses.WriteSuccess(w, resp)
	}
}

// BillingPlanCreate adds a catalog entry.
func BillingPlanCreate(store PlanStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan store unavailable"))
			return
		}

		var payload billingPlanCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		tier, err := enums.ParsePlanTier(payload.Tier)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid tier"))
			return
		}

		interval, err := enums.ParseBillingInterval(payload.Interval)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid interval"))
			return
		}

		currency := strings.ToLower(strings.TrimSpace(payload.CurrencyCode))
		if currency == "" {
			currency = "usd"
		}

		plan := &models.BillingPlan{
			ID:           payload.ID,
			Name:         payload.Name,
			Status:       enums.PlanStatusActive,
			Tier:         tier,
			Interval:     interval,
			PriceAmount:  decimal.NewFromInt(payload.PriceAmountCents).Shift(-2),
			CurrencyCode: currency,
			TrialDays:    payload.TrialDays,
			IsDefault:    payload.IsDefault,
			Features:     pq.StringArray(payload.Features),
		}

		if err := store.CreateBillingPlan(r.Context(), plan); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, toBillingPlanResponse(plan))
	}
}
