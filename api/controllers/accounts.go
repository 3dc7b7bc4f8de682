package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mateovidal/givebridge-backend/api/middleware"
	"github.com/mateovidal/givebridge-backend/api/responses"
	"github.com/mateovidal/givebridge-backend/api/validators"
	"github.com/mateovidal/givebridge-backend/internal/accounts"
	"github.com/mateovidal/givebridge-backend/pkg/db/models"
	"github.com/mateovidal/givebridge-backend/pkg/enums"
	pkgerrors "github.com/mateovidal/givebridge-backend/pkg/errors"
	"github.com/mateovidal/givebridge-backend/pkg/logger"
)

type accountCreateRequest struct {
	Kind   string `json:"kind,omitempty"`
	Name   string `json:"name" validate:"required"`
	Email  string `json:"email" validate:"required,email"`
	PlanID string `json:"plan_id,omitempty"`
}

type accountReactivateRequest struct {
	PlanID string `json:"plan_id,omitempty"`
}

type accountResponse struct {
	ID                     string     `json:"id"`
	Kind                   string     `json:"kind"`
	Name                   string     `json:"name"`
	Email                  string     `json:"email"`
	SubscriptionStatus     string     `json:"subscription_status"`
	PlanID                 *string    `json:"plan_id,omitempty"`
	Tier                   string     `json:"tier"`
	AmountCents            int64      `json:"amount_cents"`
	Currency               string     `json:"currency"`
	NextBillingDate        *time.Time `json:"next_billing_date,omitempty"`
	LastPaymentDate        *time.Time `json:"last_payment_date,omitempty"`
	FailedAttempts         int        `json:"failed_attempts"`
	FirstFailureAt         *time.Time `json:"first_failure_at,omitempty"`
	GracePeriodEndsAt      *time.Time `json:"grace_period_ends_at,omitempty"`
	NextRetryAt            *time.Time `json:"next_retry_at,omitempty"`
	SubscriptionEndDate    *time.Time `json:"subscription_end_date,omitempty"`
	PrimaryPaymentMethodID *string    `json:"primary_payment_method_id,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
}

func toAccountResponse(account *models.Account) accountResponse {
	resp := accountResponse{
		ID:                  account.ID.String(),
		Kind:                string(account.Kind),
		Name:                account.Name,
		Email:               account.Email,
		SubscriptionStatus:  string(account.SubscriptionStatus),
		PlanID:              account.PlanID,
		Tier:                string(account.Tier),
		AmountCents:         account.AmountCents,
		Currency:            account.Currency,
		NextBillingDate:     account.NextBillingDate,
		LastPaymentDate:     account.LastPaymentDate,
		FailedAttempts:      account.FailedAttempts,
		FirstFailureAt:      account.FirstFailureAt,
		GracePeriodEndsAt:   account.GracePeriodEndsAt,
		NextRetryAt:         account.NextRetryAt,
		SubscriptionEndDate: account.SubscriptionEndDate,
		CreatedAt:           account.CreatedAt.UTC(),
	}
	if account.PrimaryPaymentMethodID != nil {
		id := account.PrimaryPaymentMethodID.String()
		resp.PrimaryPaymentMethodID = &id
	}
	return resp
}

// ResolveAccountID parses the accountID path parameter.
func ResolveAccountID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "accountID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid account id")
	}
	return id, nil
}

// ResolveActor reads the authenticated admin identity from the request context.
func ResolveActor(r *http.Request) (accounts.Actor, error) {
	adminID, err := uuid.Parse(middleware.AdminIDFromContext(r.Context()))
	if err != nil {
		return accounts.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing admin identity")
	}
	role, err := enums.ParseAdminRole(middleware.RoleFromContext(r.Context()))
	if err != nil {
		return accounts.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing admin role")
	}
	return accounts.Actor{AdminID: adminID, Role: role}, nil
}

// AccountCreate enrolls a new billing account.
func AccountCreate(svc accounts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "account service unavailable"))
			return
		}

		var payload accountCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		kind := enums.AccountKindOrganization
		if payload.Kind != "" {
			parsed, err := enums.ParseAccountKind(payload.Kind)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account kind"))
				return
			}
			kind = parsed
		}

		account, err := svc.Create(r.Context(), accounts.CreateAccountInput{
			Kind:   kind,
			Name:   payload.Name,
			Email:  payload.Email,
			PlanID: payload.PlanID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, toAccountResponse(account))
	}
}

// AccountGet returns one account's billing state.
func AccountGet(svc accounts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "account service unavailable"))
			return
		}

		accountID, err := ResolveAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account, err := svc.Get(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, toAccountResponse(account))
	}
}

// AccountCancel ends an account's subscription immediately.
func AccountCancel(svc accounts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "account service unavailable"))
			return
		}

		accountID, err := ResolveAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor, err := ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account, err := svc.Cancel(r.Context(), accountID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, toAccountResponse(account))
	}
}

// AccountReactivate re-enrolls a canceled account as a fresh subscription.
func AccountReactivate(svc accounts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "account service unavailable"))
			return
		}

		accountID, err := ResolveAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor, err := ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload accountReactivateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account, err := svc.Reactivate(r.Context(), accountID, accounts.ReactivateInput{PlanID: payload.PlanID}, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, toAccountResponse(account))
	}
}
