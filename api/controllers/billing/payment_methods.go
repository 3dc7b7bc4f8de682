package billing

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mateovidal/givebridge-backend/api/controllers"
	"github.com/mateovidal/givebridge-backend/api/responses"
	"github.com/mateovidal/givebridge-backend/api/validators"
	"github.com/mateovidal/givebridge-backend/internal/paymentmethods"
	"github.com/mateovidal/givebridge-backend/pkg/db/models"
	pkgerrors "github.com/mateovidal/givebridge-backend/pkg/errors"
	"github.com/mateovidal/givebridge-backend/pkg/logger"
)

type paymentMethodCreateRequest struct {
	SourceID          string `json:"source_id" validate:"required"`
	CardholderName    string `json:"cardholder_name,omitempty"`
	VerificationToken string `json:"verification_token,omitempty"`
	IsDefault         bool   `json:"is_default,omitempty"`
	Priority          int    `json:"priority,omitempty"`
}

type paymentMethodResponse struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	Priority      int        `json:"priority"`
	IsDefault     bool       `json:"is_default"`
	FailureCount  int        `json:"failure_count"`
	Brand         *string    `json:"card_brand,omitempty"`
	Last4         *string    `json:"card_last4,omitempty"`
	ExpMonth      *int       `json:"card_exp_month,omitempty"`
	ExpYear       *int       `json:"card_exp_year,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toPaymentMethodResponse(method *models.PaymentMethod) paymentMethodResponse {
	return paymentMethodResponse{
		ID:            method.ID.String(),
		Status:        string(method.Status),
		Priority:      method.Priority,
		IsDefault:     method.IsDefault,
		FailureCount:  method.FailureCount,
		Brand:         method.CardBrand,
		Last4:         method.CardLast4,
		ExpMonth:      method.CardExpMonth,
		ExpYear:       method.CardExpYear,
		LastSuccessAt: method.LastSuccessAt,
		CreatedAt:     method.CreatedAt.UTC(),
	}
}

func resolveMethodID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "methodID"))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method id")
	}
	return id, nil
}

// PaymentMethodCreate handles card-on-file registration for an account.
func PaymentMethodCreate(svc paymentmethods.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment method service unavailable"))
			return
		}

		accountID, err := controllers.ResolveAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload paymentMethodCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))

		method, err := svc.StoreCard(r.Context(), accountID, paymentmethods.StoreCardInput{
			SourceID:          payload.SourceID,
			CardholderName:    payload.CardholderName,
			VerificationToken: payload.VerificationToken,
			IsDefault:         payload.IsDefault,
			Priority:          payload.Priority,
			IdempotencyKey:    idempotencyKey,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, toPaymentMethodResponse(method))
	}
}

// PaymentMethodsList returns the account's instruments in stored order.
func PaymentMethodsList(svc paymentmethods.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment method service unavailable"))
			return
		}

		accountID, err := controllers.ResolveAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		methods, err := svc.List(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]paymentMethodResponse, 0, len(methods))
		for i := range methods {
			out = append(out, toPaymentMethodResponse(&methods[i]))
		}
		responses.WriteSuccess(w, map[string]any{"payment_methods": out})
	}
}

// PaymentMethodSetPrimary promotes one chargeable instrument to default.
func PaymentMethodSetPrimary(svc paymentmethods.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment method service unavailable"))
			return
		}

		accountID, err := controllers.ResolveAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		methodID, err := resolveMethodID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := svc.SetPrimary(r.Context(), accountID, methodID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, toPaymentMethodResponse(method))
	}
}

// PaymentMethodReEnable puts a disabled instrument back into the fallback order.
func PaymentMethodReEnable(svc paymentmethods.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment method service unavailable"))
			return
		}

		accountID, err := controllers.ResolveAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		methodID, err := resolveMethodID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := svc.ReEnable(r.Context(), accountID, methodID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, toPaymentMethodResponse(method))
	}
}
