package squarewebhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/google/uuid"

	"github.com/mateovidal/givebridge-backend/internal/subscriptions"
	pkgerrors "github.com/mateovidal/givebridge-backend/pkg/errors"
	"github.com/mateovidal/givebridge-backend/pkg/logger"
)

// PaymentEvent is the subset of a Square payment webhook the billing engine
// cares about.
type PaymentEvent struct {
	EventID string           `json:"event_id"`
	Type    string           `json:"type"`
	Data    PaymentEventData `json:"data"`
}

type PaymentEventData struct {
	Type   string             `json:"type"`
	ID     string             `json:"id"`
	Object PaymentEventObject `json:"object"`
}

type PaymentEventObject struct {
	Payment *PaymentPayload `json:"payment"`
}

type PaymentPayload struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ReferenceID string `json:"reference_id"`
}

type reconciler interface {
	ReconcileLateSuccess(ctx context.Context, accountID uuid.UUID, externalTxID string) (*subscriptions.CycleResult, error)
}

// ServiceParams groups dependencies for the Square webhook service.
type ServiceParams struct {
	Orchestrator  reconciler
	Guard         *IdempotencyGuard
	SigningSecret string
	NotifyURL     string
	Logger        *logger.Logger
}

// Service verifies and applies Square payment webhooks.
type Service struct {
	orchestrator reconciler
	guard        *IdempotencyGuard
	secret       string
	notifyURL    string
	logg         *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orchestrator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orchestrator required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	if strings.TrimSpace(params.SigningSecret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "signing secret required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		orchestrator: params.Orchestrator,
		guard:        params.Guard,
		secret:       params.SigningSecret,
		notifyURL:    params.NotifyURL,
		logg:         params.Logger,
	}, nil
}

// VerifySignature checks the x-square-hmacsha256-signature header: HMAC-SHA256
// over the notification URL concatenated with the raw body.
func (s *Service) VerifySignature(signature string, body []byte) bool {
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(s.notifyURL))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}

// HandleEvent routes one verified webhook event. Unknown event types are
// acknowledged without action so Square stops redelivering them.
func (s *Service) HandleEvent(ctx context.Context, event *PaymentEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "square event required")
	}
	if event.EventID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}

	duplicate, err := s.guard.CheckAndMark(ctx, event.EventID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook dedup")
	}
	if duplicate {
		s.logg.Info(s.logg.WithField(ctx, "event_id", event.EventID), "duplicate webhook delivery, skipping")
		return nil
	}

	if err := s.route(ctx, event); err != nil {
		// Release the marker so Square's redelivery retries the handler.
		if delErr := s.guard.Delete(ctx, event.EventID); delErr != nil {
			s.logg.Error(ctx, "release webhook dedup marker", delErr)
		}
		return err
	}
	return nil
}

func (s *Service) route(ctx context.Context, event *PaymentEvent) error {
	switch strings.ToLower(event.Type) {
	case "payment.updated":
		return s.handlePaymentUpdated(ctx, event.Data.Object.Payment)
	default:
		return nil
	}
}

// handlePaymentUpdated reconciles completions that the synchronous charge call
// never observed, typically after a gateway timeout.
func (s *Service) handlePaymentUpdated(ctx context.Context, payment *PaymentPayload) error {
	if payment == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment payload missing")
	}
	if !strings.EqualFold(payment.Status, "COMPLETED") {
		return nil
	}

	accountID, err := uuid.Parse(strings.TrimSpace(payment.ReferenceID))
	if err != nil {
		// Payments without an account reference are one-off donations handled
		// elsewhere; nothing to reconcile.
		return nil
	}

	result, err := s.orchestrator.ReconcileLateSuccess(ctx, accountID, payment.ID)
	if err != nil {
		return err
	}
	s.logg.Info(
		s.logg.WithFields(ctx, map[string]any{
			"account_id": accountID.String(),
			"outcome":    string(result.Outcome),
		}),
		"payment webhook reconciled",
	)
	return nil
}
