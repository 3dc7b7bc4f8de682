package subscriptions

import (
	"time"

	"github.com/google/uuid"
)

// Payloads published through the transactional outbox. Consumers include the
// notification worker and the analytics export, so field names are part of
// the event contract and must stay backward compatible.

type ChargeSucceededEvent struct {
	AccountID       uuid.UUID  `json:"account_id"`
	PaymentMethodID uuid.UUID  `json:"payment_method_id"`
	CycleDate       time.Time  `json:"cycle_date"`
	AmountCents     int64      `json:"amount_cents"`
	Currency        string     `json:"currency"`
	ExternalTxID    string     `json:"external_tx_id"`
	NextBillingDate *time.Time `json:"next_billing_date,omitempty"`
}

type ChargeFailedEvent struct {
	AccountID      uuid.UUID  `json:"account_id"`
	CycleDate      time.Time  `json:"cycle_date"`
	AmountCents    int64      `json:"amount_cents"`
	Currency       string     `json:"currency"`
	FailedAttempts int        `json:"failed_attempts"`
	DeclineReason  *string    `json:"decline_reason,omitempty"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
}

type SubscriptionPastDueEvent struct {
	AccountID         uuid.UUID `json:"account_id"`
	CycleDate         time.Time `json:"cycle_date"`
	FirstFailureAt    time.Time `json:"first_failure_at"`
	GracePeriodEndsAt time.Time `json:"grace_period_ends_at"`
}

type SubscriptionCanceledEvent struct {
	AccountID           uuid.UUID `json:"account_id"`
	CycleDate           time.Time `json:"cycle_date"`
	SubscriptionEndDate time.Time `json:"subscription_end_date"`
	Reason              string    `json:"reason"`
}

type SubscriptionRenewedEvent struct {
	AccountID       uuid.UUID `json:"account_id"`
	PlanID          string    `json:"plan_id"`
	CycleDate       time.Time `json:"cycle_date"`
	NextBillingDate time.Time `json:"next_billing_date"`
}

type PaymentMethodDisabledEvent struct {
	AccountID       uuid.UUID `json:"account_id"`
	PaymentMethodID uuid.UUID `json:"payment_method_id"`
	FailureCount    int       `json:"failure_count"`
}

// Cancellation reasons recorded on SubscriptionCanceledEvent.
const (
	CancelReasonRetriesExhausted = "retries_exhausted"
	CancelReasonAdminRequest     = "admin_request"
)
