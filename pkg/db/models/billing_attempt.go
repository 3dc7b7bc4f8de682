package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mateovidal/givebridge-backend/pkg/enums"
)

// BillingAttempt is the append-only record of one charge against one instrument.
// CycleDate identifies the billing cycle (the next_billing_date the cycle was due at);
// a partial unique index on (account_id, cycle_date) where outcome = 'success' backs
// the no-double-charge invariant.
type BillingAttempt struct {
	ID              uuid.UUID            `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID       uuid.UUID            `gorm:"column:account_id;type:uuid;not null;index"`
	PaymentMethodID *uuid.UUID           `gorm:"column:payment_method_id;type:uuid"`
	CycleDate       time.Time            `gorm:"column:cycle_date;not null"`
	AmountCents     int64                `gorm:"column:amount_cents;not null"`
	Currency        string               `gorm:"column:currency;not null;default:'usd'"`
	Outcome         enums.AttemptOutcome `gorm:"column:outcome;type:attempt_outcome;not null"`
	ExternalTxID    *string              `gorm:"column:external_tx_id"`
	DeclineReason   *string              `gorm:"column:decline_reason"`
	IdempotencyKey  string               `gorm:"column:idempotency_key;not null;index"`
	AttemptedAt     time.Time            `gorm:"column:attempted_at;not null"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
}
