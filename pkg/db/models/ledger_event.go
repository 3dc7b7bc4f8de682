package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mateovidal/givebridge-backend/pkg/enums"
)

// LedgerEvent is the immutable revenue record handed to accounting. ReferenceKey
// carries the billing idempotency key so one successful charge maps to exactly one
// revenue row.
type LedgerEvent struct {
	ID           uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID    uuid.UUID             `gorm:"column:account_id;type:uuid;not null;index"`
	Type         enums.LedgerEventType `gorm:"column:type;type:ledger_event_type;not null"`
	PlanID       *string               `gorm:"column:plan_id"`
	AmountCents  int64                 `gorm:"column:amount_cents;not null"`
	Currency     string                `gorm:"column:currency;not null;default:'usd'"`
	ReferenceKey string                `gorm:"column:reference_key;not null;uniqueIndex"`
	Metadata     json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime"`
}
