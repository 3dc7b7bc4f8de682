package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mateovidal/givebridge-backend/pkg/enums"
)

// PaymentMethod is a tokenized instrument vaulted with a processor. Raw card data
// never touches this table; ProviderInstrumentID is an opaque gateway token.
// Repeated failures soft-disable the row rather than deleting it.
type PaymentMethod struct {
	ID                   uuid.UUID                 `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID            uuid.UUID                 `gorm:"column:account_id;type:uuid;not null;index"`
	Provider             enums.PaymentProvider     `gorm:"column:provider;type:payment_provider;not null;default:'square'"`
	ProviderInstrumentID string                    `gorm:"column:provider_instrument_id;not null;uniqueIndex"`
	Priority             int                       `gorm:"column:priority;not null;default:0"`
	IsDefault            bool                      `gorm:"column:is_default;not null;default:false"`
	Status               enums.PaymentMethodStatus `gorm:"column:status;type:payment_method_status;not null;default:'active'"`
	FailureCount         int                       `gorm:"column:failure_count;not null;default:0"`
	LastSuccessAt        *time.Time                `gorm:"column:last_success_at"`
	LastFailureAt        *time.Time                `gorm:"column:last_failure_at"`
	CardBrand            *string                   `gorm:"column:card_brand"`
	CardLast4            *string                   `gorm:"column:card_last4"`
	CardExpMonth         *int                      `gorm:"column:card_exp_month"`
	CardExpYear          *int                      `gorm:"column:card_exp_year"`
	Metadata             json.RawMessage           `gorm:"column:metadata;type:jsonb"`
	CreatedAt            time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}
