package models

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/mateovidal/givebridge-backend/pkg/enums"
)

// BillingPlan is an immutable catalog entry; billing reads it, never writes it.
type BillingPlan struct {
	ID           string                `gorm:"column:id;primaryKey"`
	Name         string                `gorm:"column:name;not null"`
	Status       enums.PlanStatus      `gorm:"column:status;type:plan_status;not null"`
	Tier         enums.PlanTier        `gorm:"column:tier;type:plan_tier;not null"`
	Interval     enums.BillingInterval `gorm:"column:interval;type:billing_interval;not null"`
	PriceAmount  decimal.Decimal       `gorm:"column:price_amount;type:numeric(12,2);not null"`
	CurrencyCode string                `gorm:"column:currency_code;not null"`
	TrialDays    int                   `gorm:"column:trial_days;not null;default:0"`
	IsDefault    bool                  `gorm:"column:is_default;not null;default:false"`
	Features     pq.StringArray        `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	UI           json.RawMessage       `gorm:"column:ui;type:jsonb"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// AmountCents renders the plan price in minor units for gateway calls.
func (p BillingPlan) AmountCents() int64 {
	return p.PriceAmount.Mul(decimal.NewFromInt(100)).IntPart()
}
