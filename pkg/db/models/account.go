package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mateovidal/givebridge-backend/pkg/enums"
)

// Account is an organization or donor carrying a recurring billing obligation.
// Billing state on this row is mutated only by the billing orchestrator and the
// explicit admin cancel/reactivate operations; rows are never deleted so canceled
// accounts keep their history.
type Account struct {
	ID                     uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Kind                   enums.AccountKind        `gorm:"column:kind;type:account_kind;not null;default:'organization'"`
	Name                   string                   `gorm:"column:name;not null"`
	Email                  string                   `gorm:"column:email;not null"`
	SubscriptionStatus     enums.SubscriptionStatus `gorm:"column:subscription_status;type:subscription_status;not null;default:'inactive'"`
	PlanID                 *string                  `gorm:"column:plan_id"`
	Tier                   enums.PlanTier           `gorm:"column:tier;type:plan_tier;not null;default:'free'"`
	AmountCents            int64                    `gorm:"column:amount_cents;not null;default:0"`
	Currency               string                   `gorm:"column:currency;not null;default:'usd'"`
	BillingCycleAnchor     *time.Time               `gorm:"column:billing_cycle_anchor"`
	NextBillingDate        *time.Time               `gorm:"column:next_billing_date;index"`
	LastPaymentDate        *time.Time               `gorm:"column:last_payment_date"`
	FailedAttempts         int                      `gorm:"column:failed_attempts;not null;default:0"`
	FirstFailureAt         *time.Time               `gorm:"column:first_failure_at"`
	GracePeriodEndsAt      *time.Time               `gorm:"column:grace_period_ends_at"`
	NextRetryAt            *time.Time               `gorm:"column:next_retry_at"`
	SubscriptionEndDate    *time.Time               `gorm:"column:subscription_end_date"`
	PrimaryPaymentMethodID *uuid.UUID               `gorm:"column:primary_payment_method_id;type:uuid"`
	GatewayCustomerID      *string                  `gorm:"column:gateway_customer_id"`
	LockVersion            int64                    `gorm:"column:lock_version;not null;default:0"`
	CreatedAt              time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
