package subscriptions

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mateovidal/givebridge-backend/pkg/db/models"
	"github.com/mateovidal/givebridge-backend/pkg/enums"
)

func engineTestAccount(status enums.SubscriptionStatus) *models.Account {
	return &models.Account{
		ID:                 uuid.New(),
		Name:               "Harbor Food Bank",
		Email:              "ops@harborfoodbank.org",
		SubscriptionStatus: status,
		AmountCents:        2500,
		Currency:           "usd",
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to enums.SubscriptionStatus
		want     bool
	}{
		{enums.SubscriptionStatusInactive, enums.SubscriptionStatusTrialing, true},
		{enums.SubscriptionStatusInactive, enums.SubscriptionStatusActive, true},
		{enums.SubscriptionStatusInactive, enums.SubscriptionStatusPastDue, false},
		{enums.SubscriptionStatusTrialing, enums.SubscriptionStatusActive, true},
		{enums.SubscriptionStatusActive, enums.SubscriptionStatusActive, true},
		{enums.SubscriptionStatusActive, enums.SubscriptionStatusPastDue, true},
		{enums.SubscriptionStatusPastDue, enums.SubscriptionStatusActive, true},
		{enums.SubscriptionStatusPastDue, enums.SubscriptionStatusCanceled, true},
		{enums.SubscriptionStatusCanceled, enums.SubscriptionStatusActive, false},
		{enums.SubscriptionStatusCanceled, enums.SubscriptionStatusPastDue, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestApplyChargeSuccessAdvancesFromCycleDate(t *testing.T) {
	account := engineTestAccount(enums.SubscriptionStatusPastDue)
	cycleDate := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	first := cycleDate.Add(2 * time.Hour)
	grace := first.Add(7 * 24 * time.Hour)
	retry := first.Add(24 * time.Hour)
	now := cycleDate.Add(26 * time.Hour)
	account.NextBillingDate = &cycleDate
	account.FailedAttempts = 1
	account.FirstFailureAt = &first
	account.GracePeriodEndsAt = &grace
	account.NextRetryAt = &retry

	require.NoError(t, ApplyChargeSuccess(account, enums.BillingIntervalMonthly, cycleDate, now))

	assert.Equal(t, enums.SubscriptionStatusActive, account.SubscriptionStatus)
	// The anchor advances from the cycle date, not from the retry time.
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), *account.NextBillingDate)
	assert.Equal(t, now, *account.LastPaymentDate)
	assert.Zero(t, account.FailedAttempts)
	assert.Nil(t, account.FirstFailureAt)
	assert.Nil(t, account.GracePeriodEndsAt)
	assert.Nil(t, account.NextRetryAt)
}

func TestApplyChargeFailurePinsFirstFailure(t *testing.T) {
	account := engineTestAccount(enums.SubscriptionStatusActive)
	cycleDate := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	account.NextBillingDate = &cycleDate
	scheduler := NewFixedScheduler()

	first := cycleDate.Add(time.Hour)
	require.NoError(t, ApplyChargeFailure(account, scheduler, first))

	assert.Equal(t, enums.SubscriptionStatusPastDue, account.SubscriptionStatus)
	assert.Equal(t, 1, account.FailedAttempts)
	require.NotNil(t, account.FirstFailureAt)
	assert.Equal(t, first, *account.FirstFailureAt)
	assert.Equal(t, first.Add(7*24*time.Hour), *account.GracePeriodEndsAt)
	assert.Equal(t, first.Add(24*time.Hour), *account.NextRetryAt)

	// A later failure moves the retry pointer but never the first-failure pin
	// or the grace deadline.
	second := first.Add(25 * time.Hour)
	require.NoError(t, ApplyChargeFailure(account, scheduler, second))
	assert.Equal(t, 2, account.FailedAttempts)
	assert.Equal(t, first, *account.FirstFailureAt)
	assert.Equal(t, first.Add(7*24*time.Hour), *account.GracePeriodEndsAt)
	assert.Equal(t, first.Add(72*time.Hour), *account.NextRetryAt)

	// Third consecutive failure exhausts the budget: no further retry slot.
	third := first.Add(73 * time.Hour)
	require.NoError(t, ApplyChargeFailure(account, scheduler, third))
	assert.Equal(t, 3, account.FailedAttempts)
	assert.Nil(t, account.NextRetryAt)
	assert.True(t, RetriesExhausted(account, scheduler))
}

func TestApplyCancellation(t *testing.T) {
	account := engineTestAccount(enums.SubscriptionStatusPastDue)
	account.Tier = enums.PlanTierGrowth
	next := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	retry := next.Add(24 * time.Hour)
	account.NextBillingDate = &next
	account.NextRetryAt = &retry

	now := next.Add(8 * 24 * time.Hour)
	require.NoError(t, ApplyCancellation(account, now))

	assert.Equal(t, enums.SubscriptionStatusCanceled, account.SubscriptionStatus)
	assert.Equal(t, now, *account.SubscriptionEndDate)
	assert.Nil(t, account.NextRetryAt)
	assert.Nil(t, account.NextBillingDate)
	// An admin cancel keeps the tier, so reactivating does not re-price.
	assert.Equal(t, enums.PlanTierGrowth, account.Tier)

	// Canceled is terminal.
	assert.Error(t, Transition(account, enums.SubscriptionStatusActive))
}

func TestApplyFinalCancellationDropsTier(t *testing.T) {
	account := engineTestAccount(enums.SubscriptionStatusPastDue)
	account.Tier = enums.PlanTierImpact
	next := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	account.NextBillingDate = &next

	now := next.Add(8 * 24 * time.Hour)
	require.NoError(t, ApplyFinalCancellation(account, now))

	assert.Equal(t, enums.SubscriptionStatusCanceled, account.SubscriptionStatus)
	assert.Equal(t, now, *account.SubscriptionEndDate)
	assert.Equal(t, enums.PlanTierFree, account.Tier)
}
