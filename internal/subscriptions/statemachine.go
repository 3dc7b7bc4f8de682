package subscriptions

import (
	"fmt"
	"time"

	"github.com/mateovidal/givebridge-backend/pkg/db/models"
	"github.com/mateovidal/givebridge-backend/pkg/enums"
)

// allowedTransitions encodes the subscription lifecycle. Canceled is terminal:
// only an explicit admin reactivation leaves it, and that is modeled as a new
// enrollment rather than a transition here.
var allowedTransitions = map[enums.SubscriptionStatus][]enums.SubscriptionStatus{
	enums.SubscriptionStatusInactive: {
		enums.SubscriptionStatusTrialing,
		enums.SubscriptionStatusActive,
	},
	enums.SubscriptionStatusTrialing: {
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusCanceled,
	},
	enums.SubscriptionStatusActive: {
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusCanceled,
	},
	enums.SubscriptionStatusPastDue: {
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusCanceled,
	},
	enums.SubscriptionStatusCanceled: {},
}

// CanTransition reports whether the lifecycle permits moving from one status to another.
func CanTransition(from, to enums.SubscriptionStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Transition validates and applies a status change on the account.
func Transition(account *models.Account, to enums.SubscriptionStatus) error {
	if !CanTransition(account.SubscriptionStatus, to) {
		return fmt.Errorf("illegal subscription transition %s -> %s", account.SubscriptionStatus, to)
	}
	account.SubscriptionStatus = to
	return nil
}

// ApplyChargeSuccess moves the account into active, clears all failure
// bookkeeping and advances the billing date one interval past the cycle that
// was just collected. The next date advances from the cycle date, not from
// now, so a late retry does not drift the anchor.
func ApplyChargeSuccess(account *models.Account, interval enums.BillingInterval, cycleDate, now time.Time) error {
	if err := Transition(account, enums.SubscriptionStatusActive); err != nil {
		return err
	}
	next := interval.Advance(cycleDate)
	account.NextBillingDate = &next
	account.LastPaymentDate = &now
	account.FailedAttempts = 0
	account.FirstFailureAt = nil
	account.GracePeriodEndsAt = nil
	account.NextRetryAt = nil
	return nil
}

// ApplyChargeFailure records one failed cycle run. The first failure of a
// cycle pins first_failure_at and the grace deadline; later failures never
// move them. The caller decides afterwards whether a retry remains or the
// account must be canceled.
func ApplyChargeFailure(account *models.Account, scheduler RetryScheduler, now time.Time) error {
	if account.SubscriptionStatus != enums.SubscriptionStatusPastDue {
		if err := Transition(account, enums.SubscriptionStatusPastDue); err != nil {
			return err
		}
	}
	account.FailedAttempts++
	if account.FirstFailureAt == nil {
		first := now
		account.FirstFailureAt = &first
		deadline := scheduler.GraceDeadline(first)
		account.GracePeriodEndsAt = &deadline
	}

	retryAt, ok := scheduler.NextRetryAt(*account.FirstFailureAt, account.FailedAttempts)
	if !ok {
		account.NextRetryAt = nil
		return nil
	}
	account.NextRetryAt = &retryAt
	return nil
}

// ApplyCancellation terminates the subscription on explicit admin request.
// The tier is left alone so an admin cancel can be undone without re-pricing.
func ApplyCancellation(account *models.Account, now time.Time) error {
	if err := Transition(account, enums.SubscriptionStatusCanceled); err != nil {
		return err
	}
	account.SubscriptionEndDate = &now
	account.NextRetryAt = nil
	account.NextBillingDate = nil
	return nil
}

// ApplyFinalCancellation terminates the subscription after the retry budget
// is exhausted. Unlike an admin cancel the paid tier is lost: the account
// drops to free.
func ApplyFinalCancellation(account *models.Account, now time.Time) error {
	if err := ApplyCancellation(account, now); err != nil {
		return err
	}
	account.Tier = enums.PlanTierFree
	return nil
}

// RetriesExhausted reports whether another retry is still available for the
// current failure streak.
func RetriesExhausted(account *models.Account, scheduler RetryScheduler) bool {
	if account.FirstFailureAt == nil {
		return false
	}
	_, ok := scheduler.NextRetryAt(*account.FirstFailureAt, account.FailedAttempts)
	return !ok
}
