package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/mateovidal/givebridge-backend/internal/billing"
	"github.com/mateovidal/givebridge-backend/internal/ledger"
	"github.com/mateovidal/givebridge-backend/pkg/config"
	dbpkg "github.com/mateovidal/givebridge-backend/pkg/db"
	"github.com/mateovidal/givebridge-backend/pkg/db/models"
	"github.com/mateovidal/givebridge-backend/pkg/enums"
	pkgerrors "github.com/mateovidal/givebridge-backend/pkg/errors"
	"github.com/mateovidal/givebridge-backend/pkg/logger"
	"github.com/mateovidal/givebridge-backend/pkg/metrics"
	"github.com/mateovidal/givebridge-backend/pkg/outbox"
	"github.com/mateovidal/givebridge-backend/pkg/square"
)

// Gateway is the charge surface the orchestrator needs from a payment
// processor. Declines come back in the result; only transport and processor
// faults surface as errors.
type Gateway interface {
	Charge(ctx context.Context, params square.ChargeParams) (*square.ChargeResult, error)
}

// CycleOutcome classifies one billing run for an account.
type CycleOutcome string

const (
	OutcomeSuccess        CycleOutcome = "success"
	OutcomeAlreadyBilled  CycleOutcome = "already_billed"
	OutcomeNotDue         CycleOutcome = "not_due"
	OutcomeSkipped        CycleOutcome = "skipped"
	OutcomeRetryScheduled CycleOutcome = "retry_scheduled"
	OutcomeFailedFinal    CycleOutcome = "failed_final"
)

// CycleResult reports what one RunCycle call did.
type CycleResult struct {
	AccountID uuid.UUID
	Outcome   CycleOutcome
	CycleDate time.Time
	AttemptID *uuid.UUID
}

// Orchestrator drives the billing cycle for individual accounts and for the
// due sweep.
type Orchestrator interface {
	// RunCycle bills one account if a cycle is due. Safe to call repeatedly;
	// a cycle that already collected returns OutcomeAlreadyBilled.
	RunCycle(ctx context.Context, accountID uuid.UUID) (*CycleResult, error)
	// ProcessDueAccounts runs one sweep over every account whose billing or
	// retry date has passed. Per-account failures are collected, not fatal.
	ProcessDueAccounts(ctx context.Context) (int, error)
	// ReconcileLateSuccess applies a gateway webhook reporting that a charge
	// previously recorded as a gateway fault actually completed. A completion
	// arriving after final cancellation is ignored.
	ReconcileLateSuccess(ctx context.Context, accountID uuid.UUID, externalTxID string) (*CycleResult, error)
}

// OrchestratorParams groups dependencies for the billing orchestrator.
type OrchestratorParams struct {
	DB        *gorm.DB
	Repo      billing.Repository
	Gateway   Gateway
	Outbox    *outbox.Service
	Ledger    ledger.Service
	Logger    *logger.Logger
	Metrics   *metrics.BillingMetrics
	Billing   config.BillingConfig
	Scheduler RetryScheduler
	Clock     func() time.Time
}

type orchestrator struct {
	conn      *gorm.DB
	repo      billing.Repository
	gateway   Gateway
	outbox    *outbox.Service
	ledger    ledger.Service
	logg      *logger.Logger
	met       *metrics.BillingMetrics
	cfg       config.BillingConfig
	scheduler RetryScheduler
	now       func() time.Time
	locks     *accountLocks
}

// NewOrchestrator builds the billing orchestrator with the required dependencies.
func NewOrchestrator(params OrchestratorParams) (Orchestrator, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("billing repo required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Scheduler == nil {
		params.Scheduler = NewFixedScheduler()
	}
	if params.Clock == nil {
		params.Clock = time.Now
	}
	if params.Billing.GatewayTimeout <= 0 {
		params.Billing.GatewayTimeout = 30 * time.Second
	}
	if params.Billing.SweepBatchSize <= 0 {
		params.Billing.SweepBatchSize = 250
	}
	return &orchestrator{
		conn:      params.DB,
		repo:      params.Repo,
		gateway:   params.Gateway,
		outbox:    params.Outbox,
		ledger:    params.Ledger,
		logg:      params.Logger,
		met:       params.Metrics,
		cfg:       params.Billing,
		scheduler: params.Scheduler,
		now:       params.Clock,
		locks:     newAccountLocks(),
	}, nil
}

// IdempotencyKey identifies one charge intent for one cycle. Retries of the
// same cycle reuse it so the gateway collapses duplicates.
func IdempotencyKey(accountID uuid.UUID, cycleDate time.Time) string {
	return fmt.Sprintf("%s:%s", accountID, cycleDate.UTC().Format("2006-01-02"))
}

func (o *orchestrator) RunCycle(ctx context.Context, accountID uuid.UUID) (*CycleResult, error) {
	unlock := o.locks.Lock(accountID)
	defer unlock()

	ctx = o.logg.WithAccountID(ctx, accountID.String())
	now := o.now()

	account, err := o.repo.FindAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}

	if !isBillable(account) {
		return &CycleResult{AccountID: accountID, Outcome: OutcomeNotDue}, nil
	}
	if !isDue(account, now) {
		return &CycleResult{AccountID: accountID, Outcome: OutcomeNotDue}, nil
	}

	cycleDate := account.NextBillingDate.UTC()
	ctx = o.logg.WithField(ctx, "cycle_date", cycleDate.Format("2006-01-02"))

	// A prior run may have collected this cycle already, for example a retry
	// sweep racing a late webhook. The partial unique index backs this check.
	existing, err := o.repo.FindSuccessfulAttempt(ctx, accountID, cycleDate)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		o.logg.Info(ctx, "cycle already collected, skipping")
		return &CycleResult{AccountID: accountID, Outcome: OutcomeAlreadyBilled, CycleDate: cycleDate, AttemptID: &existing.ID}, nil
	}

	plan, amountCents, currency, err := o.resolveCharge(ctx, account)
	if err != nil {
		return nil, err
	}

	methods, err := o.repo.ListPaymentMethods(ctx, accountID)
	if err != nil {
		return nil, err
	}
	ordered := OrderChargeableMethods(methods)
	if len(ordered) == 0 {
		o.logg.Warn(ctx, "no chargeable payment method on file")
		return o.handleFailedRun(ctx, account, cycleDate, amountCents, currency, "no_chargeable_method")
	}

	idemKey := IdempotencyKey(accountID, cycleDate)
	var lastDecline string

	for i := range ordered {
		method := &ordered[i]
		result, err := o.charge(ctx, account, method, amountCents, currency, idemKey)
		if err != nil {
			// Gateway or transport fault. The charge state is unknown, so no
			// fallback this run; idempotency at the gateway makes the retry safe.
			o.recordMetric("gateway_error")
			attemptErr := o.recordAttempt(ctx, account, method, cycleDate, amountCents, currency,
				enums.AttemptOutcomeGatewayError, nil, err.Error(), idemKey, now)
			if attemptErr != nil {
				return nil, multierr.Append(err, attemptErr)
			}
			return o.handleFailedRun(ctx, account, cycleDate, amountCents, currency, "gateway_error")
		}

		if result.Status == square.ChargeSucceeded {
			o.recordMetric("success")
			return o.handleSuccess(ctx, account, plan, method, cycleDate, amountCents, currency, result.ExternalTxID, idemKey)
		}

		// Declined: record it, penalize the instrument, and fall through to
		// the next one in the same run.
		o.recordMetric("declined")
		lastDecline = result.DeclineReason
		if err := o.recordDecline(ctx, account, method, cycleDate, amountCents, currency, result.DeclineReason, idemKey, now); err != nil {
			return nil, err
		}
	}

	return o.handleFailedRun(ctx, account, cycleDate, amountCents, currency, lastDecline)
}

func (o *orchestrator) ProcessDueAccounts(ctx context.Context) (int, error) {
	now := o.now()
	due, err := o.repo.ListDueAccounts(ctx, now, o.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	var processed int
	var errs error
	for _, account := range due {
		if ctx.Err() != nil {
			return processed, multierr.Append(errs, ctx.Err())
		}
		result, err := o.RunCycle(ctx, account.ID)
		if err != nil {
			o.logg.Error(o.logg.WithAccountID(ctx, account.ID.String()), "billing run failed", err)
			errs = multierr.Append(errs, fmt.Errorf("account %s: %w", account.ID, err))
			continue
		}
		if o.met != nil {
			o.met.IncCycleResult(string(result.Outcome))
		}
		processed++
	}
	return processed, errs
}

func (o *orchestrator) ReconcileLateSuccess(ctx context.Context, accountID uuid.UUID, externalTxID string) (*CycleResult, error) {
	unlock := o.locks.Lock(accountID)
	defer unlock()

	ctx = o.logg.WithAccountID(ctx, accountID.String())

	account, err := o.repo.FindAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	if account.SubscriptionStatus == enums.SubscriptionStatusCanceled {
		o.logg.Warn(ctx, "late charge completion after cancellation, ignoring")
		return &CycleResult{AccountID: accountID, Outcome: OutcomeSkipped}, nil
	}
	if account.NextBillingDate == nil {
		return &CycleResult{AccountID: accountID, Outcome: OutcomeSkipped}, nil
	}

	cycleDate := account.NextBillingDate.UTC()
	existing, err := o.repo.FindSuccessfulAttempt(ctx, accountID, cycleDate)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &CycleResult{AccountID: accountID, Outcome: OutcomeAlreadyBilled, CycleDate: cycleDate, AttemptID: &existing.ID}, nil
	}

	idemKey := IdempotencyKey(accountID, cycleDate)
	attempts, err := o.repo.FindAttemptsByIdempotencyKey(ctx, idemKey)
	if err != nil {
		return nil, err
	}
	var pending *models.BillingAttempt
	for i := range attempts {
		if attempts[i].Outcome == enums.AttemptOutcomeGatewayError && attempts[i].PaymentMethodID != nil {
			pending = &attempts[i]
			break
		}
	}
	if pending == nil {
		o.logg.Info(ctx, "no indeterminate attempt for reported completion, ignoring")
		return &CycleResult{AccountID: accountID, Outcome: OutcomeSkipped, CycleDate: cycleDate}, nil
	}

	method, err := o.repo.FindPaymentMethod(ctx, *pending.PaymentMethodID)
	if err != nil {
		return nil, err
	}
	if method == nil {
		return &CycleResult{AccountID: accountID, Outcome: OutcomeSkipped, CycleDate: cycleDate}, nil
	}

	var plan *models.BillingPlan
	if account.PlanID != nil {
		if plan, err = o.repo.FindBillingPlanByID(ctx, *account.PlanID); err != nil {
			return nil, err
		}
		if plan == nil {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "account references a missing billing plan")
		}
	}

	o.logg.Info(ctx, "reconciling late charge completion")
	return o.handleSuccess(ctx, account, plan, method, cycleDate, pending.AmountCents, pending.Currency, externalTxID, idemKey)
}

// resolveCharge determines what to bill from the plan, falling back to the
// amount pinned on the account for grandfathered pricing.
func (o *orchestrator) resolveCharge(ctx context.Context, account *models.Account) (*models.BillingPlan, int64, string, error) {
	var plan *models.BillingPlan
	if account.PlanID != nil {
		found, err := o.repo.FindBillingPlanByID(ctx, *account.PlanID)
		if err != nil {
			return nil, 0, "", err
		}
		if found == nil {
			// A dangling plan reference is a configuration fault, not a
			// billing failure: surface it before any attempt is recorded.
			return nil, 0, "", pkgerrors.New(pkgerrors.CodeStateConflict, "account references a missing billing plan")
		}
		plan = found
	}

	amount := account.AmountCents
	currency := account.Currency
	if amount <= 0 && plan != nil {
		amount = plan.AmountCents()
		currency = plan.CurrencyCode
	}
	if amount <= 0 {
		return nil, 0, "", pkgerrors.New(pkgerrors.CodeStateConflict, "account has no billable amount")
	}
	return plan, amount, currency, nil
}

func (o *orchestrator) charge(ctx context.Context, account *models.Account, method *models.PaymentMethod, amountCents int64, currency, idemKey string) (*square.ChargeResult, error) {
	customerID := ""
	if account.GatewayCustomerID != nil {
		customerID = *account.GatewayCustomerID
	}

	chargeCtx, cancel := context.WithTimeout(ctx, o.cfg.GatewayTimeout)
	defer cancel()

	start := o.now()
	result, err := o.gateway.Charge(chargeCtx, square.ChargeParams{
		AmountCents:    amountCents,
		Currency:       currency,
		CustomerID:     customerID,
		SourceID:       method.ProviderInstrumentID,
		IdempotencyKey: idemKey,
		Note:           "recurring subscription charge",
		ReferenceID:    account.ID.String(),
	})
	if o.met != nil {
		o.met.ObserveGatewayLatency(method.Provider.String(), o.now().Sub(start))
	}
	return result, err
}

func (o *orchestrator) handleSuccess(ctx context.Context, account *models.Account, plan *models.BillingPlan, method *models.PaymentMethod, cycleDate time.Time, amountCents int64, currency, externalTxID, idemKey string) (*CycleResult, error) {
	now := o.now()
	interval := enums.BillingIntervalMonthly
	if plan != nil {
		interval = plan.Interval
	}

	if err := ApplyChargeSuccess(account, interval, cycleDate, now); err != nil {
		return nil, err
	}

	attempt := &models.BillingAttempt{
		AccountID:       account.ID,
		PaymentMethodID: &method.ID,
		CycleDate:       cycleDate,
		AmountCents:     amountCents,
		Currency:        currency,
		Outcome:         enums.AttemptOutcomeSuccess,
		ExternalTxID:    &externalTxID,
		IdempotencyKey:  idemKey,
		AttemptedAt:     now,
	}

	err := o.conn.Transaction(func(tx *gorm.DB) error {
		txRepo := o.repo.WithTx(tx)

		if err := txRepo.CreateBillingAttempt(ctx, attempt); err != nil {
			if dbpkg.IsUniqueViolation(err, "uidx_billing_attempts_success") {
				return errAlreadyBilled
			}
			return err
		}
		if err := txRepo.UpdateAccountGuarded(ctx, account); err != nil {
			return err
		}

		method.FailureCount = 0
		successAt := now
		method.LastSuccessAt = &successAt
		if err := txRepo.UpdatePaymentMethod(ctx, method); err != nil {
			return err
		}

		var planID *string
		if plan != nil {
			planID = &plan.ID
		}
		if err := o.ledger.RecordSubscriptionRevenue(ctx, tx, ledger.SubscriptionRevenueEntry{
			AccountID:    account.ID,
			PlanID:       planID,
			AmountCents:  amountCents,
			Currency:     currency,
			ReferenceKey: idemKey,
		}); err != nil {
			return err
		}

		if err := o.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventChargeSucceeded,
			AggregateType: enums.AggregateAccount,
			AggregateID:   account.ID,
			Actor:         &outbox.ActorRef{Source: outbox.SourceBillingEngine},
			Data: ChargeSucceededEvent{
				AccountID:       account.ID,
				PaymentMethodID: method.ID,
				CycleDate:       cycleDate,
				AmountCents:     amountCents,
				Currency:        currency,
				ExternalTxID:    externalTxID,
				NextBillingDate: account.NextBillingDate,
			},
		}); err != nil {
			return err
		}
		return o.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionRenewed,
			AggregateType: enums.AggregateAccount,
			AggregateID:   account.ID,
			Actor:         &outbox.ActorRef{Source: outbox.SourceBillingEngine},
			Data: SubscriptionRenewedEvent{
				AccountID:       account.ID,
				PlanID:          deref(planID),
				CycleDate:       cycleDate,
				NextBillingDate: derefTime(account.NextBillingDate),
			},
		})
	})
	if err == errAlreadyBilled {
		o.logg.Info(ctx, "concurrent run collected cycle first")
		return &CycleResult{AccountID: account.ID, Outcome: OutcomeAlreadyBilled, CycleDate: cycleDate}, nil
	}
	if err != nil {
		return nil, err
	}

	o.logg.Info(ctx, "billing cycle collected")
	return &CycleResult{AccountID: account.ID, Outcome: OutcomeSuccess, CycleDate: cycleDate, AttemptID: &attempt.ID}, nil
}

// recordDecline persists one declined attempt and the instrument penalty in
// its own transaction so the audit trail survives even if a later method
// succeeds or the run aborts.
func (o *orchestrator) recordDecline(ctx context.Context, account *models.Account, method *models.PaymentMethod, cycleDate time.Time, amountCents int64, currency, reason, idemKey string, now time.Time) error {
	return o.conn.Transaction(func(tx *gorm.DB) error {
		txRepo := o.repo.WithTx(tx)

		declineReason := reason
		attempt := &models.BillingAttempt{
			AccountID:       account.ID,
			PaymentMethodID: &method.ID,
			CycleDate:       cycleDate,
			AmountCents:     amountCents,
			Currency:        currency,
			Outcome:         enums.AttemptOutcomeDeclined,
			DeclineReason:   &declineReason,
			IdempotencyKey:  idemKey,
			AttemptedAt:     now,
		}
		if err := txRepo.CreateBillingAttempt(ctx, attempt); err != nil {
			return err
		}

		method.FailureCount++
		failureAt := now
		method.LastFailureAt = &failureAt
		if method.FailureCount >= disableFailureThreshold {
			method.Status = enums.PaymentMethodStatusDisabled
			if err := o.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPaymentMethodDisabled,
				AggregateType: enums.AggregatePaymentMethod,
				AggregateID:   method.ID,
				Actor:         &outbox.ActorRef{Source: outbox.SourceBillingEngine},
				Data: PaymentMethodDisabledEvent{
					AccountID:       account.ID,
					PaymentMethodID: method.ID,
					FailureCount:    method.FailureCount,
				},
			}); err != nil {
				return err
			}
		}
		return txRepo.UpdatePaymentMethod(ctx, method)
	})
}

// recordAttempt persists a non-decline attempt row (gateway faults).
func (o *orchestrator) recordAttempt(ctx context.Context, account *models.Account, method *models.PaymentMethod, cycleDate time.Time, amountCents int64, currency string, outcome enums.AttemptOutcome, externalTxID *string, reason, idemKey string, now time.Time) error {
	declineReason := reason
	attempt := &models.BillingAttempt{
		AccountID:      account.ID,
		CycleDate:      cycleDate,
		AmountCents:    amountCents,
		Currency:       currency,
		Outcome:        outcome,
		ExternalTxID:   externalTxID,
		DeclineReason:  &declineReason,
		IdempotencyKey: idemKey,
		AttemptedAt:    now,
	}
	if method != nil {
		attempt.PaymentMethodID = &method.ID
	}
	return o.repo.CreateBillingAttempt(ctx, attempt)
}

// handleFailedRun applies the cycle-level failure bookkeeping after every
// usable instrument declined, no instrument was usable, or the gateway
// faulted. It schedules the next retry or cancels when the budget is spent.
func (o *orchestrator) handleFailedRun(ctx context.Context, account *models.Account, cycleDate time.Time, amountCents int64, currency string, reason string) (*CycleResult, error) {
	now := o.now()
	firstFailureOfCycle := account.FirstFailureAt == nil

	if err := ApplyChargeFailure(account, o.scheduler, now); err != nil {
		return nil, err
	}

	canceled := RetriesExhausted(account, o.scheduler)
	if canceled {
		if err := ApplyFinalCancellation(account, now); err != nil {
			return nil, err
		}
	}

	err := o.conn.Transaction(func(tx *gorm.DB) error {
		txRepo := o.repo.WithTx(tx)
		if err := txRepo.UpdateAccountGuarded(ctx, account); err != nil {
			return err
		}

		var declineReason *string
		if reason != "" {
			declineReason = &reason
		}
		if err := o.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventChargeFailed,
			AggregateType: enums.AggregateAccount,
			AggregateID:   account.ID,
			Actor:         &outbox.ActorRef{Source: outbox.SourceBillingEngine},
			Data: ChargeFailedEvent{
				AccountID:      account.ID,
				CycleDate:      cycleDate,
				AmountCents:    amountCents,
				Currency:       currency,
				FailedAttempts: account.FailedAttempts,
				DeclineReason:  declineReason,
				NextRetryAt:    account.NextRetryAt,
			},
		}); err != nil {
			return err
		}

		if firstFailureOfCycle && !canceled {
			if err := o.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventSubscriptionPastDue,
				AggregateType: enums.AggregateAccount,
				AggregateID:   account.ID,
				Actor:         &outbox.ActorRef{Source: outbox.SourceBillingEngine},
				Data: SubscriptionPastDueEvent{
					AccountID:         account.ID,
					CycleDate:         cycleDate,
					FirstFailureAt:    derefTime(account.FirstFailureAt),
					GracePeriodEndsAt: derefTime(account.GracePeriodEndsAt),
				},
			}); err != nil {
				return err
			}
		}

		if canceled {
			return o.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventSubscriptionCanceled,
				AggregateType: enums.AggregateAccount,
				AggregateID:   account.ID,
				Actor:         &outbox.ActorRef{Source: outbox.SourceBillingEngine},
				Data: SubscriptionCanceledEvent{
					AccountID:           account.ID,
					CycleDate:           cycleDate,
					SubscriptionEndDate: derefTime(account.SubscriptionEndDate),
					Reason:              CancelReasonRetriesExhausted,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if canceled {
		o.logg.Warn(ctx, "retry budget exhausted, subscription canceled")
		return &CycleResult{AccountID: account.ID, Outcome: OutcomeFailedFinal, CycleDate: cycleDate}, nil
	}
	o.logg.Info(ctx, "billing cycle failed, retry scheduled")
	return &CycleResult{AccountID: account.ID, Outcome: OutcomeRetryScheduled, CycleDate: cycleDate}, nil
}

func (o *orchestrator) recordMetric(outcome string) {
	if o.met != nil {
		o.met.IncChargeAttempt(outcome)
	}
}

// disableFailureThreshold soft-disables an instrument after this many
// consecutive declines.
const disableFailureThreshold = 3

var errAlreadyBilled = fmt.Errorf("cycle already billed")

func isBillable(account *models.Account) bool {
	switch account.SubscriptionStatus {
	case enums.SubscriptionStatusTrialing, enums.SubscriptionStatusActive, enums.SubscriptionStatusPastDue:
		return account.NextBillingDate != nil
	default:
		return false
	}
}

func isDue(account *models.Account, now time.Time) bool {
	if account.SubscriptionStatus == enums.SubscriptionStatusPastDue {
		return account.NextRetryAt != nil && !account.NextRetryAt.After(now)
	}
	return !account.NextBillingDate.After(now)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
