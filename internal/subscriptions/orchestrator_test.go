package subscriptions

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mateovidal/givebridge-backend/internal/billing"
	"github.com/mateovidal/givebridge-backend/internal/ledger"
	"github.com/mateovidal/givebridge-backend/pkg/config"
	"github.com/mateovidal/givebridge-backend/pkg/db/models"
	"github.com/mateovidal/givebridge-backend/pkg/enums"
	pkgerrors "github.com/mateovidal/givebridge-backend/pkg/errors"
	"github.com/mateovidal/givebridge-backend/pkg/logger"
	"github.com/mateovidal/givebridge-backend/pkg/outbox"
	"github.com/mateovidal/givebridge-backend/pkg/square"
)

type stubGateway struct {
	mu    sync.Mutex
	calls []square.ChargeParams
	// charge is invoked under the lock; tests swap it to script outcomes.
	charge func(params square.ChargeParams) (*square.ChargeResult, error)
}

func (g *stubGateway) Charge(_ context.Context, params square.ChargeParams) (*square.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, params)
	if g.charge == nil {
		return &square.ChargeResult{Status: square.ChargeSucceeded, ExternalTxID: "tx_" + uuid.NewString()}, nil
	}
	return g.charge(params)
}

func (g *stubGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type orchestratorHarness struct {
	db      *gorm.DB
	repo    billing.Repository
	gateway *stubGateway
	orch    Orchestrator
	now     time.Time
}

func setupOrchestratorTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	schema := []string{`
CREATE TABLE IF NOT EXISTS accounts (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL DEFAULT 'organization',
  name TEXT NOT NULL,
  email TEXT NOT NULL,
  subscription_status TEXT NOT NULL DEFAULT 'inactive',
  plan_id TEXT,
  tier TEXT NOT NULL DEFAULT 'free',
  amount_cents INTEGER NOT NULL DEFAULT 0,
  currency TEXT NOT NULL DEFAULT 'usd',
  billing_cycle_anchor DATETIME,
  next_billing_date DATETIME,
  last_payment_date DATETIME,
  failed_attempts INTEGER NOT NULL DEFAULT 0,
  first_failure_at DATETIME,
  grace_period_ends_at DATETIME,
  next_retry_at DATETIME,
  subscription_end_date DATETIME,
  primary_payment_method_id TEXT,
  gateway_customer_id TEXT,
  lock_version INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS payment_methods (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  provider TEXT NOT NULL DEFAULT 'square',
  provider_instrument_id TEXT NOT NULL UNIQUE,
  priority INTEGER NOT NULL DEFAULT 0,
  is_default INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'active',
  failure_count INTEGER NOT NULL DEFAULT 0,
  last_success_at DATETIME,
  last_failure_at DATETIME,
  card_brand TEXT,
  card_last4 TEXT,
  card_exp_month INTEGER,
  card_exp_year INTEGER,
  metadata TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS billing_plans (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'active',
  tier TEXT NOT NULL,
  interval TEXT NOT NULL,
  price_amount NUMERIC NOT NULL,
  currency_code TEXT NOT NULL DEFAULT 'usd',
  trial_days INTEGER NOT NULL DEFAULT 0,
  is_default INTEGER NOT NULL DEFAULT 0,
  features TEXT,
  ui TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS billing_attempts (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  payment_method_id TEXT,
  cycle_date DATETIME NOT NULL,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  outcome TEXT NOT NULL,
  external_tx_id TEXT,
  decline_reason TEXT,
  idempotency_key TEXT NOT NULL,
  attempted_at DATETIME NOT NULL,
  created_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS uidx_billing_attempts_success
  ON billing_attempts (account_id, cycle_date) WHERE outcome = 'success';`, `
CREATE TABLE IF NOT EXISTS ledger_events (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  type TEXT NOT NULL,
  plan_id TEXT,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  reference_key TEXT NOT NULL UNIQUE,
  metadata TEXT,
  created_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`}

	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func newOrchestratorHarness(t *testing.T) *orchestratorHarness {
	t.Helper()

	db := setupOrchestratorTestDB(t)
	repo := billing.NewRepository(db)
	logg := logger.New(logger.Options{ServiceName: "billing-test"})
	gateway := &stubGateway{}

	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Repo:   ledger.NewRepository(db),
		Logger: logg,
	})
	require.NoError(t, err)

	h := &orchestratorHarness{
		db:      db,
		repo:    repo,
		gateway: gateway,
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	orch, err := NewOrchestrator(OrchestratorParams{
		DB:      db,
		Repo:    repo,
		Gateway: gateway,
		Outbox:  outbox.NewService(outbox.NewRepository(db), logg),
		Ledger:  ledgerSvc,
		Logger:  logg,
		Billing: config.BillingConfig{GatewayTimeout: 5 * time.Second, SweepBatchSize: 100},
		Clock:   func() time.Time { return h.now },
	})
	require.NoError(t, err)
	h.orch = orch
	return h
}

func (h *orchestratorHarness) seedAccount(t *testing.T, status enums.SubscriptionStatus, nextBilling time.Time) *models.Account {
	t.Helper()

	customerID := "cust_" + uuid.NewString()[:8]
	account := &models.Account{
		ID:                 uuid.New(),
		Name:               "Harbor Food Bank",
		Email:              "ops@harborfoodbank.org",
		SubscriptionStatus: status,
		AmountCents:        2500,
		Currency:           "usd",
		NextBillingDate:    &nextBilling,
		GatewayCustomerID:  &customerID,
	}
	require.NoError(t, h.repo.CreateAccount(context.Background(), account))
	return account
}

func (h *orchestratorHarness) seedMethod(t *testing.T, accountID uuid.UUID, priority int, isDefault bool) *models.PaymentMethod {
	t.Helper()

	method := &models.PaymentMethod{
		ID:                   uuid.New(),
		AccountID:            accountID,
		Provider:             enums.PaymentProviderSquare,
		ProviderInstrumentID: "card_" + uuid.NewString(),
		Priority:             priority,
		IsDefault:            isDefault,
		Status:               enums.PaymentMethodStatusActive,
	}
	require.NoError(t, h.repo.CreatePaymentMethod(context.Background(), method))
	return method
}

func (h *orchestratorHarness) outboxEvents(t *testing.T, eventType enums.OutboxEventType) []models.OutboxEvent {
	t.Helper()

	var events []models.OutboxEvent
	require.NoError(t, h.db.Where("event_type = ?", eventType).Find(&events).Error)
	return events
}

func TestRunCycleCollectsAndAdvances(t *testing.T) {
	h := newOrchestratorHarness(t)
	ctx := context.Background()

	cycleDate := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	account := h.seedAccount(t, enums.SubscriptionStatusActive, cycleDate)
	method := h.seedMethod(t, account.ID, 0, true)

	result, err := h.orch.RunCycle(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, cycleDate, result.CycleDate)
	assert.Equal(t, 1, h.gateway.callCount())

	reloaded, err := h.repo.FindAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, reloaded.SubscriptionStatus)
	assert.Equal(t, cycleDate.AddDate(0, 1, 0), reloaded.NextBillingDate.UTC())
	assert.Zero(t, reloaded.FailedAttempts)

	attempt, err := h.repo.FindSuccessfulAttempt(ctx, account.ID, cycleDate)
	require.NoError(t, err)
	require.NotNil(t, attempt)
	assert.Equal(t, IdempotencyKey(account.ID, cycleDate), attempt.IdempotencyKey)

	var ledgerRows []models.LedgerEvent
	require.NoError(t, h.db.Where("account_id = ?", account.ID).Find(&ledgerRows).Error)
	require.Len(t, ledgerRows, 1)
	assert.Equal(t, IdempotencyKey(account.ID, cycleDate), ledgerRows[0].ReferenceKey)
	assert.Equal(t, int64(2500), ledgerRows[0].AmountCents)

	assert.Len(t, h.outboxEvents(t, enums.EventChargeSucceeded), 1)
	assert.Len(t, h.outboxEvents(t, enums.EventSubscriptionRenewed), 1)

	reloadedMethod, err := h.repo.FindPaymentMethod(ctx, method.ID)
	require.NoError(t, err)
	assert.NotNil(t, reloadedMethod.LastSuccessAt)
	assert.Zero(t, reloadedMethod.FailureCount)
}

func TestRunCycleNotDue(t *testing.T) {
	h := newOrchestratorHarness(t)

	account := h.seedAccount(t, enums.SubscriptionStatusActive, h.now.AddDate(0, 0, 5))
	h.seedMethod(t, account.ID, 0, true)

	result, err := h.orch.RunCycle(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotDue, result.Outcome)
	assert.Zero(t, h.gateway.callCount())
}

func TestRunCycleSecondRunIsAlreadyBilled(t *testing.T) {
	h := newOrchestratorHarness(t)
	ctx := context.Background()

	account := h.seedAccount(t, enums.SubscriptionStatusActive, h.now.Add(-time.Hour))
	h.seedMethod(t, account.ID, 0, true)

	first, err := h.orch.RunCycle(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, first.Outcome)

	// Force the billing date back to simulate a duplicate trigger for the
	// same cycle before the advance would have been observed.
	require.NoError(t, h.db.Model(&models.Account{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{"next_billing_date": first.CycleDate}).Error)

	second, err := h.orch.RunCycle(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyBilled, second.Outcome)
	assert.Equal(t, 1, h.gateway.callCount())

	var successCount int64
	require.NoError(t, h.db.Model(&models.BillingAttempt{}).
		Where("account_id = ? AND outcome = ?", account.ID, enums.AttemptOutcomeSuccess).
		Count(&successCount).Error)
	assert.Equal(t, int64(1), successCount)
}

func TestRunCycleFallsBackToNextMethod(t *testing.T) {
	h := newOrchestratorHarness(t)
	ctx := context.Background()

	account := h.seedAccount(t, enums.SubscriptionStatusActive, h.now.Add(-time.Hour))
	primary := h.seedMethod(t, account.ID, 0, true)
	backup := h.seedMethod(t, account.ID, 1, false)

	h.gateway.charge = func(params square.ChargeParams) (*square.ChargeResult, error) {
		if params.SourceID == primary.ProviderInstrumentID {
			return &square.ChargeResult{Status: square.ChargeDeclined, DeclineReason: "insufficient_funds"}, nil
		}
		return &square.ChargeResult{Status: square.ChargeSucceeded, ExternalTxID: "tx_backup"}, nil
	}

	result, err := h.orch.RunCycle(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, 2, h.gateway.callCount())

	var attempts []models.BillingAttempt
	require.NoError(t, h.db.Where("account_id = ?", account.ID).Order("created_at ASC, outcome ASC").Find(&attempts).Error)
	require.Len(t, attempts, 2)

	declined, err := h.repo.FindPaymentMethod(ctx, primary.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, declined.FailureCount)
	assert.NotNil(t, declined.LastFailureAt)

	succeeded, err := h.repo.FindPaymentMethod(ctx, backup.ID)
	require.NoError(t, err)
	assert.Zero(t, succeeded.FailureCount)
	assert.NotNil(t, succeeded.LastSuccessAt)

	// The account never went past_due.
	reloaded, err := h.repo.FindAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, reloaded.SubscriptionStatus)
	assert.Nil(t, reloaded.FirstFailureAt)
}

func TestRunCycleAllDeclinedSchedulesRetry(t *testing.T) {
	h := newOrchestratorHarness(t)
	ctx := context.Background()

	account := h.seedAccount(t, enums.SubscriptionStatusActive, h.now.Add(-time.Hour))
	h.seedMethod(t, account.ID, 0, true)

	h.gateway.charge = func(square.ChargeParams) (*square.ChargeResult, error) {
		return &square.ChargeResult{Status: square.ChargeDeclined, DeclineReason: "card_declined"}, nil
	}

	result, err := h.orch.RunCycle(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetryScheduled, result.Outcome)

	reloaded, err := h.repo.FindAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusPastDue, reloaded.SubscriptionStatus)
	assert.Equal(t, 1, reloaded.FailedAttempts)
	require.NotNil(t, reloaded.FirstFailureAt)
	assert.Equal(t, h.now, reloaded.FirstFailureAt.UTC())
	assert.Equal(t, h.now.Add(24*time.Hour), reloaded.NextRetryAt.UTC())
	assert.Equal(t, h.now.Add(7*24*time.Hour), reloaded.GracePeriodEndsAt.UTC())

	assert.Len(t, h.outboxEvents(t, enums.EventChargeFailed), 1)
	assert.Len(t, h.outboxEvents(t, enums.EventSubscriptionPastDue), 1)
}

func TestRunCycleGatewayErrorAbortsFallback(t *testing.T) {
	h := newOrchestratorHarness(t)
	ctx := context.Background()

	account := h.seedAccount(t, enums.SubscriptionStatusActive, h.now.Add(-time.Hour))
	h.seedMethod(t, account.ID, 0, true)
	h.seedMethod(t, account.ID, 1, false)

	h.gateway.charge = func(square.ChargeParams) (*square.ChargeResult, error) {
		return nil, fmt.Errorf("gateway unreachable")
	}

	result, err := h.orch.RunCycle(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetryScheduled, result.Outcome)
	// No fallback after an indeterminate charge.
	assert.Equal(t, 1, h.gateway.callCount())

	var attempts []models.BillingAttempt
	require.NoError(t, h.db.Where("account_id = ?", account.ID).Find(&attempts).Error)
	require.Len(t, attempts, 1)
	assert.Equal(t, enums.AttemptOutcomeGatewayError, attempts[0].Outcome)

	// Instruments carry no penalty for processor faults.
	var penalized int64
	require.NoError(t, h.db.Model(&models.PaymentMethod{}).
		Where("account_id = ? AND failure_count > 0", account.ID).
		Count(&penalized).Error)
	assert.Zero(t, penalized)
}

func TestRetryBudgetExhaustionCancels(t *testing.T) {
	h := newOrchestratorHarness(t)
	ctx := context.Background()

	account := h.seedAccount(t, enums.SubscriptionStatusActive, h.now.Add(-time.Hour))
	h.seedMethod(t, account.ID, 0, true)
	require.NoError(t, h.db.Model(&models.Account{}).
		Where("id = ?", account.ID).
		Update("tier", enums.PlanTierGrowth).Error)

	h.gateway.charge = func(square.ChargeParams) (*square.ChargeResult, error) {
		return &square.ChargeResult{Status: square.ChargeDeclined, DeclineReason: "card_declined"}, nil
	}

	// The initial charge plus both scheduled retries fail.
	firstFailure := h.now
	for run := 1; run <= 2; run++ {
		result, err := h.orch.RunCycle(ctx, account.ID)
		require.NoError(t, err)
		require.Equalf(t, OutcomeRetryScheduled, result.Outcome, "run %d", run)

		reloaded, err := h.repo.FindAccount(ctx, account.ID)
		require.NoError(t, err)
		require.NotNil(t, reloaded.NextRetryAt)
		h.now = reloaded.NextRetryAt.UTC().Add(time.Minute)
	}

	final, err := h.orch.RunCycle(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailedFinal, final.Outcome)

	reloaded, err := h.repo.FindAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusCanceled, reloaded.SubscriptionStatus)
	assert.Equal(t, 3, reloaded.FailedAttempts)
	assert.Nil(t, reloaded.NextRetryAt)
	require.NotNil(t, reloaded.SubscriptionEndDate)
	require.NotNil(t, reloaded.FirstFailureAt)
	assert.Equal(t, firstFailure, reloaded.FirstFailureAt.UTC())
	// Losing the cycle drops the account off its paid tier.
	assert.Equal(t, enums.PlanTierFree, reloaded.Tier)

	canceled := h.outboxEvents(t, enums.EventSubscriptionCanceled)
	require.Len(t, canceled, 1)

	// Canceled accounts never come back through the sweep.
	h.now = h.now.AddDate(0, 1, 0)
	processed, err := h.orch.ProcessDueAccounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func TestDeclinesDisableInstrument(t *testing.T) {
	h := newOrchestratorHarness(t)
	ctx := context.Background()

	account := h.seedAccount(t, enums.SubscriptionStatusActive, h.now.Add(-time.Hour))
	primary := h.seedMethod(t, account.ID, 0, true)
	backup := h.seedMethod(t, account.ID, 1, false)

	// The primary card declines every cycle; the backup collects, so the
	// account stays healthy while the primary accrues strikes.
	h.gateway.charge = func(params square.ChargeParams) (*square.ChargeResult, error) {
		if params.SourceID == primary.ProviderInstrumentID {
			return &square.ChargeResult{Status: square.ChargeDeclined, DeclineReason: "card_declined"}, nil
		}
		return &square.ChargeResult{Status: square.ChargeSucceeded, ExternalTxID: "tx_" + uuid.NewString()}, nil
	}

	for cycle := 0; cycle < 3; cycle++ {
		result, err := h.orch.RunCycle(ctx, account.ID)
		require.NoError(t, err)
		require.Equalf(t, OutcomeSuccess, result.Outcome, "cycle %d", cycle)

		reloaded, err := h.repo.FindAccount(ctx, account.ID)
		require.NoError(t, err)
		require.NotNil(t, reloaded.NextBillingDate)
		h.now = reloaded.NextBillingDate.UTC().Add(time.Hour)
	}

	reloadedPrimary, err := h.repo.FindPaymentMethod(ctx, primary.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentMethodStatusDisabled, reloadedPrimary.Status)
	assert.Equal(t, 3, reloadedPrimary.FailureCount)
	assert.Len(t, h.outboxEvents(t, enums.EventPaymentMethodDisabled), 1)

	// The disabled instrument drops out of the order: the next cycle goes
	// straight to the backup with a single gateway call.
	calls := h.gateway.callCount()
	result, err := h.orch.RunCycle(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	require.Equal(t, calls+1, h.gateway.callCount())
	assert.Equal(t, backup.ProviderInstrumentID, h.gateway.calls[len(h.gateway.calls)-1].SourceID)
}

func TestRunCycleRejectsDanglingPlanReference(t *testing.T) {
	h := newOrchestratorHarness(t)
	ctx := context.Background()

	account := h.seedAccount(t, enums.SubscriptionStatusActive, h.now.Add(-time.Hour))
	h.seedMethod(t, account.ID, 0, true)

	// Point the account at a plan that no longer exists.
	require.NoError(t, h.db.Model(&models.Account{}).
		Where("id = ?", account.ID).
		Update("plan_id", uuid.NewString()).Error)

	_, err := h.orch.RunCycle(ctx, account.ID)
	require.Error(t, err)
	coded := pkgerrors.As(err)
	require.NotNil(t, coded)
	assert.Equal(t, pkgerrors.CodeStateConflict, coded.Code())

	// A configuration fault is not a billing failure: nothing is recorded
	// and the account state is untouched.
	assert.Zero(t, h.gateway.callCount())
	var attempts int64
	require.NoError(t, h.db.Model(&models.BillingAttempt{}).
		Where("account_id = ?", account.ID).Count(&attempts).Error)
	assert.Zero(t, attempts)

	reloaded, err := h.repo.FindAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, reloaded.SubscriptionStatus)
	assert.Zero(t, reloaded.FailedAttempts)
}

func TestRetrySuccessRestoresActive(t *testing.T) {
	h := newOrchestratorHarness(t)
	ctx := context.Background()

	cycleDate := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	account := h.seedAccount(t, enums.SubscriptionStatusActive, cycleDate)
	h.seedMethod(t, account.ID, 0, true)

	declined := true
	h.gateway.charge = func(square.ChargeParams) (*square.ChargeResult, error) {
		if declined {
			return &square.ChargeResult{Status: square.ChargeDeclined, DeclineReason: "card_declined"}, nil
		}
		return &square.ChargeResult{Status: square.ChargeSucceeded, ExternalTxID: "tx_retry"}, nil
	}

	first, err := h.orch.RunCycle(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeRetryScheduled, first.Outcome)

	declined = false
	h.now = h.now.Add(25 * time.Hour)
	second, err := h.orch.RunCycle(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, second.Outcome)

	reloaded, err := h.repo.FindAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, reloaded.SubscriptionStatus)
	// The anchor advances from the original cycle date.
	assert.Equal(t, cycleDate.AddDate(0, 1, 0), reloaded.NextBillingDate.UTC())
	assert.Zero(t, reloaded.FailedAttempts)
	assert.Nil(t, reloaded.FirstFailureAt)
	assert.Nil(t, reloaded.NextRetryAt)
}

func TestReconcileLateSuccessAfterGatewayError(t *testing.T) {
	h := newOrchestratorHarness(t)
	ctx := context.Background()

	cycleDate := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	account := h.seedAccount(t, enums.SubscriptionStatusActive, cycleDate)
	h.seedMethod(t, account.ID, 0, true)

	h.gateway.charge = func(square.ChargeParams) (*square.ChargeResult, error) {
		return nil, fmt.Errorf("timeout")
	}
	first, err := h.orch.RunCycle(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeRetryScheduled, first.Outcome)

	// The charge actually completed on Square's side; the webhook reports it.
	result, err := h.orch.ReconcileLateSuccess(ctx, account.ID, "pay_late")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)

	reloaded, err := h.repo.FindAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, reloaded.SubscriptionStatus)
	assert.Equal(t, cycleDate.AddDate(0, 1, 0), reloaded.NextBillingDate.UTC())
	assert.Zero(t, reloaded.FailedAttempts)

	attempt, err := h.repo.FindSuccessfulAttempt(ctx, account.ID, cycleDate)
	require.NoError(t, err)
	require.NotNil(t, attempt)
	require.NotNil(t, attempt.ExternalTxID)
	assert.Equal(t, "pay_late", *attempt.ExternalTxID)

	// A repeated delivery is a no-op.
	again, err := h.orch.ReconcileLateSuccess(ctx, account.ID, "pay_late")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyBilled, again.Outcome)
}

func TestReconcileLateSuccessIgnoredAfterCancellation(t *testing.T) {
	h := newOrchestratorHarness(t)
	ctx := context.Background()

	account := h.seedAccount(t, enums.SubscriptionStatusActive, h.now.Add(-time.Hour))
	h.seedMethod(t, account.ID, 0, true)

	h.gateway.charge = func(square.ChargeParams) (*square.ChargeResult, error) {
		return nil, fmt.Errorf("timeout")
	}
	for run := 0; run < 3; run++ {
		_, err := h.orch.RunCycle(ctx, account.ID)
		require.NoError(t, err)
		reloaded, err := h.repo.FindAccount(ctx, account.ID)
		require.NoError(t, err)
		if reloaded.NextRetryAt != nil {
			h.now = reloaded.NextRetryAt.UTC().Add(time.Minute)
		}
	}

	reloaded, err := h.repo.FindAccount(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusCanceled, reloaded.SubscriptionStatus)

	result, err := h.orch.ReconcileLateSuccess(ctx, account.ID, "pay_too_late")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, result.Outcome)

	// The cancellation stands; nothing was charged or reactivated.
	after, err := h.repo.FindAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusCanceled, after.SubscriptionStatus)
	var successCount int64
	require.NoError(t, h.db.Model(&models.BillingAttempt{}).
		Where("account_id = ? AND outcome = ?", account.ID, enums.AttemptOutcomeSuccess).
		Count(&successCount).Error)
	assert.Zero(t, successCount)
}

func TestProcessDueAccountsSweep(t *testing.T) {
	h := newOrchestratorHarness(t)
	ctx := context.Background()

	dueA := h.seedAccount(t, enums.SubscriptionStatusActive, h.now.Add(-time.Hour))
	h.seedMethod(t, dueA.ID, 0, true)
	dueB := h.seedAccount(t, enums.SubscriptionStatusActive, h.now.Add(-2*time.Hour))
	h.seedMethod(t, dueB.ID, 0, true)
	h.seedAccount(t, enums.SubscriptionStatusActive, h.now.AddDate(0, 0, 10))

	processed, err := h.orch.ProcessDueAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	assert.Equal(t, 2, h.gateway.callCount())

	// The sweep is idempotent: nothing is due anymore.
	processed, err = h.orch.ProcessDueAccounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)
}
