package accounts

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	"gorm.io/gorm"

	"github.com/mateovidal/givebridge-backend/internal/billing"
	"github.com/mateovidal/givebridge-backend/internal/subscriptions"
	"github.com/mateovidal/givebridge-backend/pkg/db/models"
	"github.com/mateovidal/givebridge-backend/pkg/enums"
	pkgerrors "github.com/mateovidal/givebridge-backend/pkg/errors"
	"github.com/mateovidal/givebridge-backend/pkg/outbox"
	"github.com/mateovidal/givebridge-backend/pkg/square"
)

// Service owns the explicit admin lifecycle operations on billing accounts.
// The recurring engine never calls in here; these are human-triggered paths.
type Service interface {
	Create(ctx context.Context, input CreateAccountInput) (*models.Account, error)
	Get(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	Cancel(ctx context.Context, accountID uuid.UUID, actor Actor) (*models.Account, error)
	Reactivate(ctx context.Context, accountID uuid.UUID, input ReactivateInput, actor Actor) (*models.Account, error)
}

// Actor identifies the admin performing a lifecycle operation.
type Actor struct {
	AdminID uuid.UUID
	Role    enums.AdminRole
}

// CreateAccountInput captures a new billing enrollment.
type CreateAccountInput struct {
	Kind   enums.AccountKind
	Name   string
	Email  string
	PlanID string
}

// ReactivateInput re-anchors a canceled account onto a plan.
type ReactivateInput struct {
	PlanID string
}

type customerCreator interface {
	CreateCustomer(ctx context.Context, params square.CustomerCreateParams) (*sq.Customer, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the account lifecycle service.
type ServiceParams struct {
	Repo              billing.Repository
	SquareClient      customerCreator
	Outbox            *outbox.Service
	TransactionRunner txRunner
	Clock             func() time.Time
}

type service struct {
	repo     billing.Repository
	square   customerCreator
	outbox   *outbox.Service
	txRunner txRunner
	now      func() time.Time
}

// NewService constructs the account lifecycle service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.SquareClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "square client required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Clock == nil {
		params.Clock = time.Now
	}
	return &service{
		repo:     params.Repo,
		square:   params.SquareClient,
		outbox:   params.Outbox,
		txRunner: params.TransactionRunner,
		now:      params.Clock,
	}, nil
}

// Create enrolls an organization, links a gateway customer and anchors the
// first billing cycle at enrollment time.
func (s *service) Create(ctx context.Context, input CreateAccountInput) (*models.Account, error) {
	name := strings.TrimSpace(input.Name)
	email := strings.TrimSpace(input.Email)
	if name == "" || email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name and email are required")
	}

	plan, err := s.resolvePlan(ctx, input.PlanID)
	if err != nil {
		return nil, err
	}

	customer, err := s.square.CreateCustomer(ctx, square.CustomerCreateParams{
		Email:       email,
		CompanyName: name,
		ReferenceID: email,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create gateway customer")
	}
	if customer == nil || customer.GetID() == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway customer missing id")
	}
	customerID := strings.TrimSpace(*customer.GetID())

	now := s.now()
	anchor := now
	firstCycle := now
	status := enums.SubscriptionStatusActive
	if plan.TrialDays > 0 {
		status = enums.SubscriptionStatusTrialing
		firstCycle = now.AddDate(0, 0, plan.TrialDays)
	}

	kind := input.Kind
	if !kind.IsValid() {
		kind = enums.AccountKindOrganization
	}

	account := &models.Account{
		Kind:               kind,
		Name:               name,
		Email:              email,
		SubscriptionStatus: status,
		PlanID:             &plan.ID,
		Tier:               plan.Tier,
		AmountCents:        plan.AmountCents(),
		Currency:           plan.CurrencyCode,
		BillingCycleAnchor: &anchor,
		NextBillingDate:    &firstCycle,
		GatewayCustomerID:  &customerID,
	}
	if err := s.repo.CreateAccount(ctx, account); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist account")
	}
	return account, nil
}

func (s *service) Get(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	account, err := s.repo.FindAccount(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	return account, nil
}

// Cancel terminates the subscription on admin request. Plan, instruments and
// history are preserved so the account can come back later.
func (s *service) Cancel(ctx context.Context, accountID uuid.UUID, actor Actor) (*models.Account, error) {
	if !actor.Role.CanMutateBilling() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "role cannot mutate billing")
	}
	account, err := s.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.SubscriptionStatus == enums.SubscriptionStatusCanceled {
		return account, nil
	}

	now := s.now()
	if err := subscriptions.ApplyCancellation(account, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "cancel account")
	}

	adminID := actor.AdminID.String()
	if err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).UpdateAccountGuarded(ctx, account); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionCanceled,
			AggregateType: enums.AggregateAccount,
			AggregateID:   account.ID,
			Actor:         &outbox.ActorRef{AdminID: &adminID, Source: outbox.SourceAdminAPI},
			Data: subscriptions.SubscriptionCanceledEvent{
				AccountID:           account.ID,
				SubscriptionEndDate: now,
				Reason:              subscriptions.CancelReasonAdminRequest,
			},
		})
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist cancellation")
	}
	return account, nil
}

// Reactivate starts a fresh cycle for a canceled account. This is a new
// enrollment in lifecycle terms: failure bookkeeping resets and the cycle
// anchor moves to now.
func (s *service) Reactivate(ctx context.Context, accountID uuid.UUID, input ReactivateInput, actor Actor) (*models.Account, error) {
	if !actor.Role.CanMutateBilling() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "role cannot mutate billing")
	}
	account, err := s.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.SubscriptionStatus != enums.SubscriptionStatusCanceled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only canceled accounts can be reactivated")
	}

	planID := input.PlanID
	if planID == "" && account.PlanID != nil {
		planID = *account.PlanID
	}
	plan, err := s.resolvePlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	account.SubscriptionStatus = enums.SubscriptionStatusActive
	account.PlanID = &plan.ID
	account.Tier = plan.Tier
	account.AmountCents = plan.AmountCents()
	account.Currency = plan.CurrencyCode
	account.BillingCycleAnchor = &now
	account.NextBillingDate = &now
	account.SubscriptionEndDate = nil
	account.FailedAttempts = 0
	account.FirstFailureAt = nil
	account.GracePeriodEndsAt = nil
	account.NextRetryAt = nil

	if err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).UpdateAccountGuarded(ctx, account)
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist reactivation")
	}
	return account, nil
}

func (s *service) resolvePlan(ctx context.Context, planID string) (*models.BillingPlan, error) {
	var plan *models.BillingPlan
	var err error
	if strings.TrimSpace(planID) != "" {
		plan, err = s.repo.FindBillingPlanByID(ctx, strings.TrimSpace(planID))
	} else {
		plan, err = s.repo.FindDefaultBillingPlan(ctx)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "billing plan not found")
	}
	if plan.Status != enums.PlanStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "billing plan is archived")
	}
	return plan, nil
}
