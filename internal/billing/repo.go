package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mateovidal/givebridge-backend/pkg/db/models"
	"github.com/mateovidal/givebridge-backend/pkg/enums"
	"github.com/mateovidal/givebridge-backend/pkg/pagination"
)

// ErrStaleAccount signals an optimistic lock conflict: another writer bumped
// the account's lock_version between read and write.
var ErrStaleAccount = errors.New("account was modified concurrently")

// Repository handles billing persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateAccount(ctx context.Context, account *models.Account) error
	FindAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	// UpdateAccountGuarded writes the full account row only if lock_version
	// still matches the value read; on success the in-memory version is bumped.
	UpdateAccountGuarded(ctx context.Context, account *models.Account) error
	ListDueAccounts(ctx context.Context, now time.Time, limit int) ([]models.Account, error)

	CreatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error
	FindPaymentMethod(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, accountID uuid.UUID) ([]models.PaymentMethod, error)
	UpdatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error
	ClearDefaultPaymentMethod(ctx context.Context, accountID uuid.UUID) error

	CreateBillingPlan(ctx context.Context, plan *models.BillingPlan) error
	FindBillingPlanByID(ctx context.Context, id string) (*models.BillingPlan, error)
	FindDefaultBillingPlan(ctx context.Context) (*models.BillingPlan, error)
	ListBillingPlans(ctx context.Context, query ListBillingPlansQuery) ([]models.BillingPlan, error)

	CreateBillingAttempt(ctx context.Context, attempt *models.BillingAttempt) error
	FindSuccessfulAttempt(ctx context.Context, accountID uuid.UUID, cycleDate time.Time) (*models.BillingAttempt, error)
	FindAttemptsByIdempotencyKey(ctx context.Context, idempotencyKey string) ([]models.BillingAttempt, error)
	ListBillingAttempts(ctx context.Context, query ListBillingAttemptsQuery) ([]models.BillingAttempt, *pagination.Cursor, error)
}

// ListBillingPlansQuery configures billing plan list queries.
type ListBillingPlansQuery struct {
	Status    *enums.PlanStatus
	IsDefault *bool
}

// ListBillingAttemptsQuery configures attempt history queries.
type ListBillingAttemptsQuery struct {
	AccountID uuid.UUID
	Outcome   *enums.AttemptOutcome
	Page      pagination.Params
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateAccount(ctx context.Context, account *models.Account) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) FindAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) UpdateAccountGuarded(ctx context.Context, account *models.Account) error {
	readVersion := account.LockVersion
	account.LockVersion = readVersion + 1

	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND lock_version = ?", account.ID, readVersion).
		Select("*").
		Omit("id", "created_at").
		Updates(account)
	if res.Error != nil {
		account.LockVersion = readVersion
		return res.Error
	}
	if res.RowsAffected == 0 {
		account.LockVersion = readVersion
		return ErrStaleAccount
	}
	return nil
}

func (r *repository) ListDueAccounts(ctx context.Context, now time.Time, limit int) ([]models.Account, error) {
	if limit <= 0 {
		limit = 250
	}
	firstCharge := []enums.SubscriptionStatus{
		enums.SubscriptionStatusTrialing,
		enums.SubscriptionStatusActive,
	}
	var accounts []models.Account
	err := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where(
			"(subscription_status IN (?) AND next_billing_date IS NOT NULL AND next_billing_date <= ?) OR (subscription_status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?)",
			firstCharge, now, enums.SubscriptionStatusPastDue, now,
		).
		Order("next_billing_date ASC").
		Limit(limit).
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repository) CreatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error {
	if method.ID == uuid.Nil {
		method.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(method).Error
}

func (r *repository) FindPaymentMethod(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error) {
	var method models.PaymentMethod
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&method).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &method, nil
}

func (r *repository) ListPaymentMethods(ctx context.Context, accountID uuid.UUID) ([]models.PaymentMethod, error) {
	var methods []models.PaymentMethod
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("priority ASC").
		Order("created_at ASC").
		Find(&methods).Error; err != nil {
		return nil, err
	}
	return methods, nil
}

func (r *repository) UpdatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error {
	return r.db.WithContext(ctx).Save(method).Error
}

func (r *repository) ClearDefaultPaymentMethod(ctx context.Context, accountID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentMethod{}).
		Where("account_id = ? AND is_default = ?", accountID, true).
		Update("is_default", false).Error
}

func (r *repository) CreateBillingPlan(ctx context.Context, plan *models.BillingPlan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *repository) FindBillingPlanByID(ctx context.Context, id string) (*models.BillingPlan, error) {
	var plan models.BillingPlan
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) FindDefaultBillingPlan(ctx context.Context) (*models.BillingPlan, error) {
	var plan models.BillingPlan
	err := r.db.WithContext(ctx).
		Where("is_default = ? AND status = ?", true, enums.PlanStatusActive).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) ListBillingPlans(ctx context.Context, query ListBillingPlansQuery) ([]models.BillingPlan, error) {
	q := r.db.WithContext(ctx).Model(&models.BillingPlan{})
	if query.Status != nil {
		q = q.Where("status = ?", *query.Status)
	}
	if query.IsDefault != nil {
		q = q.Where("is_default = ?", *query.IsDefault)
	}
	var plans []models.BillingPlan
	if err := q.Order("created_at ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) CreateBillingAttempt(ctx context.Context, attempt *models.BillingAttempt) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *repository) FindSuccessfulAttempt(ctx context.Context, accountID uuid.UUID, cycleDate time.Time) (*models.BillingAttempt, error) {
	var attempt models.BillingAttempt
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND cycle_date = ? AND outcome = ?", accountID, cycleDate, enums.AttemptOutcomeSuccess).
		First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

func (r *repository) FindAttemptsByIdempotencyKey(ctx context.Context, idempotencyKey string) ([]models.BillingAttempt, error) {
	var attempts []models.BillingAttempt
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", idempotencyKey).
		Order("created_at DESC").
		Find(&attempts).Error
	return attempts, err
}

func (r *repository) ListBillingAttempts(ctx context.Context, query ListBillingAttemptsQuery) ([]models.BillingAttempt, *pagination.Cursor, error) {
	q := r.db.WithContext(ctx).
		Model(&models.BillingAttempt{}).
		Where("account_id = ?", query.AccountID)
	if query.Outcome != nil {
		q = q.Where("outcome = ?", *query.Outcome)
	}

	cursor, err := pagination.ParseCursor(query.Page.Cursor)
	if err != nil {
		return nil, nil, err
	}
	if cursor != nil {
		q = q.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.BillingAttempt
	if err := q.Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(query.Page.Limit)).
		Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	page, more := pagination.TrimPage(rows, query.Page.Limit)
	if !more {
		return page, nil, nil
	}
	last := page[len(page)-1]
	return page, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
}
