package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mateovidal/givebridge-backend/pkg/db/models"
	"github.com/mateovidal/givebridge-backend/pkg/enums"
)

// Repository persists immutable ledger events. Rows are append-only; there is
// no update or delete path.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Insert(ctx context.Context, event *models.LedgerEvent) error
	FindByReferenceKey(ctx context.Context, referenceKey string) (*models.LedgerEvent, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.LedgerEvent, error)
	SumByTypeSince(ctx context.Context, eventType enums.LedgerEventType, since time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, event *models.LedgerEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) FindByReferenceKey(ctx context.Context, referenceKey string) (*models.LedgerEvent, error) {
	var event models.LedgerEvent
	err := r.db.WithContext(ctx).
		Where("reference_key = ?", referenceKey).
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.LedgerEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []models.LedgerEvent
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *repository) SumByTypeSince(ctx context.Context, eventType enums.LedgerEventType, since time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEvent{}).
		Where("type = ? AND created_at >= ?", eventType, since).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&total).Error
	return total, err
}
