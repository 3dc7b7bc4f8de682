package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/mateovidal/givebridge-backend/pkg/db"
	"github.com/mateovidal/givebridge-backend/pkg/db/models"
	"github.com/mateovidal/givebridge-backend/pkg/enums"
	"github.com/mateovidal/givebridge-backend/pkg/logger"
)

// SubscriptionRevenueEntry describes one collected subscription charge.
// ReferenceKey must be the billing idempotency key so replays collapse onto
// the same ledger row.
type SubscriptionRevenueEntry struct {
	AccountID    uuid.UUID
	PlanID       *string
	AmountCents  int64
	Currency     string
	ReferenceKey string
}

// Service records revenue into the ledger.
type Service interface {
	// RecordSubscriptionRevenue inserts a subscription_revenue row inside the
	// caller's transaction. A replay with an already recorded reference key is
	// a no-op, not an error.
	RecordSubscriptionRevenue(ctx context.Context, tx *gorm.DB, entry SubscriptionRevenueEntry) error
	ListAccountEvents(ctx context.Context, accountID uuid.UUID, limit int) ([]models.LedgerEvent, error)
	RevenueSince(ctx context.Context, eventType enums.LedgerEventType, since time.Time) (int64, error)
}

// ServiceParams groups dependencies for the ledger service.
type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
}

type service struct {
	repo Repository
	logg *logger.Logger
}

// NewService builds a ledger service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repo required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: params.Repo, logg: params.Logger}, nil
}

func (s *service) RecordSubscriptionRevenue(ctx context.Context, tx *gorm.DB, entry SubscriptionRevenueEntry) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	if entry.ReferenceKey == "" {
		return fmt.Errorf("reference key required")
	}
	if entry.AmountCents <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	event := &models.LedgerEvent{
		AccountID:    entry.AccountID,
		Type:         enums.LedgerEventSubscriptionRevenue,
		PlanID:       entry.PlanID,
		AmountCents:  entry.AmountCents,
		Currency:     entry.Currency,
		ReferenceKey: entry.ReferenceKey,
	}
	err := s.repo.WithTx(tx).Insert(ctx, event)
	if err == nil {
		return nil
	}
	if dbpkg.IsUniqueViolation(err, "uidx_ledger_events_reference_key") {
		s.logg.Info(s.logg.WithField(ctx, "reference_key", entry.ReferenceKey),
			"ledger entry already recorded, skipping")
		return nil
	}
	return err
}

func (s *service) ListAccountEvents(ctx context.Context, accountID uuid.UUID, limit int) ([]models.LedgerEvent, error) {
	return s.repo.ListByAccount(ctx, accountID, limit)
}

func (s *service) RevenueSince(ctx context.Context, eventType enums.LedgerEventType, since time.Time) (int64, error) {
	return s.repo.SumByTypeSince(ctx, eventType, since)
}
