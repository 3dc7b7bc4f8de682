package paymentmethods

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	"gorm.io/gorm"

	"github.com/mateovidal/givebridge-backend/internal/billing"
	"github.com/mateovidal/givebridge-backend/pkg/db/models"
	"github.com/mateovidal/givebridge-backend/pkg/enums"
	pkgerrors "github.com/mateovidal/givebridge-backend/pkg/errors"
	"github.com/mateovidal/givebridge-backend/pkg/square"
)

// Service orchestrates card-on-file persistence for donor accounts.
type Service interface {
	StoreCard(ctx context.Context, accountID uuid.UUID, input StoreCardInput) (*models.PaymentMethod, error)
	SetPrimary(ctx context.Context, accountID, methodID uuid.UUID) (*models.PaymentMethod, error)
	ReEnable(ctx context.Context, accountID, methodID uuid.UUID) (*models.PaymentMethod, error)
	List(ctx context.Context, accountID uuid.UUID) ([]models.PaymentMethod, error)
}

// StoreCardInput captures the payload required to vault a card.
type StoreCardInput struct {
	SourceID          string
	CardholderName    string
	VerificationToken string
	IsDefault         bool
	Priority          int
	IdempotencyKey    string
}

type cardCreator interface {
	CreateCard(ctx context.Context, params square.CardCreateParams) (*sq.Card, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the payment method service.
type ServiceParams struct {
	BillingRepo       billing.Repository
	SquareClient      cardCreator
	TransactionRunner txRunner
}

type service struct {
	repo     billing.Repository
	square   cardCreator
	txRunner txRunner
}

// NewService constructs a payment method service.
func NewService(params ServiceParams) (Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.SquareClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "square client required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	return &service{
		repo:     params.BillingRepo,
		square:   params.SquareClient,
		txRunner: params.TransactionRunner,
	}, nil
}

// StoreCard vaults a card with the gateway and persists the instrument. The
// first instrument on an account always becomes the default.
func (s *service) StoreCard(ctx context.Context, accountID uuid.UUID, input StoreCardInput) (*models.PaymentMethod, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	sourceID := strings.TrimSpace(input.SourceID)
	if sourceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "source_id is required")
	}
	idempotencyKey := strings.TrimSpace(input.IdempotencyKey)
	if idempotencyKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}

	account, err := s.repo.FindAccount(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	if account.GatewayCustomerID == nil || strings.TrimSpace(*account.GatewayCustomerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "account is not linked to a gateway customer")
	}

	params := square.CardCreateParams{
		CustomerID:     strings.TrimSpace(*account.GatewayCustomerID),
		SourceID:       sourceID,
		ReferenceID:    accountID.String(),
		IdempotencyKey: idempotencyKey,
	}
	if cardholder := strings.TrimSpace(input.CardholderName); cardholder != "" {
		params.CardholderName = cardholder
	}
	if token := strings.TrimSpace(input.VerificationToken); token != "" {
		params.VerificationToken = token
	}

	card, err := s.square.CreateCard(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create square card")
	}
	if card == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square card response is nil")
	}
	cardID := card.GetID()
	if cardID == nil || strings.TrimSpace(*cardID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square card missing id")
	}

	existing, err := s.repo.ListPaymentMethods(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payment methods")
	}

	hasDefault := false
	for _, method := range existing {
		if method.IsDefault {
			hasDefault = true
			break
		}
	}
	shouldDefault := len(existing) == 0 || input.IsDefault || !hasDefault

	method, err := buildPaymentMethod(card, accountID, input.Priority, shouldDefault)
	if err != nil {
		return nil, err
	}

	if err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if shouldDefault && len(existing) > 0 {
			if err := txRepo.ClearDefaultPaymentMethod(ctx, accountID); err != nil {
				return err
			}
		}
		if err := txRepo.CreatePaymentMethod(ctx, method); err != nil {
			return err
		}
		if shouldDefault {
			account.PrimaryPaymentMethodID = &method.ID
			return txRepo.UpdateAccountGuarded(ctx, account)
		}
		return nil
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist payment method")
	}

	return method, nil
}

// SetPrimary promotes one instrument to default; the previous default is demoted
// in the same transaction.
func (s *service) SetPrimary(ctx context.Context, accountID, methodID uuid.UUID) (*models.PaymentMethod, error) {
	method, err := s.loadAccountMethod(ctx, accountID, methodID)
	if err != nil {
		return nil, err
	}
	if !method.Status.IsChargeable() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment method is not chargeable")
	}

	account, err := s.repo.FindAccount(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}

	if err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if err := txRepo.ClearDefaultPaymentMethod(ctx, accountID); err != nil {
			return err
		}
		method.IsDefault = true
		if err := txRepo.UpdatePaymentMethod(ctx, method); err != nil {
			return err
		}
		account.PrimaryPaymentMethodID = &method.ID
		return txRepo.UpdateAccountGuarded(ctx, account)
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "promote payment method")
	}
	return method, nil
}

// ReEnable clears the failure streak on a soft-disabled instrument, typically
// after the donor updated the card with their bank.
func (s *service) ReEnable(ctx context.Context, accountID, methodID uuid.UUID) (*models.PaymentMethod, error) {
	method, err := s.loadAccountMethod(ctx, accountID, methodID)
	if err != nil {
		return nil, err
	}
	if method.Status != enums.PaymentMethodStatusDisabled && method.Status != enums.PaymentMethodStatusFailed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment method is not disabled")
	}

	method.Status = enums.PaymentMethodStatusActive
	method.FailureCount = 0
	if err := s.repo.UpdatePaymentMethod(ctx, method); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "re-enable payment method")
	}
	return method, nil
}

func (s *service) List(ctx context.Context, accountID uuid.UUID) ([]models.PaymentMethod, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	return s.repo.ListPaymentMethods(ctx, accountID)
}

func (s *service) loadAccountMethod(ctx context.Context, accountID, methodID uuid.UUID) (*models.PaymentMethod, error) {
	if accountID == uuid.Nil || methodID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id and method id are required")
	}
	method, err := s.repo.FindPaymentMethod(ctx, methodID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment method")
	}
	if method == nil || method.AccountID != accountID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment method not found")
	}
	return method, nil
}

func buildPaymentMethod(card *sq.Card, accountID uuid.UUID, priority int, isDefault bool) (*models.PaymentMethod, error) {
	metadata, err := marshalCardMetadata(card)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal card metadata")
	}

	method := &models.PaymentMethod{
		AccountID:            accountID,
		Provider:             enums.PaymentProviderSquare,
		ProviderInstrumentID: strings.TrimSpace(*card.GetID()),
		Priority:             priority,
		IsDefault:            isDefault,
		Status:               enums.PaymentMethodStatusActive,
		CardBrand:            cardBrandString(card),
		CardLast4:            card.GetLast4(),
		CardExpMonth:         intPointer(card.GetExpMonth()),
		CardExpYear:          intPointer(card.GetExpYear()),
		Metadata:             metadata,
	}
	return method, nil
}

func marshalCardMetadata(card *sq.Card) (json.RawMessage, error) {
	meta := map[string]string{}
	if id := card.GetID(); id != nil && strings.TrimSpace(*id) != "" {
		meta["square_card_id"] = strings.TrimSpace(*id)
	}
	if customer := card.GetCustomerID(); customer != nil && strings.TrimSpace(*customer) != "" {
		meta["square_customer_id"] = strings.TrimSpace(*customer)
	}
	if name := card.GetCardholderName(); name != nil && strings.TrimSpace(*name) != "" {
		meta["cardholder_name"] = strings.TrimSpace(*name)
	}
	if len(meta) == 0 {
		return json.RawMessage("{}"), nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func cardBrandString(card *sq.Card) *string {
	if card == nil {
		return nil
	}
	if brand := card.GetCardBrand(); brand != nil && strings.TrimSpace(string(*brand)) != "" {
		value := string(*brand)
		return &value
	}
	return nil
}

func intPointer(value *int64) *int {
	if value == nil {
		return nil
	}
	v := int(*value)
	return &v
}
