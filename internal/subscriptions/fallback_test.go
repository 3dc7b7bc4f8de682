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

func method(priority int, isDefault bool, status enums.PaymentMethodStatus, lastSuccess *time.Time, created time.Time) models.PaymentMethod {
	return models.PaymentMethod{
		ID:                   uuid.New(),
		AccountID:            uuid.New(),
		Provider:             enums.PaymentProviderSquare,
		ProviderInstrumentID: uuid.NewString(),
		Priority:             priority,
		IsDefault:            isDefault,
		Status:               status,
		LastSuccessAt:        lastSuccess,
		CreatedAt:            created,
	}
}

func TestOrderChargeableMethodsFiltersAndSorts(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := base.AddDate(0, 1, 0)
	older := base.AddDate(0, 0, 10)

	expired := method(0, false, enums.PaymentMethodStatusExpired, nil, base)
	disabled := method(0, true, enums.PaymentMethodStatusDisabled, &recent, base)
	lowPriority := method(2, false, enums.PaymentMethodStatusActive, &recent, base)
	defaultMethod := method(1, true, enums.PaymentMethodStatusActive, nil, base)
	recentSuccess := method(1, false, enums.PaymentMethodStatusActive, &recent, base)
	olderSuccess := method(1, false, enums.PaymentMethodStatusActive, &older, base)

	ordered := OrderChargeableMethods([]models.PaymentMethod{
		expired, disabled, lowPriority, olderSuccess, recentSuccess, defaultMethod,
	})

	require.Len(t, ordered, 4)
	assert.Equal(t, defaultMethod.ID, ordered[0].ID)
	assert.Equal(t, recentSuccess.ID, ordered[1].ID)
	assert.Equal(t, olderSuccess.ID, ordered[2].ID)
	assert.Equal(t, lowPriority.ID, ordered[3].ID)
}

func TestOrderChargeableMethodsTiebreakByCreation(t *testing.T) {
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.AddDate(0, 0, 5)

	a := method(0, false, enums.PaymentMethodStatusActive, nil, late)
	b := method(0, false, enums.PaymentMethodStatusActive, nil, early)

	ordered := OrderChargeableMethods([]models.PaymentMethod{a, b})
	require.Len(t, ordered, 2)
	assert.Equal(t, b.ID, ordered[0].ID)
}

func TestOrderChargeableMethodsEmpty(t *testing.T) {
	assert.Empty(t, OrderChargeableMethods(nil))
	assert.Empty(t, OrderChargeableMethods([]models.PaymentMethod{
		method(0, true, enums.PaymentMethodStatusFailed, nil, time.Now()),
	}))
}
