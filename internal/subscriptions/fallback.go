package subscriptions

import (
	"sort"

	"github.com/mateovidal/givebridge-backend/pkg/db/models"
)

// OrderChargeableMethods filters the account's instruments down to the ones a
// charge may be routed to and puts them in the order fallback should walk
// them. Ordering is priority ascending, then the default instrument, then
// most recent success, then oldest row for a stable tiebreak. The input slice
// is not modified.
func OrderChargeableMethods(methods []models.PaymentMethod) []models.PaymentMethod {
	chargeable := make([]models.PaymentMethod, 0, len(methods))
	for _, method := range methods {
		if method.Status.IsChargeable() {
			chargeable = append(chargeable, method)
		}
	}

	sort.SliceStable(chargeable, func(i, j int) bool {
		a, b := chargeable[i], chargeable[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.IsDefault != b.IsDefault {
			return a.IsDefault
		}
		switch {
		case a.LastSuccessAt != nil && b.LastSuccessAt != nil:
			if !a.LastSuccessAt.Equal(*b.LastSuccessAt) {
				return a.LastSuccessAt.After(*b.LastSuccessAt)
			}
		case a.LastSuccessAt != nil:
			return true
		case b.LastSuccessAt != nil:
			return false
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	return chargeable
}
