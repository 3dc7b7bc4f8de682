package enums

import "fmt"

// LedgerEventType categorizes revenue records emitted by billing.
type LedgerEventType string

const (
	LedgerEventSubscriptionRevenue LedgerEventType = "subscription_revenue"
	LedgerEventDonationRevenue     LedgerEventType = "donation_revenue"
	LedgerEventRefund              LedgerEventType = "refund"
)

var validLedgerEventTypes = []LedgerEventType{
	LedgerEventSubscriptionRevenue,
	LedgerEventDonationRevenue,
	LedgerEventRefund,
}

// String implements fmt.Stringer.
func (t LedgerEventType) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t LedgerEventType) IsValid() bool {
	for _, candidate := range validLedgerEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLedgerEventType converts raw input into a LedgerEventType.
func ParseLedgerEventType(value string) (LedgerEventType, error) {
	for _, candidate := range validLedgerEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger event type %q", value)
}
