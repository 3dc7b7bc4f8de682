package enums

import "fmt"

// PaymentMethodStatus describes whether a stored instrument can be charged.
type PaymentMethodStatus string

const (
	PaymentMethodStatusActive   PaymentMethodStatus = "active"
	PaymentMethodStatusExpired  PaymentMethodStatus = "expired"
	PaymentMethodStatusFailed   PaymentMethodStatus = "failed"
	PaymentMethodStatusDisabled PaymentMethodStatus = "disabled"
)

var validPaymentMethodStatuses = []PaymentMethodStatus{
	PaymentMethodStatusActive,
	PaymentMethodStatusExpired,
	PaymentMethodStatusFailed,
	PaymentMethodStatusDisabled,
}

// String implements fmt.Stringer.
func (s PaymentMethodStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s PaymentMethodStatus) IsValid() bool {
	for _, candidate := range validPaymentMethodStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsChargeable reports whether the resolver may offer the instrument for a charge.
func (s PaymentMethodStatus) IsChargeable() bool {
	return s == PaymentMethodStatusActive
}

// ParsePaymentMethodStatus converts raw input into a PaymentMethodStatus.
func ParsePaymentMethodStatus(value string) (PaymentMethodStatus, error) {
	for _, candidate := range validPaymentMethodStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method status %q", value)
}
