package enums

import "fmt"

// AttemptOutcome records how a single charge attempt ended.
type AttemptOutcome string

const (
	AttemptOutcomeSuccess      AttemptOutcome = "success"
	AttemptOutcomeDeclined     AttemptOutcome = "declined"
	AttemptOutcomeGatewayError AttemptOutcome = "gateway_error"
)

var validAttemptOutcomes = []AttemptOutcome{
	AttemptOutcomeSuccess,
	AttemptOutcomeDeclined,
	AttemptOutcomeGatewayError,
}

// String implements fmt.Stringer.
func (o AttemptOutcome) String() string {
	return string(o)
}

// IsValid reports whether the value is known.
func (o AttemptOutcome) IsValid() bool {
	for _, candidate := range validAttemptOutcomes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ConsumesAttempt reports whether the outcome counts against the retry budget.
// Declines and gateway errors are deliberately treated the same way here; the
// distinction matters only for operational alerting.
func (o AttemptOutcome) ConsumesAttempt() bool {
	return o == AttemptOutcomeDeclined || o == AttemptOutcomeGatewayError
}

// ParseAttemptOutcome converts raw input into an AttemptOutcome.
func ParseAttemptOutcome(value string) (AttemptOutcome, error) {
	for _, candidate := range validAttemptOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid attempt outcome %q", value)
}
