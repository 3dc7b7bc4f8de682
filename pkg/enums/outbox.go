package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateAccount       OutboxAggregateType = "account"
	AggregatePaymentMethod OutboxAggregateType = "payment_method"
	AggregateLedgerEvent   OutboxAggregateType = "ledger_event"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateAccount,
	AggregatePaymentMethod,
	AggregateLedgerEvent,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventChargeSucceeded       OutboxEventType = "charge_succeeded"
	EventChargeFailed          OutboxEventType = "charge_failed"
	EventSubscriptionPastDue   OutboxEventType = "subscription_past_due"
	EventSubscriptionCanceled  OutboxEventType = "subscription_canceled"
	EventSubscriptionRenewed   OutboxEventType = "subscription_renewed"
	EventPaymentMethodDisabled OutboxEventType = "payment_method_disabled"
)

var validOutboxEventTypes = []OutboxEventType{
	EventChargeSucceeded,
	EventChargeFailed,
	EventSubscriptionPastDue,
	EventSubscriptionCanceled,
	EventSubscriptionRenewed,
	EventPaymentMethodDisabled,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
