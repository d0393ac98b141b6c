package enums

import "fmt"

// SubscriptionStatus is the lifecycle state of a tracked subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusTrial    SubscriptionStatus = "TRIAL"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
	SubscriptionStatusExpired  SubscriptionStatus = "EXPIRED"
)

var validSubscriptionStatuss = []SubscriptionStatus{
	SubscriptionStatusActive,
	SubscriptionStatusTrial,
	SubscriptionStatusPastDue,
	SubscriptionStatusCanceled,
	SubscriptionStatusExpired,
}

// String implements fmt.Stringer.
func (v SubscriptionStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is known.
func (v SubscriptionStatus) IsValid() bool {
	for _, candidate := range validSubscriptionStatuss {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseSubscriptionStatus converts raw input into a SubscriptionStatus.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	for _, candidate := range validSubscriptionStatuss {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription status %q", value)
}
