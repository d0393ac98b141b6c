package enums

import "fmt"

// SubscriptionSource names the channel a subscription was first discovered on.
type SubscriptionSource string

const (
	SubscriptionSourceGmail        SubscriptionSource = "gmail"
	SubscriptionSourcePlaid        SubscriptionSource = "plaid"
	SubscriptionSourceAPIUsage     SubscriptionSource = "api_usage"
	SubscriptionSourceManualUpload SubscriptionSource = "manual_upload"
	SubscriptionSourceStripe       SubscriptionSource = "stripe"
)

var validSubscriptionSources = []SubscriptionSource{
	SubscriptionSourceGmail,
	SubscriptionSourcePlaid,
	SubscriptionSourceAPIUsage,
	SubscriptionSourceManualUpload,
	SubscriptionSourceStripe,
}

// String implements fmt.Stringer.
func (v SubscriptionSource) String() string {
	return string(v)
}

// IsValid reports whether the value is known.
func (v SubscriptionSource) IsValid() bool {
	for _, candidate := range validSubscriptionSources {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseSubscriptionSource converts raw input into a SubscriptionSource.
func ParseSubscriptionSource(value string) (SubscriptionSource, error) {
	for _, candidate := range validSubscriptionSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription source %q", value)
}
