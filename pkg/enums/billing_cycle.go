package enums

import "fmt"

// BillingCycle is the cadence a subscription charges on.
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
	BillingCycleWeekly  BillingCycle = "weekly"
	BillingCycleDaily   BillingCycle = "daily"
)

var validBillingCycles = []BillingCycle{
	BillingCycleMonthly,
	BillingCycleYearly,
	BillingCycleWeekly,
	BillingCycleDaily,
}

// String implements fmt.Stringer.
func (v BillingCycle) String() string {
	return string(v)
}

// IsValid reports whether the value is known.
func (v BillingCycle) IsValid() bool {
	for _, candidate := range validBillingCycles {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseBillingCycle converts raw input into a BillingCycle.
func ParseBillingCycle(value string) (BillingCycle, error) {
	for _, candidate := range validBillingCycles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing cycle %q", value)
}
