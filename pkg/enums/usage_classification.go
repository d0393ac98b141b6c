package enums

import "fmt"

// UsageClassification buckets a usage score.
type UsageClassification string

const (
	UsageClassificationActive UsageClassification = "ACTIVE"
	UsageClassificationAtRisk UsageClassification = "AT_RISK"
	UsageClassificationUnused UsageClassification = "UNUSED"
)

var validUsageClassifications = []UsageClassification{
	UsageClassificationActive,
	UsageClassificationAtRisk,
	UsageClassificationUnused,
}

// String implements fmt.Stringer.
func (v UsageClassification) String() string {
	return string(v)
}

// IsValid reports whether the value is known.
func (v UsageClassification) IsValid() bool {
	for _, candidate := range validUsageClassifications {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseUsageClassification converts raw input into a UsageClassification.
func ParseUsageClassification(value string) (UsageClassification, error) {
	for _, candidate := range validUsageClassifications {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid usage classification %q", value)
}
