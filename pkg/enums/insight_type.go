package enums

import "fmt"

// InsightType distinguishes actionable recommendations from warnings.
type InsightType string

const (
	InsightTypeRecommendation InsightType = "recommendation"
	InsightTypeWarning        InsightType = "warning"
)

var validInsightTypes = []InsightType{
	InsightTypeRecommendation,
	InsightTypeWarning,
}

// String implements fmt.Stringer.
func (v InsightType) String() string {
	return string(v)
}

// IsValid reports whether the value is known.
func (v InsightType) IsValid() bool {
	for _, candidate := range validInsightTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseInsightType converts raw input into a InsightType.
func ParseInsightType(value string) (InsightType, error) {
	for _, candidate := range validInsightTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid insight type %q", value)
}
