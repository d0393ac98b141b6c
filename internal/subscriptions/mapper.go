package subscriptions

import (
	"regexp"
	"strings"

	"github.com/subradar/subradar-backend/pkg/enums"
	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
)

var paymentMethodRe = regexp.MustCompile(`^\*{4}\d{4}$`)

// NormalizeName is the grouping key used to detect duplicates.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ParseStatus accepts the canonical statuses plus common provider spellings.
func ParseStatus(raw string) (enums.SubscriptionStatus, error) {
	normalized := normalizeStatus(raw)
	if normalized == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "status is required")
	}
	if mapped, ok := statusAliases[normalized]; ok {
		return mapped, nil
	}
	if parsed, err := enums.ParseSubscriptionStatus(normalized); err == nil {
		return parsed, nil
	}
	return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid subscription status").
		WithDetails(map[string]any{"status": raw})
}

func normalizeStatus(raw string) string {
	normalized := strings.TrimSpace(raw)
	normalized = strings.ToUpper(normalized)
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	return normalized
}

var statusAliases = map[string]enums.SubscriptionStatus{
	"TRIALING":   enums.SubscriptionStatusTrial,
	"CANCELLED":  enums.SubscriptionStatusCanceled,
	"CANCELING":  enums.SubscriptionStatusCanceled,
	"CANCELLING": enums.SubscriptionStatusCanceled,
	"INACTIVE":   enums.SubscriptionStatusCanceled,
	"UNPAID":     enums.SubscriptionStatusPastDue,
	"EXPIRING":   enums.SubscriptionStatusActive,
	"ENDED":      enums.SubscriptionStatusExpired,
}

// ValidPaymentMethod reports whether value is a masked card fingerprint (****NNNN).
func ValidPaymentMethod(value string) bool {
	return paymentMethodRe.MatchString(value)
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	if s := strings.TrimSpace(*value); s != "" {
		return &s
	}
	return nil
}
