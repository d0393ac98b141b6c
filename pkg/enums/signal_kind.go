package enums

import "fmt"

// SignalKind names one of the usage timestamps tracked per subscription.
type SignalKind string

const (
	SignalKindEmail  SignalKind = "email"
	SignalKindAPIUse SignalKind = "api_use"
	SignalKindLogin  SignalKind = "login"
)

var validSignalKinds = []SignalKind{
	SignalKindEmail,
	SignalKindAPIUse,
	SignalKindLogin,
}

// String implements fmt.Stringer.
func (v SignalKind) String() string {
	return string(v)
}

// IsValid reports whether the value is known.
func (v SignalKind) IsValid() bool {
	for _, candidate := range validSignalKinds {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseSignalKind converts raw input into a SignalKind.
func ParseSignalKind(value string) (SignalKind, error) {
	for _, candidate := range validSignalKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid signal kind %q", value)
}
