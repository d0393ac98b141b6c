package enums

import "fmt"

// Currency is an ISO 4217 code stored alongside an amount; no conversion is performed.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyCAD Currency = "CAD"
)

var validCurrencys = []Currency{
	CurrencyUSD,
	CurrencyEUR,
	CurrencyGBP,
	CurrencyCAD,
}

// String implements fmt.Stringer.
func (v Currency) String() string {
	return string(v)
}

// IsValid reports whether the value is known.
func (v Currency) IsValid() bool {
	for _, candidate := range validCurrencys {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseCurrency converts raw input into a Currency.
func ParseCurrency(value string) (Currency, error) {
	for _, candidate := range validCurrencys {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid currency %q", value)
}
