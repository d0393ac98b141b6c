package enums

import "fmt"

// CredentialProvider identifies which external account an OAuth credential belongs to.
type CredentialProvider string

const (
	CredentialProviderGmail     CredentialProvider = "gmail"
	CredentialProviderPlaid     CredentialProvider = "plaid"
	CredentialProviderOpenAI    CredentialProvider = "openai"
	CredentialProviderAnthropic CredentialProvider = "anthropic"
)

var validCredentialProviders = []CredentialProvider{
	CredentialProviderGmail,
	CredentialProviderPlaid,
	CredentialProviderOpenAI,
	CredentialProviderAnthropic,
}

// String implements fmt.Stringer.
func (v CredentialProvider) String() string {
	return string(v)
}

// IsValid reports whether the value is known.
func (v CredentialProvider) IsValid() bool {
	for _, candidate := range validCredentialProviders {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseCredentialProvider converts raw input into a CredentialProvider.
func ParseCredentialProvider(value string) (CredentialProvider, error) {
	for _, candidate := range validCredentialProviders {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credential provider %q", value)
}
