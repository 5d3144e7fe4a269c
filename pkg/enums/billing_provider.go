package enums

import "fmt"

// BillingProvider identifies which external system issued a billing event.
type BillingProvider string

const (
	BillingProviderStripe      BillingProvider = "stripe"
	BillingProviderMarketplace BillingProvider = "github_marketplace"
)

var validBillingProviders = []BillingProvider{
	BillingProviderStripe,
	BillingProviderMarketplace,
}

// String implements fmt.Stringer.
func (p BillingProvider) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p BillingProvider) IsValid() bool {
	for _, candidate := range validBillingProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseBillingProvider converts raw input into a BillingProvider.
func ParseBillingProvider(value string) (BillingProvider, error) {
	for _, candidate := range validBillingProviders {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing provider %q", value)
}
