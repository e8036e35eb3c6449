package enums

import "fmt"

// Provider identifies a payment gateway integration.
type Provider string

const (
	ProviderStripe     Provider = "stripe"
	ProviderPayPal     Provider = "paypal"
	ProviderSquare     Provider = "square"
	ProviderNuvei      Provider = "nuvei"
	ProviderLytex      Provider = "lytex"
	ProviderTransfeera Provider = "transfeera"
)

var validProviders = []Provider{
	ProviderStripe,
	ProviderPayPal,
	ProviderSquare,
	ProviderNuvei,
	ProviderLytex,
	ProviderTransfeera,
}

// String implements fmt.Stringer.
func (p Provider) String() string {
	return string(p)
}

// IsValid reports whether the provider is recognized.
func (p Provider) IsValid() bool {
	for _, candidate := range validProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProvider converts a raw string into a Provider.
func ParseProvider(value string) (Provider, error) {
	for _, candidate := range validProviders {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid provider %q", value)
}
