package domain

// Provider identifies an external data provider.
type Provider string

const (
	ProviderPrimary   Provider = "primary"
	ProviderSecondary Provider = "secondary"
)

// Providers lists all providers in priority order.
var Providers = []Provider{ProviderPrimary, ProviderSecondary}

// String returns the string representation of Provider.
func (p Provider) String() string {
	return string(p)
}

// IsValid checks if the provider is a known value.
func (p Provider) IsValid() bool {
	return p == ProviderPrimary || p == ProviderSecondary
}
