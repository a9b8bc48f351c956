package domain

import (
	"fmt"
	"strings"
)

// Provider identifies a wearable or health-data source.
type Provider string

const (
	ProviderWhoop       Provider = "whoop"
	ProviderOura        Provider = "oura"
	ProviderGarmin      Provider = "garmin"
	ProviderPolar       Provider = "polar"
	ProviderAppleHealth Provider = "apple_health"
	ProviderGoogleFit   Provider = "google_fit"
	ProviderTerra       Provider = "terra"
	ProviderFitbit      Provider = "fitbit"
	ProviderManual      Provider = "manual"
)

// KnownProviders lists every provider the ingestion gateway accepts.
var KnownProviders = []Provider{
	ProviderWhoop,
	ProviderOura,
	ProviderGarmin,
	ProviderPolar,
	ProviderAppleHealth,
	ProviderGoogleFit,
	ProviderTerra,
	ProviderFitbit,
	ProviderManual,
}

// ParseProvider maps a URL/path segment to a Provider.
func ParseProvider(raw string) (Provider, error) {
	candidate := Provider(strings.ToLower(strings.TrimSpace(raw)))
	for _, p := range KnownProviders {
		if p == candidate {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", raw)
}
