package domain

// Providers the pipeline understands. Ingestion rejects anything else before
// touching the store.
const (
	ProviderGarmin = "garmin"
	ProviderFitbit = "fitbit"
	ProviderStrava = "strava"
	ProviderPolar  = "polar"
	ProviderWhoop  = "whoop"
	ProviderOura   = "oura"
)

var knownProviders = map[string]struct{}{
	ProviderGarmin: {},
	ProviderFitbit: {},
	ProviderStrava: {},
	ProviderPolar:  {},
	ProviderWhoop:  {},
	ProviderOura:   {},
}

// KnownProvider reports whether the identifier names a supported provider.
func KnownProvider(provider string) bool {
	_, ok := knownProviders[provider]
	return ok
}

// KnownProviders returns the supported provider identifiers.
func KnownProviders() []string {
	out := make([]string, 0, len(knownProviders))
	for p := range knownProviders {
		out = append(out, p)
	}
	return out
}
