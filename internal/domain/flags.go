package domain

// FlagProvider is the feature-flag capability consumed by the pipeline.
// Injected so tests can substitute a fixed map.
type FlagProvider interface {
	Enabled(key string) bool
}

// StaticFlags is a FlagProvider backed by a fixed map. Keys absent from the
// map are disabled.
type StaticFlags map[string]bool

// Enabled implements FlagProvider.
func (f StaticFlags) Enabled(key string) bool { return f[key] }

// ProviderFlagKey returns the kill-switch flag key for a provider.
func ProviderFlagKey(provider string) string { return "provider." + provider }
