package sync

import "example.com/devicesync/internal/domain"

var (
	connectionIDKeys   = []string{"connection_id", "connectionId", "device_connection_id"}
	userIDKeys         = []string{"user_id", "userId"}
	providerUserIDKeys = []string{"provider_user_id", "providerUserId", "owner_id", "ownerId", "athlete_id", "athleteId", "userAccessToken", "external_user_id"}
)

// Hints are the connection-matching values a payload may carry. Resolution
// priority is fixed: connection id, then user id, then provider user id.
type Hints struct {
	ConnectionID   string
	UserID         string
	ProviderUserID string
}

// ExtractHints pulls connection-matching hints out of a payload.
func ExtractHints(payload map[string]any) Hints {
	var h Hints
	if v, ok := firstPresent(payload, map[string]any{}, connectionIDKeys); ok {
		h.ConnectionID = asString(v)
	}
	if v, ok := firstPresent(payload, map[string]any{}, userIDKeys); ok {
		h.UserID = asString(v)
	}
	if v, ok := firstPresent(payload, map[string]any{}, providerUserIDKeys); ok {
		h.ProviderUserID = asString(v)
	}
	return h
}

// Matches reports whether the hints identify the given connection, honoring
// the priority order: the highest-priority hint present decides alone.
func (h Hints) Matches(conn domain.DeviceConnection) bool {
	if h.ConnectionID != "" {
		return h.ConnectionID == conn.ID
	}
	if h.UserID != "" {
		return h.UserID == conn.UserID
	}
	if h.ProviderUserID != "" {
		return h.ProviderUserID == conn.ProviderUserID
	}
	return false
}

// Empty reports whether no hint is present.
func (h Hints) Empty() bool {
	return h.ConnectionID == "" && h.UserID == "" && h.ProviderUserID == ""
}
