package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/devicesync/internal/domain"
)

func TestNormalizeMapsAliasedFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	event := domain.WebhookEvent{ID: "evt-1", Provider: "garmin", Payload: map[string]any{}}
	conn := domain.DeviceConnection{ID: "conn-1", UserID: "u1", Provider: "garmin"}

	activity := map[string]any{
		"summaryId":          "act-9",
		"activityType":       "running",
		"startTime":          "2026-02-28T07:30:00Z",
		"durationInSeconds":  float64(1800),
		"distanceInMeters":   "5000.4",
		"activeKilocalories": float64(412.6),
		"stepCount":          float64(6200),
		"avgHeartRate":       float64(151),
	}

	imp := Normalize(event, conn, activity, 0, now)

	require.Equal(t, "u1", imp.UserID)
	require.Equal(t, "garmin", imp.Provider)
	require.Equal(t, "act-9", imp.ExternalActivityID)
	require.Equal(t, "running", imp.ActivityType)
	require.NotNil(t, imp.StartedAt)
	require.Equal(t, time.Date(2026, 2, 28, 7, 30, 0, 0, time.UTC), *imp.StartedAt)
	require.NotNil(t, imp.DurationSec)
	require.Equal(t, 1800, *imp.DurationSec)
	require.NotNil(t, imp.DistanceM)
	require.Equal(t, 5000, *imp.DistanceM)
	require.NotNil(t, imp.Calories)
	require.Equal(t, 413, *imp.Calories)
	require.NotNil(t, imp.Steps)
	require.Equal(t, 6200, *imp.Steps)
	require.NotNil(t, imp.AvgHeartRate)
	require.Equal(t, 151, *imp.AvgHeartRate)
	require.Equal(t, now, imp.CreatedAt)
}

func TestNormalizeIdentityFallback(t *testing.T) {
	event := domain.WebhookEvent{ID: "evt-7", Provider: "fitbit"}
	conn := domain.DeviceConnection{UserID: "u1", Provider: "fitbit"}

	imp := Normalize(event, conn, map[string]any{"type": "walk"}, 2, time.Now())

	require.Equal(t, "evt-7:3", imp.ExternalActivityID)
}

func TestNormalizeActivityBeatsParentPayload(t *testing.T) {
	event := domain.WebhookEvent{
		ID:      "evt-1",
		Payload: map[string]any{"type": "from-parent", "calories": float64(99)},
	}
	conn := domain.DeviceConnection{UserID: "u1", Provider: "strava"}

	imp := Normalize(event, conn, map[string]any{"id": "a1", "type": "from-activity"}, 0, time.Now())

	require.Equal(t, "from-activity", imp.ActivityType)
	// Parent fills fields the activity lacks.
	require.NotNil(t, imp.Calories)
	require.Equal(t, 99, *imp.Calories)
}

func TestNormalizeDiscardsUnparseableValues(t *testing.T) {
	event := domain.WebhookEvent{ID: "evt-1"}
	conn := domain.DeviceConnection{UserID: "u1", Provider: "polar"}

	imp := Normalize(event, conn, map[string]any{
		"id":         "a1",
		"start_time": "sometime yesterday",
		"duration":   "not-a-number",
	}, 0, time.Now())

	require.Nil(t, imp.StartedAt)
	require.Nil(t, imp.DurationSec)
}

func TestNormalizeEpochTimestamp(t *testing.T) {
	event := domain.WebhookEvent{ID: "evt-1"}
	conn := domain.DeviceConnection{UserID: "u1", Provider: "whoop"}

	imp := Normalize(event, conn, map[string]any{
		"id":        "a1",
		"timestamp": float64(1767225600),
	}, 0, time.Now())

	require.NotNil(t, imp.StartedAt)
	require.Equal(t, time.Unix(1767225600, 0).UTC(), *imp.StartedAt)
}

func TestNormalizeNumericExternalID(t *testing.T) {
	event := domain.WebhookEvent{ID: "evt-1"}
	conn := domain.DeviceConnection{UserID: "u1", Provider: "strava"}

	imp := Normalize(event, conn, map[string]any{"id": float64(1234567890)}, 0, time.Now())

	require.Equal(t, "1234567890", imp.ExternalActivityID)
}
