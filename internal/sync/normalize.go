package sync

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/devicesync/internal/domain"
)

// Alias tables covering the naming conventions seen across providers. First
// present wins; unparseable values are discarded, never errors.
var (
	activityTypeKeys = []string{"type", "activity_type", "activityType", "sport", "sport_type", "sportType", "activityName"}
	startedAtKeys    = []string{"start_time", "startTime", "started_at", "startedAt", "start_date", "startDate", "startTimeInSeconds", "timestamp"}
	durationKeys     = []string{"duration", "duration_sec", "duration_seconds", "durationInSeconds", "elapsed_time", "elapsedTime", "moving_time", "totalTimeSeconds"}
	distanceKeys     = []string{"distance_m", "distance", "distanceInMeters", "distance_meters", "distanceMeters", "totalDistanceMeters"}
	caloriesKeys     = []string{"calories", "kcal", "calories_burned", "caloriesBurned", "active_calories", "activeKilocalories"}
	stepsKeys        = []string{"steps", "step_count", "stepCount", "total_steps", "totalSteps"}
	heartRateKeys    = []string{"avg_heart_rate", "avgHeartRate", "average_heartrate", "averageHeartRateInBeatsPerMinute", "heart_rate_avg", "heartRateAvg"}
)

// Normalize builds the canonical import record for one candidate activity.
// index is the zero-based position of the activity within the event, used for
// the identity fallback when the provider supplies no id.
func Normalize(event domain.WebhookEvent, conn domain.DeviceConnection, activity map[string]any, index int, now time.Time) domain.ActivityImport {
	parent := event.Payload

	externalID := ""
	if v, ok := firstPresent(activity, map[string]any{}, activityIDKeys); ok {
		externalID = asString(v)
	}
	if externalID == "" {
		// Stable identity even for payloads lacking native ids.
		externalID = fmt.Sprintf("%s:%d", event.ID, index+1)
	}

	imp := domain.ActivityImport{
		ID:                 uuid.NewString(),
		UserID:             conn.UserID,
		Provider:           conn.Provider,
		ExternalActivityID: externalID,
		Raw:                activity,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if v, ok := firstPresent(activity, parent, activityTypeKeys); ok {
		imp.ActivityType = asString(v)
	}
	if v, ok := firstPresent(activity, parent, startedAtKeys); ok {
		if ts, ok := asTime(v); ok {
			imp.StartedAt = &ts
		}
	}
	if v, ok := firstPresent(activity, parent, durationKeys); ok {
		if n, ok := asInt(v); ok {
			imp.DurationSec = &n
		}
	}
	if v, ok := firstPresent(activity, parent, distanceKeys); ok {
		if n, ok := asInt(v); ok {
			imp.DistanceM = &n
		}
	}
	if v, ok := firstPresent(activity, parent, caloriesKeys); ok {
		if n, ok := asInt(v); ok {
			imp.Calories = &n
		}
	}
	if v, ok := firstPresent(activity, parent, stepsKeys); ok {
		if n, ok := asInt(v); ok {
			imp.Steps = &n
		}
	}
	if v, ok := firstPresent(activity, parent, heartRateKeys); ok {
		if n, ok := asInt(v); ok {
			imp.AvgHeartRate = &n
		}
	}

	return imp
}

func asString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		if val == math.Trunc(val) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

// asInt coerces numbers and numeric strings, rounding to the nearest integer.
func asInt(v any) (int, bool) {
	switch val := v.(type) {
	case float64:
		return int(math.Round(val)), true
	case int:
		return val, true
	case int64:
		return int(val), true
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return int(math.Round(f)), true
		}
		return 0, false
	default:
		return 0, false
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// asTime parses ISO-8601-compatible strings and unix-epoch numbers. Anything
// unparseable is discarded.
func asTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case string:
		trimmed := strings.TrimSpace(val)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, trimmed); err == nil {
				return ts.UTC(), true
			}
		}
		return time.Time{}, false
	case float64:
		if val <= 0 {
			return time.Time{}, false
		}
		return time.Unix(int64(val), 0).UTC(), true
	case int64:
		if val <= 0 {
			return time.Time{}, false
		}
		return time.Unix(val, 0).UTC(), true
	default:
		return time.Time{}, false
	}
}
