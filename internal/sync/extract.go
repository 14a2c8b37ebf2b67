// Package sync turns claimed jobs and their webhook events into normalized
// activity imports and merged cursors.
package sync

// Provider payloads are inconsistently shaped. Extraction tries, in order: an
// array field of activities, a single nested activity object, and finally the
// payload itself when it carries a recognizable activity id.

var activityArrayKeys = []string{"activities", "activity_list", "workouts", "sessions", "items"}

var activityObjectKeys = []string{"activity", "workout", "session", "exercise"}

var activityIDKeys = []string{
	"id", "activity_id", "activityId", "external_id", "externalId",
	"workout_id", "workoutId", "uuid", "summaryId", "logId",
}

// ExtractActivities pulls zero or more candidate activity objects out of a
// webhook payload.
func ExtractActivities(payload map[string]any) []map[string]any {
	if payload == nil {
		return nil
	}

	for _, key := range activityArrayKeys {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		list, ok := raw.([]any)
		if !ok {
			continue
		}
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if obj, ok := item.(map[string]any); ok {
				out = append(out, obj)
			}
		}
		return out
	}

	for _, key := range activityObjectKeys {
		if obj, ok := payload[key].(map[string]any); ok {
			return []map[string]any{obj}
		}
	}

	// The payload itself may be a single activity.
	for _, key := range activityIDKeys {
		if _, ok := payload[key]; ok {
			return []map[string]any{payload}
		}
	}

	return nil
}

// firstPresent resolves a value through the ordered alias list, checking the
// activity object first and falling back to the parent event payload.
func firstPresent(activity, parent map[string]any, aliases []string) (any, bool) {
	for _, key := range aliases {
		if v, ok := activity[key]; ok && v != nil {
			return v, true
		}
	}
	for _, key := range aliases {
		if v, ok := parent[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}
