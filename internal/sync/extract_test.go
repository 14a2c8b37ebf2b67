package sync

import "testing"

func TestExtractActivitiesFromArrayField(t *testing.T) {
	payload := map[string]any{
		"activities": []any{
			map[string]any{"id": "a1"},
			map[string]any{"id": "a2"},
			"not-an-object",
		},
	}

	got := ExtractActivities(payload)
	if len(got) != 2 {
		t.Fatalf("expected 2 activities, got %d", len(got))
	}
	if got[0]["id"] != "a1" || got[1]["id"] != "a2" {
		t.Fatalf("unexpected activities: %v", got)
	}
}

func TestExtractActivitiesFromNestedObject(t *testing.T) {
	payload := map[string]any{
		"workout": map[string]any{"workout_id": "w1", "distance": float64(100)},
	}

	got := ExtractActivities(payload)
	if len(got) != 1 {
		t.Fatalf("expected 1 activity, got %d", len(got))
	}
	if got[0]["workout_id"] != "w1" {
		t.Fatalf("unexpected activity: %v", got[0])
	}
}

func TestExtractActivitiesWholePayloadWithID(t *testing.T) {
	payload := map[string]any{"summaryId": "s1", "steps": float64(5000)}

	got := ExtractActivities(payload)
	if len(got) != 1 {
		t.Fatalf("expected 1 activity, got %d", len(got))
	}
	if got[0]["summaryId"] != "s1" {
		t.Fatalf("unexpected activity: %v", got[0])
	}
}

func TestExtractActivitiesNone(t *testing.T) {
	if got := ExtractActivities(nil); got != nil {
		t.Fatalf("expected nil for nil payload, got %v", got)
	}
	if got := ExtractActivities(map[string]any{"ping": true}); len(got) != 0 {
		t.Fatalf("expected no activities, got %v", got)
	}
}

func TestExtractActivitiesArrayBeatsObject(t *testing.T) {
	payload := map[string]any{
		"sessions": []any{map[string]any{"id": "from-array"}},
		"activity": map[string]any{"id": "from-object"},
	}

	got := ExtractActivities(payload)
	if len(got) != 1 || got[0]["id"] != "from-array" {
		t.Fatalf("array field should win, got %v", got)
	}
}
