package sync

// Providers disagree on what to call the next-page/sync token. The canonical
// cursor stores it under "next_cursor".
var nextCursorKeys = []string{
	"next_cursor", "nextCursor", "next_page_token", "nextPageToken",
	"sync_token", "syncToken", "page_token", "pageToken", "continuation",
}

// InitialFragment derives the starting cursor for a job from a webhook
// payload: the "cursor" sub-object plus any recognized next-token field.
func InitialFragment(payload map[string]any) map[string]any {
	fragment := map[string]any{}
	mergeFragment(fragment, payload)
	if len(fragment) == 0 {
		return nil
	}
	return fragment
}

// MergeCursor shallow-merges the cursor hints of each event payload into base,
// in order. Last event wins on conflicting keys.
func MergeCursor(base map[string]any, payloads ...map[string]any) map[string]any {
	merged := map[string]any{}
	for k, v := range base {
		merged[k] = v
	}
	for _, payload := range payloads {
		mergeFragment(merged, payload)
	}
	return merged
}

func mergeFragment(dst, payload map[string]any) {
	if payload == nil {
		return
	}
	if sub, ok := payload["cursor"].(map[string]any); ok {
		for k, v := range sub {
			dst[k] = v
		}
	}
	for _, key := range nextCursorKeys {
		if v, ok := payload[key].(string); ok && v != "" {
			dst["next_cursor"] = v
			break
		}
	}
}
