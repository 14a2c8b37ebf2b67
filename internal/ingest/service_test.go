package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/persistence/memory"
)

var allRollout = map[string]bool{
	"garmin": true, "fitbit": true, "strava": true,
	"polar": true, "whoop": true, "oura": true,
}

func allFlags() domain.StaticFlags {
	return domain.StaticFlags{
		"provider.garmin": true, "provider.fitbit": true, "provider.strava": true,
		"provider.polar": true, "provider.whoop": true, "provider.oura": true,
	}
}

func activeConnection(id, userID, provider string) domain.DeviceConnection {
	return domain.DeviceConnection{
		ID:       id,
		UserID:   userID,
		Provider: provider,
		Status:   domain.ConnectionActive,
	}
}

func TestIngestQueuesJobForActiveConnection(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.AddConnection(activeConnection("conn-1", "u1", "garmin"))

	svc := NewService(store, allFlags(), allRollout)

	result, err := svc.Ingest(ctx, Request{
		Provider:  "garmin",
		EventType: "activity.created",
		Payload:   map[string]any{"activity": map[string]any{"id": "abc", "distance_m": float64(5000)}},
		UserID:    "u1",
	})
	require.NoError(t, err)
	require.True(t, result.Accepted)
	require.False(t, result.Duplicate)
	require.True(t, result.ProviderEnabled)
	require.Equal(t, 1, result.QueuedJobs)
	require.NotEmpty(t, result.WebhookEventID)

	event, err := store.GetWebhookEvent(ctx, result.WebhookEventID)
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Equal(t, domain.EventPending, event.Status)
}

func TestIngestDuplicateBeforeDispatch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.AddConnection(activeConnection("conn-1", "u1", "garmin"))

	svc := NewService(store, allFlags(), allRollout)

	req := Request{
		Provider:  "garmin",
		EventType: "activity.created",
		Payload:   map[string]any{"activity": map[string]any{"id": "abc"}},
		UserID:    "u1",
	}

	first, err := svc.Ingest(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 1, first.QueuedJobs)

	second, err := svc.Ingest(ctx, req)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.WebhookEventID, second.WebhookEventID)
	require.Equal(t, 0, second.QueuedJobs)
}

func TestIngestHashFallbackDedupes(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.AddConnection(activeConnection("conn-1", "u1", "garmin"))

	svc := NewService(store, allFlags(), allRollout)

	payload := map[string]any{"activity": map[string]any{"id": "abc", "steps": float64(900)}}

	first, err := svc.Ingest(ctx, Request{
		Provider:        "garmin",
		ProviderEventID: "evt-1",
		EventType:       "activity.created",
		Payload:         payload,
		UserID:          "u1",
	})
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	// Same payload resubmitted under a fresh event id: only the hash catches it.
	second, err := svc.Ingest(ctx, Request{
		Provider:        "garmin",
		ProviderEventID: "evt-2",
		EventType:       "activity.created",
		Payload:         payload,
		UserID:          "u1",
	})
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.WebhookEventID, second.WebhookEventID)
}

func TestIngestRejectsUnknownProvider(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store, allFlags(), allRollout)

	_, err := svc.Ingest(context.Background(), Request{Provider: "pebble", EventType: "activity.created"})

	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestIngestRejectsMissingEventType(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store, allFlags(), allRollout)

	_, err := svc.Ingest(context.Background(), Request{Provider: "garmin"})

	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestIngestDisabledProviderRecordsIgnoredEvent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.AddConnection(activeConnection("conn-1", "u1", "garmin"))

	flags := allFlags()
	flags["provider.garmin"] = false
	svc := NewService(store, flags, allRollout)

	result, err := svc.Ingest(ctx, Request{
		Provider:  "garmin",
		EventType: "activity.created",
		UserID:    "u1",
	})
	require.NoError(t, err)
	require.True(t, result.Accepted)
	require.False(t, result.ProviderEnabled)
	require.Equal(t, 0, result.QueuedJobs)

	event, err := store.GetWebhookEvent(ctx, result.WebhookEventID)
	require.NoError(t, err)
	require.Equal(t, domain.EventIgnored, event.Status)
}

func TestIngestRolloutGateIgnoresEvent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.AddConnection(activeConnection("conn-1", "u1", "whoop"))

	rollout := map[string]bool{"garmin": true} // whoop enabled but not activated
	svc := NewService(store, allFlags(), rollout)

	result, err := svc.Ingest(ctx, Request{
		Provider:  "whoop",
		EventType: "activity.created",
		UserID:    "u1",
	})
	require.NoError(t, err)
	require.True(t, result.ProviderEnabled)
	require.Equal(t, 0, result.QueuedJobs)

	event, err := store.GetWebhookEvent(ctx, result.WebhookEventID)
	require.NoError(t, err)
	require.Equal(t, domain.EventIgnored, event.Status)
	require.Equal(t, "provider not in rollout", *event.ErrorMessage)
}

func TestIngestNoConnectionMatched(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	svc := NewService(store, allFlags(), allRollout)

	result, err := svc.Ingest(ctx, Request{
		Provider:  "garmin",
		EventType: "activity.created",
		UserID:    "nobody",
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.QueuedJobs)

	event, err := store.GetWebhookEvent(ctx, result.WebhookEventID)
	require.NoError(t, err)
	require.Equal(t, domain.EventIgnored, event.Status)
	require.Equal(t, "no active connection matched", *event.ErrorMessage)
}

func TestIngestReactivatesIgnoredEventOnReingest(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	svc := NewService(store, allFlags(), allRollout)

	req := Request{
		Provider:  "garmin",
		EventType: "activity.created",
		Payload:   map[string]any{"activity": map[string]any{"id": "abc"}},
		UserID:    "u1",
	}

	// No connection yet: event lands ignored.
	first, err := svc.Ingest(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 0, first.QueuedJobs)

	store.AddConnection(activeConnection("conn-1", "u1", "garmin"))

	second, err := svc.Ingest(ctx, req)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, 1, second.QueuedJobs)

	event, err := store.GetWebhookEvent(ctx, second.WebhookEventID)
	require.NoError(t, err)
	require.Equal(t, domain.EventPending, event.Status)
	require.Nil(t, event.ErrorMessage)
}

func TestIngestConnectionHintPriority(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.AddConnection(activeConnection("conn-explicit", "u1", "garmin"))
	store.AddConnection(activeConnection("conn-user", "u2", "garmin"))

	svc := NewService(store, allFlags(), allRollout)

	// Explicit connection id beats the user hint.
	result, err := svc.Ingest(ctx, Request{
		Provider:     "garmin",
		EventType:    "activity.created",
		Payload:      map[string]any{"activity": map[string]any{"id": "abc"}},
		ConnectionID: "conn-explicit",
		UserID:       "u2",
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.QueuedJobs)

	job := findJobForConnection(t, store, "conn-explicit", result.WebhookEventID)
	require.Equal(t, "u1", job.UserID)
}

func findJobForConnection(t *testing.T, store *memory.Store, connectionID, eventID string) domain.SyncJob {
	t.Helper()
	due, err := store.ListDueJobs(context.Background(), time.Now().Add(time.Hour), 100, "")
	require.NoError(t, err)
	for _, job := range due {
		if job.ConnectionID == connectionID && job.SourceWebhookEventID != nil && *job.SourceWebhookEventID == eventID {
			return job
		}
	}
	t.Fatalf("no job for connection %s", connectionID)
	return domain.SyncJob{}
}

func TestPayloadHashStableAcrossKeyOrder(t *testing.T) {
	a := map[string]any{"b": float64(2), "a": float64(1), "nested": map[string]any{"y": "z", "x": "w"}}
	b := map[string]any{"nested": map[string]any{"x": "w", "y": "z"}, "a": float64(1), "b": float64(2)}

	require.Equal(t, PayloadHash(a), PayloadHash(b))
	require.NotEqual(t, PayloadHash(a), PayloadHash(map[string]any{"a": float64(1)}))
}
