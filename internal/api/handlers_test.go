package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"example.com/devicesync/internal/dispatch"
	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/ingest"
	"example.com/devicesync/internal/outbox"
	"example.com/devicesync/internal/persistence/memory"
	syncpkg "example.com/devicesync/internal/sync"
)

func newTestServer(t *testing.T, store *memory.Store) *httptest.Server {
	t.Helper()

	flags := domain.StaticFlags{"provider.garmin": true, "provider.fitbit": true}
	rollout := map[string]bool{"garmin": true, "fitbit": true}

	emitter := outbox.NewEmitter(store)
	ingestor := ingest.NewService(store, flags, rollout)
	processor := syncpkg.NewProcessor(store, flags, rollout, emitter)
	dispatcher := dispatch.NewDispatcher(store, processor, emitter)

	mux := http.NewServeMux()
	NewHandler(ingestor, dispatcher).RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestIngestEndpointRejectsNonPost(t *testing.T) {
	server := newTestServer(t, memory.NewStore())

	resp, err := http.Get(server.URL + "/v1/webhooks/ingest")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestIngestEndpointRejectsBadBody(t *testing.T) {
	server := newTestServer(t, memory.NewStore())

	resp, _ := postJSON(t, server.URL+"/v1/webhooks/ingest", "{not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestIngestEndpointRejectsUnknownProvider(t *testing.T) {
	server := newTestServer(t, memory.NewStore())

	resp, body := postJSON(t, server.URL+"/v1/webhooks/ingest",
		`{"provider":"pebble","event_type":"activity.created"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body["accepted"] != false {
		t.Fatalf("expected accepted=false, got %v", body)
	}
}

func TestIngestThenDispatchEndToEnd(t *testing.T) {
	store := memory.NewStore()
	store.AddConnection(domain.DeviceConnection{
		ID: "conn-1", UserID: "u1", Provider: "garmin", Status: domain.ConnectionActive,
	})
	server := newTestServer(t, store)

	resp, body := postJSON(t, server.URL+"/v1/webhooks/ingest", `{
		"provider": "garmin",
		"event_type": "activity.created",
		"user_id": "u1",
		"payload": {"activity": {"id": "abc", "distance_m": 5000}}
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ingest: expected 200, got %d (%v)", resp.StatusCode, body)
	}
	if body["queued_jobs"] != float64(1) {
		t.Fatalf("expected 1 queued job, got %v", body["queued_jobs"])
	}

	resp, body = postJSON(t, server.URL+"/v1/sync/dispatch", `{"limit": 10}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dispatch: expected 200, got %d (%v)", resp.StatusCode, body)
	}
	if body["processed_count"] != float64(1) {
		t.Fatalf("expected 1 processed job, got %v", body)
	}

	imports := store.Imports()
	if len(imports) != 1 {
		t.Fatalf("expected 1 import, got %d", len(imports))
	}
	if imports[0].ExternalActivityID != "abc" {
		t.Fatalf("unexpected external id %q", imports[0].ExternalActivityID)
	}
	if imports[0].DistanceM == nil || *imports[0].DistanceM != 5000 {
		t.Fatalf("unexpected distance %v", imports[0].DistanceM)
	}

	// Replaying the same delivery is a no-op.
	resp, body = postJSON(t, server.URL+"/v1/webhooks/ingest", `{
		"provider": "garmin",
		"event_type": "activity.created",
		"user_id": "u1",
		"payload": {"activity": {"id": "abc", "distance_m": 5000}}
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replay ingest: expected 200, got %d", resp.StatusCode)
	}
	if body["duplicate"] != true || body["queued_jobs"] != float64(0) {
		t.Fatalf("expected duplicate no-op, got %v", body)
	}
}

type captureDispatcher struct {
	limit    int
	provider string
}

func (c *captureDispatcher) Dispatch(_ context.Context, limit int, provider string) (dispatch.Result, error) {
	c.limit = limit
	c.provider = provider
	return dispatch.Result{ProcessedJobIDs: []string{}, RetriedJobIDs: []string{}, FailedJobIDs: []string{}}, nil
}

func TestDispatchEndpointClampsLimit(t *testing.T) {
	capture := &captureDispatcher{}
	mux := http.NewServeMux()
	NewHandler(nil, capture).RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cases := []struct {
		body string
		want int
	}{
		{`{}`, 20},
		{`{"limit": -5}`, 20},
		{`{"limit": 7}`, 7},
		{`{"limit": 500}`, 100},
	}
	for _, tc := range cases {
		resp, err := http.Post(server.URL+"/v1/sync/dispatch", "application/json", bytes.NewReader([]byte(tc.body)))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("body %s: expected 200, got %d", tc.body, resp.StatusCode)
		}
		if capture.limit != tc.want {
			t.Fatalf("body %s: expected limit %d, got %d", tc.body, tc.want, capture.limit)
		}
	}
}

func TestDispatchEndpointAcceptsEmptyBody(t *testing.T) {
	capture := &captureDispatcher{}
	mux := http.NewServeMux()
	NewHandler(nil, capture).RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	resp, err := http.Post(server.URL+"/v1/sync/dispatch", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if capture.limit != 20 {
		t.Fatalf("expected default limit 20, got %d", capture.limit)
	}
}

func TestDispatchEndpointRejectsNonPost(t *testing.T) {
	server := newTestServer(t, memory.NewStore())

	resp, err := http.Get(server.URL + "/v1/sync/dispatch")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t, memory.NewStore())

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
