// Package ingest deduplicates inbound webhook events and queues sync work
// idempotently.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/observability"
	syncpkg "example.com/devicesync/internal/sync"
)

// Request is one inbound webhook delivery.
type Request struct {
	Provider        string         `json:"provider"`
	ProviderEventID string         `json:"provider_event_id,omitempty"`
	EventType       string         `json:"event_type"`
	Payload         map[string]any `json:"payload,omitempty"`
	PayloadHash     string         `json:"payload_hash,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	ConnectionID    string         `json:"connection_id,omitempty"`
	ProviderUserID  string         `json:"provider_user_id,omitempty"`
}

// Result reports what ingestion did with the event.
type Result struct {
	Accepted        bool   `json:"accepted"`
	Duplicate       bool   `json:"duplicate"`
	ProviderEnabled bool   `json:"provider_enabled"`
	QueuedJobs      int    `json:"queued_jobs"`
	WebhookEventID  string `json:"webhook_event_id"`
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service implements webhook dedup and idempotent job creation.
type Service struct {
	store   domain.Store
	flags   domain.FlagProvider
	rollout map[string]bool
	now     func() time.Time
}

// NewService constructs a Service.
func NewService(store domain.Store, flags domain.FlagProvider, rollout map[string]bool, opts ...Option) *Service {
	s := &Service{
		store:   store,
		flags:   flags,
		rollout: rollout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest validates, deduplicates, and records the event, then queues one job
// per matching active connection. Validation failures return a
// domain.ValidationError with no side effects.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	provider := strings.TrimSpace(strings.ToLower(req.Provider))
	if !domain.KnownProvider(provider) {
		observability.RecordIngest("rejected")
		return Result{}, domain.Invalid("provider", fmt.Sprintf("unknown provider %q", req.Provider))
	}
	if strings.TrimSpace(req.EventType) == "" {
		observability.RecordIngest("rejected")
		return Result{}, domain.Invalid("event_type", "missing")
	}

	hash := req.PayloadHash
	if hash == "" {
		hash = PayloadHash(req.Payload)
	}

	// Providers that omit stable ids still dedupe on identical payloads.
	providerEventID := strings.TrimSpace(req.ProviderEventID)
	if providerEventID == "" {
		providerEventID = provider + ":" + hash
	}

	enabled := s.flags.Enabled(domain.ProviderFlagKey(provider))
	if !enabled {
		return s.ingestDisabled(ctx, req, provider, providerEventID, hash)
	}

	event := domain.WebhookEvent{
		ID:              uuid.NewString(),
		Provider:        provider,
		ProviderEventID: providerEventID,
		PayloadHash:     hash,
		EventType:       req.EventType,
		Payload:         req.Payload,
		Status:          domain.EventPending,
		ReceivedAt:      s.now(),
	}

	duplicate := false
	if err := s.store.CreateWebhookEvent(ctx, event); err != nil {
		if !errors.Is(err, domain.ErrDuplicateEvent) {
			return Result{}, err
		}
		existing, err := s.lookupExisting(ctx, provider, providerEventID, hash)
		if err != nil {
			return Result{}, err
		}
		event = *existing
		duplicate = true
	}

	result := Result{
		Accepted:        true,
		Duplicate:       duplicate,
		ProviderEnabled: true,
		WebhookEventID:  event.ID,
	}

	// Flag-enabled but not rollout-activated: record and stop, not an error.
	if !s.rollout[provider] {
		if event.Status == domain.EventPending || event.Status == domain.EventFailed {
			if err := s.store.MarkEventIgnored(ctx, event.ID, "provider not in rollout"); err != nil {
				return Result{}, err
			}
		}
		observability.RecordIngest("ignored")
		return result, nil
	}

	// Re-ingested while unprocessed: eligible for work again.
	if duplicate && (event.Status == domain.EventIgnored || event.Status == domain.EventFailed) {
		if err := s.store.ReactivateEvent(ctx, event.ID); err != nil {
			return Result{}, err
		}
		event.Status = domain.EventPending
	}

	connections, err := s.resolveConnections(ctx, req, provider)
	if err != nil {
		return Result{}, err
	}
	if len(connections) == 0 {
		if event.Status == domain.EventPending {
			if err := s.store.MarkEventIgnored(ctx, event.ID, "no active connection matched"); err != nil {
				return Result{}, err
			}
		}
		observability.RecordIngest("ignored")
		return result, nil
	}

	fragment := syncpkg.InitialFragment(req.Payload)
	for _, conn := range connections {
		sourceID := event.ID
		job := domain.SyncJob{
			ID:                   uuid.NewString(),
			ConnectionID:         conn.ID,
			UserID:               conn.UserID,
			Provider:             provider,
			JobType:              domain.JobTypeWebhookSync,
			Status:               domain.JobQueued,
			Cursor:               fragment,
			SourceWebhookEventID: &sourceID,
			CreatedAt:            s.now(),
			UpdatedAt:            s.now(),
		}
		_, created, err := s.store.UpsertJob(ctx, job)
		if err != nil {
			return Result{}, err
		}
		if created {
			result.QueuedJobs++
		}
	}

	if duplicate {
		observability.RecordIngest("duplicate")
	} else {
		observability.RecordIngest("accepted")
	}
	return result, nil
}

// ingestDisabled records the event as ignored for audit without creating work.
func (s *Service) ingestDisabled(ctx context.Context, req Request, provider, providerEventID, hash string) (Result, error) {
	reason := "provider disabled"
	event := domain.WebhookEvent{
		ID:              uuid.NewString(),
		Provider:        provider,
		ProviderEventID: providerEventID,
		PayloadHash:     hash,
		EventType:       req.EventType,
		Payload:         req.Payload,
		Status:          domain.EventIgnored,
		ErrorMessage:    &reason,
		ReceivedAt:      s.now(),
	}

	duplicate := false
	if err := s.store.CreateWebhookEvent(ctx, event); err != nil {
		if !errors.Is(err, domain.ErrDuplicateEvent) {
			return Result{}, err
		}
		existing, err := s.lookupExisting(ctx, provider, providerEventID, hash)
		if err != nil {
			return Result{}, err
		}
		event = *existing
		duplicate = true
	}

	observability.RecordIngest("ignored")
	return Result{
		Accepted:        true,
		Duplicate:       duplicate,
		ProviderEnabled: false,
		WebhookEventID:  event.ID,
	}, nil
}

// lookupExisting resolves the row behind a uniqueness conflict. Both lookups
// are needed: some providers reuse payloads under a new event id, which only
// the hash catches.
func (s *Service) lookupExisting(ctx context.Context, provider, providerEventID, hash string) (*domain.WebhookEvent, error) {
	existing, err := s.store.FindEventByProviderEventID(ctx, provider, providerEventID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	existing, err = s.store.FindEventByPayloadHash(ctx, provider, hash)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrEventNotFound
	}
	return existing, nil
}

// resolveConnections applies the strict hint priority: explicit connection id,
// then user id, then provider user id. First hint with a match wins; absent
// hints simply yield no candidates.
func (s *Service) resolveConnections(ctx context.Context, req Request, provider string) ([]domain.DeviceConnection, error) {
	hints := syncpkg.ExtractHints(req.Payload)
	if req.ConnectionID != "" {
		hints.ConnectionID = req.ConnectionID
	}
	if req.UserID != "" {
		hints.UserID = req.UserID
	}
	if req.ProviderUserID != "" {
		hints.ProviderUserID = req.ProviderUserID
	}

	if hints.ConnectionID != "" {
		conn, err := s.store.GetConnection(ctx, hints.ConnectionID)
		if err != nil {
			return nil, err
		}
		if conn != nil && conn.Provider == provider && conn.Status == domain.ConnectionActive {
			return []domain.DeviceConnection{*conn}, nil
		}
	}
	if hints.UserID != "" {
		conns, err := s.store.FindConnectionsByUser(ctx, provider, hints.UserID)
		if err != nil {
			return nil, err
		}
		if active := filterActive(conns); len(active) > 0 {
			return active, nil
		}
	}
	if hints.ProviderUserID != "" {
		conns, err := s.store.FindConnectionsByProviderUser(ctx, provider, hints.ProviderUserID)
		if err != nil {
			return nil, err
		}
		if active := filterActive(conns); len(active) > 0 {
			return active, nil
		}
	}
	return nil, nil
}

func filterActive(conns []domain.DeviceConnection) []domain.DeviceConnection {
	out := make([]domain.DeviceConnection, 0, len(conns))
	for _, conn := range conns {
		if conn.Status == domain.ConnectionActive {
			out = append(out, conn)
		}
	}
	return out
}

// PayloadHash computes the sha256 of a canonical re-encoding of the payload,
// so key order in the incoming body does not change the identity.
func PayloadHash(payload map[string]any) string {
	h := sha256.New()
	writeCanonical(h, payload)
	return hex.EncodeToString(h.Sum(nil))
}

func writeCanonical(w interface{ Write([]byte) (int, error) }, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		_, _ = w.Write([]byte{'{'})
		for i, k := range keys {
			if i > 0 {
				_, _ = w.Write([]byte{','})
			}
			keyBytes, _ := json.Marshal(k)
			_, _ = w.Write(keyBytes)
			_, _ = w.Write([]byte{':'})
			writeCanonical(w, val[k])
		}
		_, _ = w.Write([]byte{'}'})
	case []any:
		_, _ = w.Write([]byte{'['})
		for i, item := range val {
			if i > 0 {
				_, _ = w.Write([]byte{','})
			}
			writeCanonical(w, item)
		}
		_, _ = w.Write([]byte{']'})
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			raw = []byte(fmt.Sprintf("%q", fmt.Sprint(val)))
		}
		_, _ = w.Write(raw)
	}
}
