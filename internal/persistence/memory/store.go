// Package memory provides a mutex-guarded in-memory Store with the same
// conditional-update semantics as the Postgres implementation. Used by unit
// tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/devicesync/internal/domain"
)

// Store implements domain.Store in memory.
type Store struct {
	mu sync.RWMutex

	events       map[string]*domain.WebhookEvent
	connections  map[string]*domain.DeviceConnection
	jobs         map[string]*domain.SyncJob
	cursors      map[string]*domain.SyncCursor
	imports      map[string]*domain.ActivityImport // keyed user|provider|externalID
	outbox       []*domain.OutboxEvent
	nextOutboxID int64
	jobSeq       int64 // insertion order tiebreaker for ListDueJobs
	jobOrder     map[string]int64
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		events:       make(map[string]*domain.WebhookEvent),
		connections:  make(map[string]*domain.DeviceConnection),
		jobs:         make(map[string]*domain.SyncJob),
		cursors:      make(map[string]*domain.SyncCursor),
		imports:      make(map[string]*domain.ActivityImport),
		nextOutboxID: 1,
		jobOrder:     make(map[string]int64),
	}
}

var _ domain.Store = (*Store)(nil)

// --- events ---

// CreateWebhookEvent enforces both dedup keys.
func (s *Store) CreateWebhookEvent(_ context.Context, event domain.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.events {
		if existing.Provider != event.Provider {
			continue
		}
		if existing.ProviderEventID == event.ProviderEventID || existing.PayloadHash == event.PayloadHash {
			return domain.ErrDuplicateEvent
		}
	}
	clone := event
	s.events[event.ID] = &clone
	return nil
}

func (s *Store) GetWebhookEvent(_ context.Context, id string) (*domain.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if event, ok := s.events[id]; ok {
		clone := *event
		return &clone, nil
	}
	return nil, nil
}

func (s *Store) FindEventByProviderEventID(_ context.Context, provider, providerEventID string) (*domain.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, event := range s.events {
		if event.Provider == provider && event.ProviderEventID == providerEventID {
			clone := *event
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *Store) FindEventByPayloadHash(_ context.Context, provider, payloadHash string) (*domain.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, event := range s.events {
		if event.Provider == provider && event.PayloadHash == payloadHash {
			clone := *event
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *Store) ListPendingEvents(_ context.Context, provider string, limit int) ([]domain.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.WebhookEvent, 0)
	for _, event := range s.events {
		if event.Provider == provider && event.Status == domain.EventPending {
			out = append(out, *event)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ReactivateEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return domain.ErrEventNotFound
	}
	event.Status = domain.EventPending
	event.ProcessedAt = nil
	event.ErrorMessage = nil
	event.NextRetryAt = nil
	return nil
}

func (s *Store) MarkEventIgnored(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return domain.ErrEventNotFound
	}
	event.Status = domain.EventIgnored
	event.ErrorMessage = &reason
	return nil
}

func (s *Store) MarkEventProcessed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return domain.ErrEventNotFound
	}
	event.Status = domain.EventProcessed
	event.ProcessedAt = &at
	event.ErrorMessage = nil
	event.NextRetryAt = nil
	return nil
}

func (s *Store) SetEventFailure(_ context.Context, id string, status domain.ProcessingStatus, retryCount int, nextRetryAt *time.Time, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return domain.ErrEventNotFound
	}
	event.Status = status
	event.RetryCount = retryCount
	event.NextRetryAt = nextRetryAt
	event.ErrorMessage = &message
	return nil
}

// --- connections ---

// AddConnection seeds a connection, for tests and local dev.
func (s *Store) AddConnection(conn domain.DeviceConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := conn
	s.connections[conn.ID] = &clone
}

func (s *Store) GetConnection(_ context.Context, id string) (*domain.DeviceConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if conn, ok := s.connections[id]; ok {
		clone := *conn
		return &clone, nil
	}
	return nil, nil
}

func (s *Store) FindConnectionsByUser(_ context.Context, provider, userID string) ([]domain.DeviceConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DeviceConnection, 0)
	for _, conn := range s.connections {
		if conn.Provider == provider && conn.UserID == userID {
			out = append(out, *conn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindConnectionsByProviderUser(_ context.Context, provider, providerUserID string) ([]domain.DeviceConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DeviceConnection, 0)
	for _, conn := range s.connections {
		if conn.Provider == provider && conn.ProviderUserID == providerUserID {
			out = append(out, *conn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) RecordConnectionSync(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.connections[id]
	if !ok {
		return domain.ErrConnectionNotFound
	}
	conn.LastSyncedAt = &at
	conn.LastError = nil
	return nil
}

func (s *Store) RecordConnectionError(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.connections[id]
	if !ok {
		return domain.ErrConnectionNotFound
	}
	conn.LastError = &message
	return nil
}

// --- jobs ---

func (s *Store) UpsertJob(_ context.Context, job domain.SyncJob) (domain.SyncJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.SourceWebhookEventID != nil {
		for _, existing := range s.jobs {
			if existing.ConnectionID == job.ConnectionID &&
				existing.SourceWebhookEventID != nil &&
				*existing.SourceWebhookEventID == *job.SourceWebhookEventID {
				return *existing, false, nil
			}
		}
	}

	clone := job
	s.jobs[job.ID] = &clone
	s.jobSeq++
	s.jobOrder[job.ID] = s.jobSeq
	return clone, true, nil
}

func (s *Store) GetJob(_ context.Context, id string) (*domain.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if job, ok := s.jobs[id]; ok {
		clone := *job
		return &clone, nil
	}
	return nil, nil
}

func (s *Store) ListDueJobs(_ context.Context, now time.Time, limit int, provider string) ([]domain.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SyncJob, 0)
	for _, job := range s.jobs {
		if provider != "" && job.Provider != provider {
			continue
		}
		if jobDue(job, now) {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return s.jobOrder[out[i].ID] < s.jobOrder[out[j].ID]
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func jobDue(job *domain.SyncJob, now time.Time) bool {
	switch job.Status {
	case domain.JobQueued:
		return true
	case domain.JobRetryScheduled:
		// Null nextRetryAt on a retry-scheduled job is immediately due.
		return job.NextRetryAt == nil || !job.NextRetryAt.After(now)
	default:
		return false
	}
}

// ClaimJob is the compare-and-swap transition that guarantees at most one
// claimer proceeds to running.
func (s *Store) ClaimJob(_ context.Context, id string, expected domain.JobStatus, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, domain.ErrJobNotFound
	}
	if job.Status != expected {
		return false, nil
	}
	job.Status = domain.JobRunning
	job.StartedAt = &now
	job.ErrorMessage = nil
	job.UpdatedAt = now
	return true, nil
}

func (s *Store) HasRunningJob(_ context.Context, connectionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		if job.ConnectionID == connectionID && job.Status == domain.JobRunning {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) MarkJobSucceeded(_ context.Context, id string, cursor map[string]any, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Status = domain.JobSucceeded
	job.Cursor = cursor
	job.ErrorMessage = nil
	job.NextRetryAt = nil
	job.UpdatedAt = at
	return nil
}

func (s *Store) ScheduleJobRetry(_ context.Context, id string, retryCount int, nextRetryAt time.Time, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Status = domain.JobRetryScheduled
	job.RetryCount = retryCount
	job.NextRetryAt = &nextRetryAt
	job.ErrorMessage = &message
	job.UpdatedAt = nextRetryAt
	return nil
}

func (s *Store) MarkJobFailed(_ context.Context, id string, retryCount int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Status = domain.JobFailed
	job.RetryCount = retryCount
	job.NextRetryAt = nil
	job.ErrorMessage = &message
	return nil
}

func (s *Store) ReclaimStaleJobs(_ context.Context, cutoff time.Time, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reclaimed := 0
	for _, job := range s.jobs {
		if job.Status != domain.JobRunning {
			continue
		}
		if job.StartedAt != nil && job.StartedAt.After(cutoff) {
			continue
		}
		job.Status = domain.JobRetryScheduled
		job.RetryCount++
		job.NextRetryAt = nil // immediately due
		job.UpdatedAt = now
		reclaimed++
	}
	return reclaimed, nil
}

// --- cursors ---

func (s *Store) GetCursor(_ context.Context, connectionID string) (*domain.SyncCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cursor, ok := s.cursors[connectionID]; ok {
		clone := *cursor
		return &clone, nil
	}
	return nil, nil
}

func (s *Store) UpsertCursor(_ context.Context, cursor domain.SyncCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := cursor
	s.cursors[cursor.ConnectionID] = &clone
	return nil
}

// --- imports ---

func (s *Store) UpsertImport(_ context.Context, imp domain.ActivityImport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := imp.UserID + "|" + imp.Provider + "|" + imp.ExternalActivityID
	if existing, ok := s.imports[key]; ok {
		// Converge on the latest normalized values; keep the original identity.
		imp.ID = existing.ID
		imp.CreatedAt = existing.CreatedAt
	}
	clone := imp
	s.imports[key] = &clone
	return nil
}

// Imports returns a snapshot of all imports, for tests.
func (s *Store) Imports() []domain.ActivityImport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ActivityImport, 0, len(s.imports))
	for _, imp := range s.imports {
		out = append(out, *imp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalActivityID < out[j].ExternalActivityID })
	return out
}

// --- outbox ---

func (s *Store) AppendOutboxEvent(_ context.Context, eventType, aggregateType, aggregateID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = append(s.outbox, &domain.OutboxEvent{
		ID:            s.nextOutboxID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       append([]byte(nil), payload...),
		CreatedAt:     time.Now().UTC(),
	})
	s.nextOutboxID++
	return nil
}

func (s *Store) ListUnpublishedOutbox(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.OutboxEvent, 0)
	for _, event := range s.outbox {
		if event.PublishedAt == nil {
			out = append(out, *event)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, ids []int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idSet := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}
	for _, event := range s.outbox {
		if _, ok := idSet[event.ID]; ok {
			published := at
			event.PublishedAt = &published
		}
	}
	return nil
}

// OutboxEvents returns a snapshot of all outbox rows, for tests.
func (s *Store) OutboxEvents() []domain.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.OutboxEvent, 0, len(s.outbox))
	for _, event := range s.outbox {
		out = append(out, *event)
	}
	return out
}
