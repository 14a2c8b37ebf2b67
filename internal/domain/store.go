package domain

import (
	"context"
	"time"
)

// EventStore persists webhook events with conditional updates.
type EventStore interface {
	// CreateWebhookEvent inserts the event, returning ErrDuplicateEvent when
	// either dedup key already exists.
	CreateWebhookEvent(ctx context.Context, event WebhookEvent) error
	GetWebhookEvent(ctx context.Context, id string) (*WebhookEvent, error)
	FindEventByProviderEventID(ctx context.Context, provider, providerEventID string) (*WebhookEvent, error)
	FindEventByPayloadHash(ctx context.Context, provider, payloadHash string) (*WebhookEvent, error)
	// ListPendingEvents returns up to limit pending events for the provider,
	// oldest receipt first.
	ListPendingEvents(ctx context.Context, provider string, limit int) ([]WebhookEvent, error)
	// ReactivateEvent moves an ignored or failed event back to pending,
	// clearing processed-at, error, and retry timers.
	ReactivateEvent(ctx context.Context, id string) error
	MarkEventIgnored(ctx context.Context, id, reason string) error
	MarkEventProcessed(ctx context.Context, id string, at time.Time) error
	// SetEventFailure mirrors a job's retry decision onto its source event:
	// pending when another attempt will occur, failed when terminal.
	SetEventFailure(ctx context.Context, id string, status ProcessingStatus, retryCount int, nextRetryAt *time.Time, message string) error
}

// ConnectionStore reads device connections and records per-connection sync
// health. Connection status transitions belong to the connections service.
type ConnectionStore interface {
	GetConnection(ctx context.Context, id string) (*DeviceConnection, error)
	FindConnectionsByUser(ctx context.Context, provider, userID string) ([]DeviceConnection, error)
	FindConnectionsByProviderUser(ctx context.Context, provider, providerUserID string) ([]DeviceConnection, error)
	// RecordConnectionSync sets lastSyncedAt and clears lastError.
	RecordConnectionSync(ctx context.Context, id string, at time.Time) error
	RecordConnectionError(ctx context.Context, id, message string) error
}

// JobStore persists sync jobs. Claiming is a conditional transition: the sole
// concurrency-safety primitive in the pipeline.
type JobStore interface {
	// UpsertJob inserts the job unless one already exists for
	// (connectionID, sourceWebhookEventID); reports whether a row was created.
	UpsertJob(ctx context.Context, job SyncJob) (SyncJob, bool, error)
	GetJob(ctx context.Context, id string) (*SyncJob, error)
	// ListDueJobs returns queued jobs plus retry-scheduled jobs whose
	// nextRetryAt is due (null counts as due), oldest first, up to limit.
	// provider filters when non-empty.
	ListDueJobs(ctx context.Context, now time.Time, limit int, provider string) ([]SyncJob, error)
	// ClaimJob transitions the job to running only if its status still equals
	// expected. Returns false without error when another claimer won.
	ClaimJob(ctx context.Context, id string, expected JobStatus, now time.Time) (bool, error)
	HasRunningJob(ctx context.Context, connectionID string) (bool, error)
	MarkJobSucceeded(ctx context.Context, id string, cursor map[string]any, at time.Time) error
	ScheduleJobRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, message string) error
	MarkJobFailed(ctx context.Context, id string, retryCount int, message string) error
	// ReclaimStaleJobs moves running jobs started before cutoff back to
	// retry_scheduled and returns how many were reclaimed.
	ReclaimStaleJobs(ctx context.Context, cutoff time.Time, now time.Time) (int, error)
}

// CursorStore persists the per-connection sync cursor.
type CursorStore interface {
	GetCursor(ctx context.Context, connectionID string) (*SyncCursor, error)
	UpsertCursor(ctx context.Context, cursor SyncCursor) error
}

// ImportStore persists normalized activity imports idempotently, keyed by
// (userID, provider, externalActivityID).
type ImportStore interface {
	UpsertImport(ctx context.Context, imp ActivityImport) error
}

// OutboxStore appends facts for downstream consumption and backs the relay.
type OutboxStore interface {
	AppendOutboxEvent(ctx context.Context, eventType, aggregateType, aggregateID string, payload []byte) error
	ListUnpublishedOutbox(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, ids []int64, at time.Time) error
}

// Store is the full persistence contract consumed by the pipeline.
type Store interface {
	EventStore
	ConnectionStore
	JobStore
	CursorStore
	ImportStore
	OutboxStore
}
