// Package domain defines the records, contracts, and error taxonomy for the
// device sync pipeline.
package domain

import "time"

// ProcessingStatus tracks the lifecycle of an inbound webhook event.
type ProcessingStatus string

const (
	EventPending   ProcessingStatus = "pending"
	EventProcessed ProcessingStatus = "processed"
	EventFailed    ProcessingStatus = "failed"
	EventIgnored   ProcessingStatus = "ignored"
)

// JobStatus tracks the lifecycle of a sync job.
type JobStatus string

const (
	JobQueued         JobStatus = "queued"
	JobRunning        JobStatus = "running"
	JobSucceeded      JobStatus = "succeeded"
	JobFailed         JobStatus = "failed"
	JobRetryScheduled JobStatus = "retry_scheduled"
)

// ConnectionStatus is the state of a device connection. The sync core only
// reads it; transitions are owned by the connections service.
type ConnectionStatus string

const (
	ConnectionActive  ConnectionStatus = "active"
	ConnectionRevoked ConnectionStatus = "revoked"
	ConnectionExpired ConnectionStatus = "expired"
	ConnectionError   ConnectionStatus = "error"
)

// WebhookEvent is one deduplicated inbound event from a provider. Identity is
// (Provider, ProviderEventID) with PayloadHash as the secondary dedup key.
type WebhookEvent struct {
	ID              string
	Provider        string
	ProviderEventID string
	PayloadHash     string
	EventType       string
	Payload         map[string]any
	Status          ProcessingStatus
	ReceivedAt      time.Time
	ProcessedAt     *time.Time
	ErrorMessage    *string
	RetryCount      int
	NextRetryAt     *time.Time
}

// DeviceConnection links a user to a provider account. Owned externally; the
// core reads it and updates only LastSyncedAt/LastError.
type DeviceConnection struct {
	ID             string
	UserID         string
	Provider       string
	Status         ConnectionStatus
	ProviderUserID string
	LastSyncedAt   *time.Time
	LastError      *string
}

// SyncJob is one unit of claimable sync work for a connection.
type SyncJob struct {
	ID                   string
	ConnectionID         string
	UserID               string
	Provider             string
	JobType              string
	Status               JobStatus
	Cursor               map[string]any
	RetryCount           int
	NextRetryAt          *time.Time
	SourceWebhookEventID *string
	StartedAt            *time.Time
	ErrorMessage         *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// JobTypeWebhookSync is the job type created by webhook ingestion.
const JobTypeWebhookSync = "webhook_sync"

// SyncCursor is the per-connection forward-progress marker. One row per
// connection, merged monotonically forward, never deleted.
type SyncCursor struct {
	ConnectionID       string
	State              map[string]any
	LastSyncedAt       *time.Time
	LastJobID          *string
	LastWebhookEventID *string
	LastError          *string
	UpdatedAt          time.Time
}

// ActivityImport is a normalized activity record. Dedup key is
// (UserID, Provider, ExternalActivityID); writes are idempotent upserts.
type ActivityImport struct {
	ID                 string
	UserID             string
	Provider           string
	ExternalActivityID string
	ActivityType       string
	StartedAt          *time.Time
	DurationSec        *int
	DistanceM          *int
	Calories           *int
	Steps              *int
	AvgHeartRate       *int
	Raw                map[string]any
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// OutboxEvent is an append-only fact for downstream consumers.
type OutboxEvent struct {
	ID            int64
	EventType     string
	AggregateType string
	AggregateID   string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
}
