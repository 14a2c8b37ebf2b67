// Package outbox appends durable sync facts and relays them to Kafka.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"example.com/devicesync/internal/domain"
)

const (
	EventSyncSucceeded = "integration.sync_succeeded"
	EventSyncFailed    = "integration.sync_failed"

	aggregateSyncJob = "sync_job"
)

// SyncSucceededPayload is the fact emitted after a job finishes cleanly.
type SyncSucceededPayload struct {
	JobID           string    `json:"job_id"`
	ConnectionID    string    `json:"connection_id"`
	UserID          string    `json:"user_id"`
	Provider        string    `json:"provider"`
	ImportCount     int       `json:"import_count"`
	WebhookEventIDs []string  `json:"webhook_event_ids"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// SyncFailedPayload is the fact emitted on a retry-scheduled or terminal failure.
type SyncFailedPayload struct {
	JobID        string     `json:"job_id"`
	ConnectionID string     `json:"connection_id"`
	UserID       string     `json:"user_id"`
	Provider     string     `json:"provider"`
	Retryable    bool       `json:"retryable"`
	WillRetry    bool       `json:"will_retry"`
	Attempt      int        `json:"attempt"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	Error        string     `json:"error"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

// Emitter appends outbox facts describing sync outcomes.
type Emitter struct {
	store domain.OutboxStore
}

// NewEmitter constructs an Emitter.
func NewEmitter(store domain.OutboxStore) *Emitter {
	return &Emitter{store: store}
}

// SyncSucceeded records a success fact for the job.
func (e *Emitter) SyncSucceeded(ctx context.Context, job domain.SyncJob, importCount int, eventIDs []string, at time.Time) error {
	payload := SyncSucceededPayload{
		JobID:           job.ID,
		ConnectionID:    job.ConnectionID,
		UserID:          job.UserID,
		Provider:        job.Provider,
		ImportCount:     importCount,
		WebhookEventIDs: eventIDs,
		OccurredAt:      at,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return e.store.AppendOutboxEvent(ctx, EventSyncSucceeded, aggregateSyncJob, job.ID, body)
}

// SyncFailed records the retry decision for a failed job.
func (e *Emitter) SyncFailed(ctx context.Context, job domain.SyncJob, retryable, willRetry bool, attempt int, nextRetryAt *time.Time, message string, at time.Time) error {
	payload := SyncFailedPayload{
		JobID:        job.ID,
		ConnectionID: job.ConnectionID,
		UserID:       job.UserID,
		Provider:     job.Provider,
		Retryable:    retryable,
		WillRetry:    willRetry,
		Attempt:      attempt,
		NextRetryAt:  nextRetryAt,
		Error:        message,
		OccurredAt:   at,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return e.store.AppendOutboxEvent(ctx, EventSyncFailed, aggregateSyncJob, job.ID, body)
}
