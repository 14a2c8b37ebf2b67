package sync

import (
	"context"
	"fmt"
	"time"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/observability"
)

// pendingEventLimit caps how many pending events one job may consume when it
// has no source event.
const pendingEventLimit = 100

// OutcomeEmitter records the success fact for a finished job.
type OutcomeEmitter interface {
	SyncSucceeded(ctx context.Context, job domain.SyncJob, importCount int, eventIDs []string, at time.Time) error
}

// Outcome summarises one successfully processed job.
type Outcome struct {
	ImportCount int
	EventIDs    []string
	Cursor      map[string]any
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

// Processor runs one claimed job end to end: context validation, event
// selection, extraction, normalization, idempotent persistence, cursor merge,
// and success finalization.
type Processor struct {
	store   domain.Store
	flags   domain.FlagProvider
	rollout map[string]bool
	emitter OutcomeEmitter
	now     func() time.Time
}

// NewProcessor constructs a Processor.
func NewProcessor(store domain.Store, flags domain.FlagProvider, rollout map[string]bool, emitter OutcomeEmitter, opts ...Option) *Processor {
	p := &Processor{
		store:   store,
		flags:   flags,
		rollout: rollout,
		emitter: emitter,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles one running job. Errors carry the retry decision via
// domain.ProcessingError; the caller owns all failure bookkeeping.
func (p *Processor) Process(ctx context.Context, job domain.SyncJob) (Outcome, error) {
	start := p.now()

	conn, err := p.validateContext(ctx, job)
	if err != nil {
		return Outcome{}, err
	}

	events, err := p.selectEvents(ctx, job, *conn)
	if err != nil {
		return Outcome{}, err
	}

	importCount := 0
	eventIDs := make([]string, 0, len(events))
	payloads := make([]map[string]any, 0, len(events))
	for _, event := range events {
		activities := ExtractActivities(event.Payload)
		for i, activity := range activities {
			imp := Normalize(event, *conn, activity, i, p.now())
			if err := p.store.UpsertImport(ctx, imp); err != nil {
				return Outcome{}, domain.Retryable("persist import", err)
			}
			importCount++
		}
		eventIDs = append(eventIDs, event.ID)
		payloads = append(payloads, event.Payload)
	}

	now := p.now()
	for _, id := range eventIDs {
		if err := p.store.MarkEventProcessed(ctx, id, now); err != nil {
			return Outcome{}, domain.Retryable("finalize event", err)
		}
	}

	merged := MergeCursor(job.Cursor, payloads...)

	cursor := domain.SyncCursor{
		ConnectionID: job.ConnectionID,
		State:        merged,
		LastSyncedAt: &now,
		LastJobID:    &job.ID,
		UpdatedAt:    now,
	}
	if len(eventIDs) > 0 {
		last := eventIDs[len(eventIDs)-1]
		cursor.LastWebhookEventID = &last
	}
	if err := p.store.UpsertCursor(ctx, cursor); err != nil {
		return Outcome{}, domain.Retryable("persist cursor", err)
	}

	if err := p.store.RecordConnectionSync(ctx, job.ConnectionID, now); err != nil {
		return Outcome{}, domain.Retryable("update connection", err)
	}

	if err := p.store.MarkJobSucceeded(ctx, job.ID, merged, now); err != nil {
		return Outcome{}, domain.Retryable("finalize job", err)
	}

	if err := p.emitter.SyncSucceeded(ctx, job, importCount, eventIDs, now); err != nil {
		return Outcome{}, domain.Retryable("emit outbox", err)
	}

	observability.ObserveSyncDuration(p.now().Sub(start))
	observability.RecordImportsPersisted(importCount, now)

	return Outcome{ImportCount: importCount, EventIDs: eventIDs, Cursor: merged}, nil
}

// validateContext enforces the non-retryable preconditions: the connection
// must exist, be active, match the job's linkage, and the provider must be
// both flag-enabled and rollout-activated.
func (p *Processor) validateContext(ctx context.Context, job domain.SyncJob) (*domain.DeviceConnection, error) {
	conn, err := p.store.GetConnection(ctx, job.ConnectionID)
	if err != nil {
		return nil, domain.Retryable("load connection", err)
	}
	if conn == nil {
		return nil, domain.NonRetryable("connection not found")
	}
	if conn.Status != domain.ConnectionActive {
		return nil, domain.NonRetryable(fmt.Sprintf("connection is %s", conn.Status))
	}
	if conn.UserID != job.UserID || conn.Provider != job.Provider {
		return nil, domain.NonRetryable("connection does not match job linkage")
	}
	if !p.flags.Enabled(domain.ProviderFlagKey(job.Provider)) {
		return nil, domain.NonRetryable(fmt.Sprintf("provider %s is disabled", job.Provider))
	}
	if !p.rollout[job.Provider] {
		return nil, domain.NonRetryable(fmt.Sprintf("provider %s is not in rollout", job.Provider))
	}
	return conn, nil
}

// selectEvents loads the job's source event, or scans pending events for the
// provider and keeps those whose hints match the connection.
func (p *Processor) selectEvents(ctx context.Context, job domain.SyncJob, conn domain.DeviceConnection) ([]domain.WebhookEvent, error) {
	if job.SourceWebhookEventID != nil {
		event, err := p.store.GetWebhookEvent(ctx, *job.SourceWebhookEventID)
		if err != nil {
			return nil, domain.Retryable("load source event", err)
		}
		// Skip events already handled by a concurrent path.
		if event == nil || (event.Status != domain.EventPending && event.Status != domain.EventFailed) {
			return nil, nil
		}
		return []domain.WebhookEvent{*event}, nil
	}

	pending, err := p.store.ListPendingEvents(ctx, job.Provider, pendingEventLimit)
	if err != nil {
		return nil, domain.Retryable("list pending events", err)
	}

	matched := make([]domain.WebhookEvent, 0, len(pending))
	for _, event := range pending {
		if ExtractHints(event.Payload).Matches(conn) {
			matched = append(matched, event)
		}
	}
	return matched, nil
}
