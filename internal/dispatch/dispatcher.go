// Package dispatch claims due sync jobs, runs them one at a time, and applies
// the retry/failure bookkeeping.
package dispatch

import (
	"context"
	"log"
	"time"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/observability"
	syncpkg "example.com/devicesync/internal/sync"
)

const (
	baseBackoff = 5 * time.Minute
	maxBackoff  = 60 * time.Minute

	// DefaultMaxAttempts is how many times a retryable failure is retried
	// before the job turns terminal.
	DefaultMaxAttempts = 3
)

// Processor runs one claimed job.
type Processor interface {
	Process(ctx context.Context, job domain.SyncJob) (syncpkg.Outcome, error)
}

// FailureEmitter records the retry decision as an outbox fact.
type FailureEmitter interface {
	SyncFailed(ctx context.Context, job domain.SyncJob, retryable, willRetry bool, attempt int, nextRetryAt *time.Time, message string, at time.Time) error
}

// Result aggregates one dispatch invocation.
type Result struct {
	ScannedCount    int      `json:"scanned_count"`
	ProcessedCount  int      `json:"processed_count"`
	RetriedCount    int      `json:"retried_count"`
	FailedCount     int      `json:"failed_count"`
	ProcessedJobIDs []string `json:"processed_job_ids"`
	RetriedJobIDs   []string `json:"retried_job_ids"`
	FailedJobIDs    []string `json:"failed_job_ids"`
}

// Option configures optional behaviour for the Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithLogger overrides the logger used for per-job bookkeeping errors.
func WithLogger(logger *log.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMaxAttempts overrides the retry budget.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithStaleAfter overrides the running-job staleness cutoff used by ReclaimStale.
func WithStaleAfter(age time.Duration) Option {
	return func(d *Dispatcher) {
		if age > 0 {
			d.staleAfter = age
		}
	}
}

// Dispatcher is stateless between invocations; claim exclusivity comes from
// the store's conditional status transition, not from any in-process lock.
type Dispatcher struct {
	store       domain.Store
	processor   Processor
	emitter     FailureEmitter
	maxAttempts int
	staleAfter  time.Duration
	now         func() time.Time
	logger      *log.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(store domain.Store, processor Processor, emitter FailureEmitter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		processor:   processor,
		emitter:     emitter,
		maxAttempts: DefaultMaxAttempts,
		staleAfter:  15 * time.Minute,
		now:         time.Now,
		logger:      log.New(log.Writer(), "[dispatch] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch claims up to limit due jobs and processes them serially. One job's
// failure never aborts its siblings.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int, provider string) (Result, error) {
	result := Result{
		ProcessedJobIDs: []string{},
		RetriedJobIDs:   []string{},
		FailedJobIDs:    []string{},
	}

	due, err := d.store.ListDueJobs(ctx, d.now(), limit, provider)
	if err != nil {
		return result, err
	}
	result.ScannedCount = len(due)

	for _, candidate := range due {
		// Best-effort guard: one running job per connection at a time.
		running, err := d.store.HasRunningJob(ctx, candidate.ConnectionID)
		if err != nil {
			d.logger.Printf("running-job check failed (job=%s): %v", candidate.ID, err)
			continue
		}
		if running {
			observability.RecordJobOutcome("skipped")
			continue
		}

		claimed, err := d.store.ClaimJob(ctx, candidate.ID, candidate.Status, d.now())
		if err != nil {
			d.logger.Printf("claim failed (job=%s): %v", candidate.ID, err)
			continue
		}
		if !claimed {
			// Another invocation won the race.
			observability.RecordJobOutcome("skipped")
			continue
		}

		job := candidate
		job.Status = domain.JobRunning

		if _, procErr := d.processor.Process(ctx, job); procErr != nil {
			willRetry := d.handleFailure(ctx, job, procErr)
			if willRetry {
				result.RetriedCount++
				result.RetriedJobIDs = append(result.RetriedJobIDs, job.ID)
				observability.RecordJobOutcome("retried")
			} else {
				result.FailedCount++
				result.FailedJobIDs = append(result.FailedJobIDs, job.ID)
				observability.RecordJobOutcome("failed")
			}
			continue
		}

		result.ProcessedCount++
		result.ProcessedJobIDs = append(result.ProcessedJobIDs, job.ID)
		observability.RecordJobOutcome("succeeded")
	}

	return result, nil
}

// handleFailure classifies the error, schedules or finalizes the job, mirrors
// the decision to the source event, records per-connection health, and emits
// the failure fact. Returns whether another attempt will occur.
func (d *Dispatcher) handleFailure(ctx context.Context, job domain.SyncJob, procErr error) bool {
	now := d.now()
	message := procErr.Error()
	retryable := domain.IsRetryable(procErr)
	attempt := job.RetryCount + 1
	willRetry := retryable && attempt <= d.maxAttempts

	var nextRetryAt *time.Time
	if willRetry {
		at := now.Add(backoffDelay(attempt))
		nextRetryAt = &at
		if err := d.store.ScheduleJobRetry(ctx, job.ID, attempt, at, message); err != nil {
			d.logger.Printf("schedule retry failed (job=%s): %v", job.ID, err)
		}
	} else {
		if err := d.store.MarkJobFailed(ctx, job.ID, attempt, message); err != nil {
			d.logger.Printf("mark failed failed (job=%s): %v", job.ID, err)
		}
	}

	// The event and the job must never disagree about whether more attempts
	// will occur.
	if job.SourceWebhookEventID != nil {
		status := domain.EventFailed
		if willRetry {
			status = domain.EventPending
		}
		if err := d.store.SetEventFailure(ctx, *job.SourceWebhookEventID, status, attempt, nextRetryAt, message); err != nil {
			d.logger.Printf("event failure update failed (job=%s, event=%s): %v", job.ID, *job.SourceWebhookEventID, err)
		}
	}

	if err := d.store.RecordConnectionError(ctx, job.ConnectionID, message); err != nil {
		d.logger.Printf("connection error update failed (job=%s): %v", job.ID, err)
	}

	// Keep the cursor row current so per-connection health is visible without
	// joining tables. The cursor state itself is unchanged.
	cursor := domain.SyncCursor{ConnectionID: job.ConnectionID, State: job.Cursor}
	if existing, err := d.store.GetCursor(ctx, job.ConnectionID); err != nil {
		d.logger.Printf("cursor load failed (job=%s): %v", job.ID, err)
	} else if existing != nil {
		cursor = *existing
	}
	cursor.LastJobID = &job.ID
	cursor.LastError = &message
	cursor.UpdatedAt = now
	if err := d.store.UpsertCursor(ctx, cursor); err != nil {
		d.logger.Printf("cursor error update failed (job=%s): %v", job.ID, err)
	}

	if err := d.emitter.SyncFailed(ctx, job, retryable, willRetry, attempt, nextRetryAt, message, now); err != nil {
		d.logger.Printf("outbox emit failed (job=%s): %v", job.ID, err)
	}

	return willRetry
}

// ReclaimStale moves running jobs older than the staleness cutoff back to
// retry_scheduled, recovering work orphaned by a crashed invocation.
func (d *Dispatcher) ReclaimStale(ctx context.Context) (int, error) {
	now := d.now()
	return d.store.ReclaimStaleJobs(ctx, now.Add(-d.staleAfter), now)
}

// backoffDelay is exponential from 5 minutes, capped at 60: 5, 10, 20, 40, 60.
func backoffDelay(attempt int) time.Duration {
	delay := baseBackoff << uint(attempt-1)
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}
