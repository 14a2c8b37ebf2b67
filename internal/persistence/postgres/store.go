// Package postgres provides the pgx-backed Store for the sync pipeline.
// Claiming and status transitions are conditional UPDATEs; upserts rely on
// the unique keys declared in the schema.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/devicesync/internal/domain"
)

// uniqueViolation is the Postgres error code for unique constraint conflicts.
const uniqueViolation = "23505"

// Store implements domain.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ domain.Store = (*Store)(nil)

// EnsureSchema applies the DDL. Safe to run repeatedly.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// --- events ---

func (s *Store) CreateWebhookEvent(ctx context.Context, event domain.WebhookEvent) error {
	payload, err := marshalJSON(event.Payload)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO webhook_events
        (event_id, provider, provider_event_id, payload_hash, event_type, payload, status, received_at, error_message, retry_count, next_retry_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	_, err = s.pool.Exec(ctx, stmt,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.PayloadHash,
		event.EventType,
		payload,
		event.Status,
		event.ReceivedAt,
		event.ErrorMessage,
		event.RetryCount,
		event.NextRetryAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateEvent
		}
		return err
	}
	return nil
}

const eventColumns = `event_id, provider, provider_event_id, payload_hash, event_type, payload, status, received_at, processed_at, error_message, retry_count, next_retry_at`

func (s *Store) GetWebhookEvent(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE event_id=$1`, id)
	return scanEvent(row)
}

func (s *Store) FindEventByProviderEventID(ctx context.Context, provider, providerEventID string) (*domain.WebhookEvent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE provider=$1 AND provider_event_id=$2`, provider, providerEventID)
	return scanEvent(row)
}

func (s *Store) FindEventByPayloadHash(ctx context.Context, provider, payloadHash string) (*domain.WebhookEvent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE provider=$1 AND payload_hash=$2`, provider, payloadHash)
	return scanEvent(row)
}

func (s *Store) ListPendingEvents(ctx context.Context, provider string, limit int) ([]domain.WebhookEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM webhook_events WHERE provider=$1 AND status='pending' ORDER BY received_at LIMIT $2`,
		provider, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.WebhookEvent, 0, limit)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

func (s *Store) ReactivateEvent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_events SET status='pending', processed_at=NULL, error_message=NULL, next_retry_at=NULL WHERE event_id=$1`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

func (s *Store) MarkEventIgnored(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_events SET status='ignored', error_message=$2 WHERE event_id=$1`,
		id, reason,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

func (s *Store) MarkEventProcessed(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_events SET status='processed', processed_at=$2, error_message=NULL, next_retry_at=NULL WHERE event_id=$1`,
		id, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

func (s *Store) SetEventFailure(ctx context.Context, id string, status domain.ProcessingStatus, retryCount int, nextRetryAt *time.Time, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_events SET status=$2, retry_count=$3, next_retry_at=$4, error_message=$5 WHERE event_id=$1`,
		id, status, retryCount, nextRetryAt, message,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

func scanEvent(row pgx.Row) (*domain.WebhookEvent, error) {
	var event domain.WebhookEvent
	var payload []byte
	err := row.Scan(
		&event.ID, &event.Provider, &event.ProviderEventID, &event.PayloadHash,
		&event.EventType, &payload, &event.Status, &event.ReceivedAt,
		&event.ProcessedAt, &event.ErrorMessage, &event.RetryCount, &event.NextRetryAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := unmarshalJSON(payload, &event.Payload); err != nil {
		return nil, err
	}
	return &event, nil
}

// --- connections ---

const connectionColumns = `connection_id, user_id, provider, status, provider_user_id, last_synced_at, last_error`

func (s *Store) GetConnection(ctx context.Context, id string) (*domain.DeviceConnection, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+connectionColumns+` FROM device_connections WHERE connection_id=$1`, id)
	return scanConnection(row)
}

func (s *Store) FindConnectionsByUser(ctx context.Context, provider, userID string) ([]domain.DeviceConnection, error) {
	return s.queryConnections(ctx,
		`SELECT `+connectionColumns+` FROM device_connections WHERE provider=$1 AND user_id=$2 ORDER BY connection_id`,
		provider, userID,
	)
}

func (s *Store) FindConnectionsByProviderUser(ctx context.Context, provider, providerUserID string) ([]domain.DeviceConnection, error) {
	return s.queryConnections(ctx,
		`SELECT `+connectionColumns+` FROM device_connections WHERE provider=$1 AND provider_user_id=$2 ORDER BY connection_id`,
		provider, providerUserID,
	)
}

func (s *Store) queryConnections(ctx context.Context, query string, args ...any) ([]domain.DeviceConnection, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conns := make([]domain.DeviceConnection, 0)
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *conn)
	}
	return conns, rows.Err()
}

func (s *Store) RecordConnectionSync(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE device_connections SET last_synced_at=$2, last_error=NULL WHERE connection_id=$1`,
		id, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}

func (s *Store) RecordConnectionError(ctx context.Context, id, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE device_connections SET last_error=$2 WHERE connection_id=$1`,
		id, message,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}

func scanConnection(row pgx.Row) (*domain.DeviceConnection, error) {
	var conn domain.DeviceConnection
	var providerUserID *string
	err := row.Scan(&conn.ID, &conn.UserID, &conn.Provider, &conn.Status, &providerUserID, &conn.LastSyncedAt, &conn.LastError)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if providerUserID != nil {
		conn.ProviderUserID = *providerUserID
	}
	return &conn, nil
}

// --- jobs ---

const jobColumns = `job_id, connection_id, user_id, provider, job_type, status, cursor, retry_count, next_retry_at, source_webhook_event_id, started_at, error_message, created_at, updated_at`

func (s *Store) UpsertJob(ctx context.Context, job domain.SyncJob) (domain.SyncJob, bool, error) {
	cursor, err := marshalJSON(job.Cursor)
	if err != nil {
		return domain.SyncJob{}, false, err
	}

	const stmt = `INSERT INTO sync_jobs
        (job_id, connection_id, user_id, provider, job_type, status, cursor, retry_count, next_retry_at, source_webhook_event_id, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT (connection_id, source_webhook_event_id) WHERE source_webhook_event_id IS NOT NULL DO NOTHING`

	tag, err := s.pool.Exec(ctx, stmt,
		job.ID, job.ConnectionID, job.UserID, job.Provider, job.JobType, job.Status,
		cursor, job.RetryCount, job.NextRetryAt, job.SourceWebhookEventID,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return domain.SyncJob{}, false, err
	}
	if tag.RowsAffected() > 0 {
		return job, true, nil
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM sync_jobs WHERE connection_id=$1 AND source_webhook_event_id=$2`,
		job.ConnectionID, job.SourceWebhookEventID,
	)
	existing, err := scanJob(row)
	if err != nil {
		return domain.SyncJob{}, false, err
	}
	if existing == nil {
		return domain.SyncJob{}, false, domain.ErrJobNotFound
	}
	return *existing, false, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.SyncJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM sync_jobs WHERE job_id=$1`, id)
	return scanJob(row)
}

func (s *Store) ListDueJobs(ctx context.Context, now time.Time, limit int, provider string) ([]domain.SyncJob, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_jobs
        WHERE (status='queued' OR (status='retry_scheduled' AND (next_retry_at IS NULL OR next_retry_at <= $1)))`
	args := []any{now, limit}
	if provider != "" {
		query += ` AND provider=$3`
		args = append(args, provider)
	}
	query += ` ORDER BY created_at LIMIT $2`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]domain.SyncJob, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ClaimJob relies on the conditional WHERE status=$2 to guarantee at most one
// claimer wins; no row lock is held across the claim.
func (s *Store) ClaimJob(ctx context.Context, id string, expected domain.JobStatus, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_jobs SET status='running', started_at=$3, error_message=NULL, updated_at=$3
          WHERE job_id=$1 AND status=$2`,
		id, expected, now,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) HasRunningJob(ctx context.Context, connectionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sync_jobs WHERE connection_id=$1 AND status='running')`,
		connectionID,
	).Scan(&exists)
	return exists, err
}

func (s *Store) MarkJobSucceeded(ctx context.Context, id string, cursor map[string]any, at time.Time) error {
	body, err := marshalJSON(cursor)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_jobs SET status='succeeded', cursor=$2, error_message=NULL, next_retry_at=NULL, updated_at=$3 WHERE job_id=$1`,
		id, body, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (s *Store) ScheduleJobRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_jobs SET status='retry_scheduled', retry_count=$2, next_retry_at=$3, error_message=$4, updated_at=$3 WHERE job_id=$1`,
		id, retryCount, nextRetryAt, message,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (s *Store) MarkJobFailed(ctx context.Context, id string, retryCount int, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_jobs SET status='failed', retry_count=$2, next_retry_at=NULL, error_message=$3 WHERE job_id=$1`,
		id, retryCount, message,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (s *Store) ReclaimStaleJobs(ctx context.Context, cutoff time.Time, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_jobs SET status='retry_scheduled', retry_count=retry_count+1, next_retry_at=NULL, updated_at=$2
          WHERE status='running' AND (started_at IS NULL OR started_at <= $1)`,
		cutoff, now,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (*domain.SyncJob, error) {
	var job domain.SyncJob
	var cursor []byte
	err := row.Scan(
		&job.ID, &job.ConnectionID, &job.UserID, &job.Provider, &job.JobType,
		&job.Status, &cursor, &job.RetryCount, &job.NextRetryAt,
		&job.SourceWebhookEventID, &job.StartedAt, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := unmarshalJSON(cursor, &job.Cursor); err != nil {
		return nil, err
	}
	return &job, nil
}

// --- cursors ---

func (s *Store) GetCursor(ctx context.Context, connectionID string) (*domain.SyncCursor, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT connection_id, state, last_synced_at, last_job_id, last_webhook_event_id, last_error, updated_at
           FROM sync_cursors WHERE connection_id=$1`,
		connectionID,
	)

	var cursor domain.SyncCursor
	var state []byte
	err := row.Scan(&cursor.ConnectionID, &state, &cursor.LastSyncedAt, &cursor.LastJobID, &cursor.LastWebhookEventID, &cursor.LastError, &cursor.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := unmarshalJSON(state, &cursor.State); err != nil {
		return nil, err
	}
	return &cursor, nil
}

func (s *Store) UpsertCursor(ctx context.Context, cursor domain.SyncCursor) error {
	state, err := marshalJSON(cursor.State)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO sync_cursors
        (connection_id, state, last_synced_at, last_job_id, last_webhook_event_id, last_error, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (connection_id) DO UPDATE SET
            state = EXCLUDED.state,
            last_synced_at = COALESCE(EXCLUDED.last_synced_at, sync_cursors.last_synced_at),
            last_job_id = EXCLUDED.last_job_id,
            last_webhook_event_id = COALESCE(EXCLUDED.last_webhook_event_id, sync_cursors.last_webhook_event_id),
            last_error = EXCLUDED.last_error,
            updated_at = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, stmt,
		cursor.ConnectionID, state, cursor.LastSyncedAt, cursor.LastJobID,
		cursor.LastWebhookEventID, cursor.LastError, cursor.UpdatedAt,
	)
	return err
}

// --- imports ---

func (s *Store) UpsertImport(ctx context.Context, imp domain.ActivityImport) error {
	raw, err := marshalJSON(imp.Raw)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO activity_imports
        (import_id, user_id, provider, external_activity_id, activity_type, started_at, duration_sec, distance_m, calories, steps, avg_heart_rate, raw, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
        ON CONFLICT (user_id, provider, external_activity_id) DO UPDATE SET
            activity_type = EXCLUDED.activity_type,
            started_at = EXCLUDED.started_at,
            duration_sec = EXCLUDED.duration_sec,
            distance_m = EXCLUDED.distance_m,
            calories = EXCLUDED.calories,
            steps = EXCLUDED.steps,
            avg_heart_rate = EXCLUDED.avg_heart_rate,
            raw = EXCLUDED.raw,
            updated_at = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, stmt,
		imp.ID, imp.UserID, imp.Provider, imp.ExternalActivityID, imp.ActivityType,
		imp.StartedAt, imp.DurationSec, imp.DistanceM, imp.Calories, imp.Steps,
		imp.AvgHeartRate, raw, imp.CreatedAt, imp.UpdatedAt,
	)
	return err
}

// --- outbox ---

func (s *Store) AppendOutboxEvent(ctx context.Context, eventType, aggregateType, aggregateID string, payload []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO outbox (event_type, aggregate_type, aggregate_id, payload) VALUES ($1,$2,$3,$4)`,
		eventType, aggregateType, aggregateID, payload,
	)
	return err
}

func (s *Store) ListUnpublishedOutbox(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_id, event_type, aggregate_type, aggregate_id, payload, created_at, published_at
           FROM outbox WHERE published_at IS NULL ORDER BY event_id LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.OutboxEvent, 0, limit)
	for rows.Next() {
		var event domain.OutboxEvent
		if err := rows.Scan(&event.ID, &event.EventType, &event.AggregateType, &event.AggregateID, &event.Payload, &event.CreatedAt, &event.PublishedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *Store) MarkOutboxPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET published_at=$2 WHERE event_id = ANY($1)`, ids, at)
	return err
}

// --- helpers ---

func marshalJSON(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(raw []byte, dst *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
