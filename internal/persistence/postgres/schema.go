package postgres

// Schema contains the DDL for all tables owned by the sync pipeline.
// device_connections is created here for local dev but is written to by the
// connections service; the pipeline only updates last_synced_at/last_error.
const Schema = `
CREATE TABLE IF NOT EXISTS webhook_events (
    event_id          UUID PRIMARY KEY,
    provider          TEXT NOT NULL,
    provider_event_id TEXT NOT NULL,
    payload_hash      TEXT NOT NULL,
    event_type        TEXT NOT NULL,
    payload           JSONB,
    status            TEXT NOT NULL DEFAULT 'pending',
    received_at       TIMESTAMPTZ NOT NULL,
    processed_at      TIMESTAMPTZ,
    error_message     TEXT,
    retry_count       INT NOT NULL DEFAULT 0,
    next_retry_at     TIMESTAMPTZ,
    UNIQUE (provider, provider_event_id),
    UNIQUE (provider, payload_hash)
);

CREATE INDEX IF NOT EXISTS idx_webhook_events_pending
    ON webhook_events (provider, received_at) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS device_connections (
    connection_id    TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL,
    provider         TEXT NOT NULL,
    status           TEXT NOT NULL,
    provider_user_id TEXT,
    last_synced_at   TIMESTAMPTZ,
    last_error       TEXT
);

CREATE INDEX IF NOT EXISTS idx_device_connections_user
    ON device_connections (provider, user_id);
CREATE INDEX IF NOT EXISTS idx_device_connections_provider_user
    ON device_connections (provider, provider_user_id);

CREATE TABLE IF NOT EXISTS sync_jobs (
    job_id                  UUID PRIMARY KEY,
    connection_id           TEXT NOT NULL,
    user_id                 TEXT NOT NULL,
    provider                TEXT NOT NULL,
    job_type                TEXT NOT NULL,
    status                  TEXT NOT NULL DEFAULT 'queued',
    cursor                  JSONB,
    retry_count             INT NOT NULL DEFAULT 0,
    next_retry_at           TIMESTAMPTZ,
    source_webhook_event_id UUID,
    started_at              TIMESTAMPTZ,
    error_message           TEXT,
    created_at              TIMESTAMPTZ NOT NULL,
    updated_at              TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_jobs_source_event
    ON sync_jobs (connection_id, source_webhook_event_id)
    WHERE source_webhook_event_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_sync_jobs_due
    ON sync_jobs (created_at) WHERE status IN ('queued', 'retry_scheduled');

CREATE TABLE IF NOT EXISTS sync_cursors (
    connection_id         TEXT PRIMARY KEY,
    state                 JSONB,
    last_synced_at        TIMESTAMPTZ,
    last_job_id           UUID,
    last_webhook_event_id UUID,
    last_error            TEXT,
    updated_at            TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS activity_imports (
    import_id            UUID NOT NULL,
    user_id              TEXT NOT NULL,
    provider             TEXT NOT NULL,
    external_activity_id TEXT NOT NULL,
    activity_type        TEXT,
    started_at           TIMESTAMPTZ,
    duration_sec         INT,
    distance_m           INT,
    calories             INT,
    steps                INT,
    avg_heart_rate       INT,
    raw                  JSONB,
    created_at           TIMESTAMPTZ NOT NULL,
    updated_at           TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, provider, external_activity_id)
);

CREATE TABLE IF NOT EXISTS outbox (
    event_id       BIGSERIAL PRIMARY KEY,
    event_type     TEXT NOT NULL,
    aggregate_type TEXT NOT NULL,
    aggregate_id   TEXT NOT NULL,
    payload        JSONB NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    published_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_unpublished
    ON outbox (event_id) WHERE published_at IS NULL;
`
