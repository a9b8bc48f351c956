package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema contains all SQL statements for creating tables and indexes.
const Schema = `
-- Append-only log of provider payloads. Only status/processed_at are ever
-- updated; payloads are never mutated and rows are never deleted.
CREATE TABLE IF NOT EXISTS raw_events (
    event_id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    provider_user_id TEXT NOT NULL DEFAULT '',
    event_type TEXT NOT NULL DEFAULT '',
    dedup_key TEXT,
    payload JSONB NOT NULL,
    parse_error BOOLEAN NOT NULL DEFAULT FALSE,
    parse_detail TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    error_detail TEXT,
    received_at TIMESTAMPTZ NOT NULL,
    processed_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS raw_events_dedup
    ON raw_events (provider, dedup_key)
    WHERE dedup_key IS NOT NULL AND status <> 'duplicate';
CREATE INDEX IF NOT EXISTS raw_events_status ON raw_events (status, received_at);
CREATE INDEX IF NOT EXISTS raw_events_user ON raw_events (user_id, received_at);

CREATE TABLE IF NOT EXISTS raw_event_warnings (
    warning_id BIGSERIAL PRIMARY KEY,
    event_id UUID NOT NULL REFERENCES raw_events(event_id),
    field TEXT NOT NULL,
    detail TEXT NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL
);

-- One row per (user, date, metric_type, source) candidate. Insert-only; the
-- reconciler flips the winner flag, nothing is deleted.
CREATE TABLE IF NOT EXISTS health_metrics (
    metric_id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    date DATE NOT NULL,
    metric_type TEXT NOT NULL,
    value DOUBLE PRECISION NOT NULL,
    unit TEXT NOT NULL,
    source TEXT NOT NULL,
    source_priority INT NOT NULL,
    quality DOUBLE PRECISION NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL,
    raw_event_id UUID NOT NULL REFERENCES raw_events(event_id),
    winner BOOLEAN NOT NULL DEFAULT FALSE,
    UNIQUE (raw_event_id, metric_type, recorded_at)
);

CREATE INDEX IF NOT EXISTS health_metrics_key ON health_metrics (user_id, date, metric_type);
CREATE INDEX IF NOT EXISTS health_metrics_winner ON health_metrics (user_id, date) WHERE winner;

CREATE TABLE IF NOT EXISTS sleep_sessions (
    session_id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    date DATE NOT NULL,
    start_at TIMESTAMPTZ NOT NULL,
    end_at TIMESTAMPTZ NOT NULL,
    source TEXT NOT NULL,
    source_priority INT NOT NULL,
    quality DOUBLE PRECISION NOT NULL,
    metrics JSONB,
    raw_event_id UUID NOT NULL REFERENCES raw_events(event_id),
    resolved BOOLEAN NOT NULL DEFAULT TRUE,
    suppressed_by UUID
);

CREATE INDEX IF NOT EXISTS sleep_sessions_key ON sleep_sessions (user_id, date);

CREATE TABLE IF NOT EXISTS activity_sessions (
    session_id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    date DATE NOT NULL,
    start_at TIMESTAMPTZ NOT NULL,
    end_at TIMESTAMPTZ NOT NULL,
    source TEXT NOT NULL,
    source_priority INT NOT NULL,
    quality DOUBLE PRECISION NOT NULL,
    metrics JSONB,
    raw_event_id UUID NOT NULL REFERENCES raw_events(event_id),
    resolved BOOLEAN NOT NULL DEFAULT TRUE,
    suppressed_by UUID
);

CREATE INDEX IF NOT EXISTS activity_sessions_key ON activity_sessions (user_id, date);

-- Projection cache over resolved metrics/sessions; replaced wholesale.
CREATE TABLE IF NOT EXISTS daily_summaries (
    user_id TEXT NOT NULL,
    date DATE NOT NULL,
    resting_hr DOUBLE PRECISION,
    hrv_ms DOUBLE PRECISION,
    steps DOUBLE PRECISION,
    recovery_score DOUBLE PRECISION,
    sleep_score DOUBLE PRECISION,
    readiness_score DOUBLE PRECISION,
    respiratory_rate DOUBLE PRECISION,
    calories_out DOUBLE PRECISION,
    body_temp_delta_c DOUBLE PRECISION,
    sleep_duration_min DOUBLE PRECISION,
    active_minutes DOUBLE PRECISION,
    sleep_sessions INT NOT NULL DEFAULT 0,
    activity_sessions INT NOT NULL DEFAULT 0,
    sources JSONB,
    computed_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, date)
);

CREATE TABLE IF NOT EXISTS provider_connections (
    user_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    provider_user_id TEXT NOT NULL,
    access_token TEXT NOT NULL DEFAULT '',
    refresh_token TEXT NOT NULL DEFAULT '',
    scopes TEXT[] NOT NULL DEFAULT '{}',
    sync_status TEXT NOT NULL DEFAULT 'active',
    consecutive_failures INT NOT NULL DEFAULT 0,
    last_sync_at TIMESTAMPTZ,
    last_error TEXT,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, provider)
);

CREATE UNIQUE INDEX IF NOT EXISTS provider_connections_native
    ON provider_connections (provider, provider_user_id);

-- (user, date) keys awaiting re-reconciliation.
CREATE TABLE IF NOT EXISTS dirty_keys (
    user_id TEXT NOT NULL,
    date DATE NOT NULL,
    marked_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    claimed_at TIMESTAMPTZ,
    PRIMARY KEY (user_id, date)
);

CREATE TABLE IF NOT EXISTS outbox (
    event_id BIGSERIAL PRIMARY KEY,
    aggregate_type TEXT NOT NULL,
    aggregate_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    topic TEXT NOT NULL,
    schema_subject TEXT NOT NULL,
    partition_key TEXT NOT NULL,
    payload JSONB NOT NULL,
    dedupe_key TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    claimed_at TIMESTAMPTZ,
    published_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS outbox_unpublished ON outbox (event_id) WHERE published_at IS NULL;

CREATE TABLE IF NOT EXISTS outbox_dlq (
    dlq_id BIGSERIAL PRIMARY KEY,
    event_id BIGINT NOT NULL,
    event_type TEXT NOT NULL,
    topic TEXT NOT NULL,
    payload JSONB NOT NULL,
    reason TEXT NOT NULL,
    aggregate_type TEXT NOT NULL,
    aggregate_id TEXT NOT NULL,
    schema_subject TEXT NOT NULL,
    partition_key TEXT NOT NULL,
    retry_count INT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_attempt_at TIMESTAMPTZ,
    next_retry_at TIMESTAMPTZ,
    quarantined_at TIMESTAMPTZ,
    quarantine_reason TEXT
);
`

// Migrate applies the schema. Statements are idempotent, so running it at
// startup from every binary is safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
