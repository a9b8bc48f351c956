package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/observability"
)

// Repository provides Postgres-backed persistence for the ingestion and
// reconciliation pipeline.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ConnectionByProviderUser looks up the connection owning a provider-native user id.
func (r *Repository) ConnectionByProviderUser(ctx context.Context, provider domain.Provider, providerUserID string) (*domain.ProviderConnection, error) {
	if providerUserID == "" {
		return nil, nil
	}
	const query = `SELECT user_id, provider, provider_user_id, access_token, refresh_token, scopes, sync_status, consecutive_failures, last_sync_at, last_error, updated_at
        FROM provider_connections WHERE provider=$1 AND provider_user_id=$2`
	return r.scanConnection(ctx, query, string(provider), providerUserID)
}

// Connection fetches the connection for a (user, provider) pair.
func (r *Repository) Connection(ctx context.Context, userID string, provider domain.Provider) (*domain.ProviderConnection, error) {
	const query = `SELECT user_id, provider, provider_user_id, access_token, refresh_token, scopes, sync_status, consecutive_failures, last_sync_at, last_error, updated_at
        FROM provider_connections WHERE user_id=$1 AND provider=$2`
	return r.scanConnection(ctx, query, userID, string(provider))
}

func (r *Repository) scanConnection(ctx context.Context, query string, args ...any) (*domain.ProviderConnection, error) {
	row := r.pool.QueryRow(ctx, query, args...)
	var conn domain.ProviderConnection
	var provider, status string
	if err := row.Scan(&conn.UserID, &provider, &conn.ProviderUserID, &conn.AccessToken, &conn.RefreshToken, &conn.Scopes, &status, &conn.ConsecutiveFailures, &conn.LastSyncAt, &conn.LastError, &conn.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	conn.Provider = domain.Provider(provider)
	conn.SyncStatus = domain.SyncStatus(status)
	return &conn, nil
}

// UpsertConnection writes a connection row. Token material is owned by the
// external OAuth flow; this engine only touches sync state.
func (r *Repository) UpsertConnection(ctx context.Context, conn domain.ProviderConnection) error {
	const stmt = `INSERT INTO provider_connections (user_id, provider, provider_user_id, access_token, refresh_token, scopes, sync_status, consecutive_failures, last_sync_at, last_error, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
        ON CONFLICT (user_id, provider) DO UPDATE SET
            provider_user_id=EXCLUDED.provider_user_id,
            access_token=EXCLUDED.access_token,
            refresh_token=EXCLUDED.refresh_token,
            scopes=EXCLUDED.scopes,
            sync_status=EXCLUDED.sync_status,
            updated_at=NOW()`
	_, err := r.pool.Exec(ctx, stmt,
		conn.UserID, string(conn.Provider), conn.ProviderUserID, conn.AccessToken, conn.RefreshToken,
		conn.Scopes, string(conn.SyncStatus), conn.ConsecutiveFailures, conn.LastSyncAt, conn.LastError)
	return err
}

const insertRawEventStmt = `INSERT INTO raw_events (event_id, user_id, provider, provider_user_id, event_type, dedup_key, payload, parse_error, parse_detail, status, received_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (provider, dedup_key) WHERE dedup_key IS NOT NULL AND status <> 'duplicate' DO NOTHING`

// InsertRawEvent appends a RawEvent to the immutable log and records the
// outbox notification in the same transaction. When the dedup key already
// exists the new arrival is stored with status duplicate, no outbox row is
// written, and the original event id is returned.
func (r *Repository) InsertRawEvent(ctx context.Context, ev domain.RawEvent) (string, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, insertRawEventStmt,
		ev.ID, ev.UserID, string(ev.Provider), ev.ProviderUserID, ev.EventType,
		nullIfEmpty(ev.DedupKey), ev.Payload, ev.ParseError, ev.ParseDetail,
		string(domain.EventStatusPending), ev.ReceivedAt)
	if err != nil {
		return "", false, err
	}

	if tag.RowsAffected() == 0 {
		// Dedup collision: keep the arrival for audit, point at the original.
		var originalID string
		if err = tx.QueryRow(ctx,
			`SELECT event_id FROM raw_events WHERE provider=$1 AND dedup_key=$2 AND status <> 'duplicate'`,
			string(ev.Provider), ev.DedupKey).Scan(&originalID); err != nil {
			return "", false, err
		}
		if _, err = tx.Exec(ctx, insertRawEventStmt,
			ev.ID, ev.UserID, string(ev.Provider), ev.ProviderUserID, ev.EventType,
			nil, ev.Payload, ev.ParseError, ev.ParseDetail,
			string(domain.EventStatusDuplicate), ev.ReceivedAt); err != nil {
			return "", false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return "", false, err
		}
		observability.RecordDuplicateEvent(string(ev.Provider))
		return originalID, true, nil
	}

	if err = insertOutbox(ctx, tx, "raw.event.received", ev.UserID, ev.ID, rawEventReceived{
		EventID:    ev.ID,
		UserID:     ev.UserID,
		Provider:   string(ev.Provider),
		EventType:  ev.EventType,
		ParseError: ev.ParseError,
		ReceivedAt: ev.ReceivedAt,
	}); err != nil {
		return "", false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return "", false, err
	}
	observability.RecordEventIngested(string(ev.Provider), ev.ReceivedAt)
	return ev.ID, false, nil
}

// rawEventReceived is the outbox payload notifying the normalizer stage.
type rawEventReceived struct {
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	Provider   string    `json:"provider"`
	EventType  string    `json:"event_type"`
	ParseError bool      `json:"parse_error"`
	ReceivedAt time.Time `json:"received_at"`
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	"raw.event.received": {
		Topic:         "health_raw_events",
		SchemaSubject: "health_raw_events-value",
	},
}

func insertOutbox(ctx context.Context, tx pgx.Tx, eventType, partitionKey, aggregateID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta := eventCatalog[eventType]
	if meta.Topic == "" {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	dedupeKey := fmt.Sprintf("%s:%s", aggregateID, eventType)

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = tx.Exec(ctx, stmt, "raw_event", aggregateID, eventType, meta.Topic, meta.SchemaSubject, partitionKey, body, dedupeKey)
	return err
}

// RawEventByID loads a single raw event.
func (r *Repository) RawEventByID(ctx context.Context, id string) (*domain.RawEvent, error) {
	const query = `SELECT event_id, user_id, provider, provider_user_id, event_type, COALESCE(dedup_key,''), payload, parse_error, parse_detail, status, error_detail, received_at, processed_at
        FROM raw_events WHERE event_id=$1`
	row := r.pool.QueryRow(ctx, query, id)
	var ev domain.RawEvent
	var provider, status string
	if err := row.Scan(&ev.ID, &ev.UserID, &provider, &ev.ProviderUserID, &ev.EventType, &ev.DedupKey, &ev.Payload, &ev.ParseError, &ev.ParseDetail, &status, &ev.ErrorDetail, &ev.ReceivedAt, &ev.ProcessedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	ev.Provider = domain.Provider(provider)
	ev.Status = domain.EventStatus(status)
	return &ev, nil
}

// MarkEventProcessed transitions a raw event to processed.
func (r *Repository) MarkEventProcessed(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE raw_events SET status=$1, processed_at=NOW() WHERE event_id=$2`,
		string(domain.EventStatusProcessed), id)
	return err
}

// MarkEventFailed transitions a raw event to failed with an error detail for
// offline triage. Terminal for this event only; canonical data is untouched.
func (r *Repository) MarkEventFailed(ctx context.Context, id, detail string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE raw_events SET status=$1, processed_at=NOW(), error_detail=$2 WHERE event_id=$3`,
		string(domain.EventStatusFailed), detail, id)
	return err
}

// InsertWarnings records normalization warnings against a raw event.
func (r *Repository) InsertWarnings(ctx context.Context, warnings []domain.Warning) error {
	for _, w := range warnings {
		if _, err := r.pool.Exec(ctx,
			`INSERT INTO raw_event_warnings (event_id, field, detail, recorded_at) VALUES ($1,$2,$3,$4)`,
			w.RawEventID, w.Field, w.Detail, w.RecordedAt); err != nil {
			return err
		}
	}
	return nil
}

// RecordSyncSuccess updates the connection watermark and clears the failure
// streak for the owning (user, provider) pair.
func (r *Repository) RecordSyncSuccess(ctx context.Context, userID string, provider domain.Provider, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE provider_connections
            SET last_sync_at=$3, consecutive_failures=0, last_error=NULL, updated_at=NOW(),
                sync_status=CASE WHEN sync_status='error' THEN 'active' ELSE sync_status END
          WHERE user_id=$1 AND provider=$2`,
		userID, string(provider), at)
	return err
}

// RecordSyncFailure bumps the failure streak and flips sync_status to error
// once the streak reaches the threshold.
func (r *Repository) RecordSyncFailure(ctx context.Context, userID string, provider domain.Provider, detail string, errorThreshold int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE provider_connections
            SET consecutive_failures=consecutive_failures+1, last_error=$3, updated_at=NOW(),
                sync_status=CASE WHEN consecutive_failures+1 >= $4 AND sync_status='active' THEN 'error' ELSE sync_status END
          WHERE user_id=$1 AND provider=$2`,
		userID, string(provider), detail, errorThreshold)
	return err
}

// MarkConnectionStatus sets the sync status directly, used for auth failures
// detected during pull sync.
func (r *Repository) MarkConnectionStatus(ctx context.Context, userID string, provider domain.Provider, status domain.SyncStatus, detail string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE provider_connections SET sync_status=$3, last_error=$4, updated_at=NOW() WHERE user_id=$1 AND provider=$2`,
		userID, string(provider), string(status), nullIfEmpty(detail))
	return err
}

// SyncableConnections returns connections due for a pull-sync pass.
func (r *Repository) SyncableConnections(ctx context.Context, notSyncedSince time.Time, limit int) ([]domain.ProviderConnection, error) {
	const query = `SELECT user_id, provider, provider_user_id, access_token, refresh_token, scopes, sync_status, consecutive_failures, last_sync_at, last_error, updated_at
        FROM provider_connections
       WHERE sync_status IN ('active','error') AND (last_sync_at IS NULL OR last_sync_at < $1)
       ORDER BY last_sync_at NULLS FIRST
       LIMIT $2`

	rows, err := r.pool.Query(ctx, query, notSyncedSince, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProviderConnection
	for rows.Next() {
		var conn domain.ProviderConnection
		var provider, status string
		if err := rows.Scan(&conn.UserID, &provider, &conn.ProviderUserID, &conn.AccessToken, &conn.RefreshToken, &conn.Scopes, &status, &conn.ConsecutiveFailures, &conn.LastSyncAt, &conn.LastError, &conn.UpdatedAt); err != nil {
			return nil, err
		}
		conn.Provider = domain.Provider(provider)
		conn.SyncStatus = domain.SyncStatus(status)
		out = append(out, conn)
	}
	return out, rows.Err()
}

// FailedEvents lists failed raw events for triage with cursor pagination.
func (r *Repository) FailedEvents(ctx context.Context, cursor *domain.Cursor, limit int) ([]domain.RawEvent, *domain.Cursor, error) {
	args := []any{string(domain.EventStatusFailed), limit}
	query := `SELECT event_id, user_id, provider, event_type, parse_error, parse_detail, error_detail, received_at
        FROM raw_events WHERE status=$1`
	if cursor != nil {
		query += ` AND (received_at, event_id) < ($3, $4)`
		args = append(args, cursor.ReceivedAt, cursor.ID)
	}
	query += ` ORDER BY received_at DESC, event_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.RawEvent, 0, limit)
	for rows.Next() {
		var ev domain.RawEvent
		var provider string
		if err := rows.Scan(&ev.ID, &ev.UserID, &provider, &ev.EventType, &ev.ParseError, &ev.ParseDetail, &ev.ErrorDetail, &ev.ReceivedAt); err != nil {
			return nil, nil, err
		}
		ev.Provider = domain.Provider(provider)
		ev.Status = domain.EventStatusFailed
		results = append(results, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{ReceivedAt: last.ReceivedAt, ID: last.ID}
	}
	return results, next, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
