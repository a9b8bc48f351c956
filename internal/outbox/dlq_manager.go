package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dlqEntry is an outbox_dlq row selected for a retry attempt.
type dlqEntry struct {
	ID            int64
	EventID       int64
	EventType     string
	Topic         string
	Payload       []byte
	Reason        string
	AggregateType string
	AggregateID   string
	SchemaSubject string
	PartitionKey  string
	RetryCount    int
}

// DLQManager replays dead-lettered outbox rows with capped exponential
// backoff and quarantines entries that exhaust their retries. Quarantined
// entries stay in the table until an operator requeues them.
type DLQManager struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
}

func NewDLQManager(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	return &DLQManager{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay}
}

// RunOnce attempts one batch of due entries and returns how many were
// settled. Per-entry failures are joined into the returned error so one bad
// row cannot block the rest of the batch.
func (m *DLQManager) RunOnce(ctx context.Context, batchSize int) (int, error) {
	rows, err := m.pool.Query(ctx, `SELECT dlq_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count
                    FROM outbox_dlq
                   WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
                   ORDER BY created_at
                   LIMIT $1`, batchSize)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	settled := 0
	for rows.Next() {
		var entry dlqEntry
		if scanErr := rows.Scan(&entry.ID, &entry.EventID, &entry.EventType, &entry.Topic, &entry.Payload, &entry.Reason, &entry.AggregateType, &entry.AggregateID, &entry.SchemaSubject, &entry.PartitionKey, &entry.RetryCount); scanErr != nil {
			err = errors.Join(err, scanErr)
			continue
		}
		if attemptErr := m.attempt(ctx, entry); attemptErr != nil {
			err = errors.Join(err, attemptErr)
			continue
		}
		settled++
		recordDLQProcessed(entry)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		err = errors.Join(err, rowsErr)
	}
	updateBacklogGauge(ctx, m.pool)
	return settled, err
}

// attempt settles one entry: quarantine when the retry budget is spent,
// otherwise reinsert into the outbox and drop the DLQ row, or push the next
// retry out on insert failure. Each outcome commits in its own tx.
func (m *DLQManager) attempt(ctx context.Context, entry dlqEntry) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if entry.RetryCount >= m.maxRetries {
		if _, err := tx.Exec(ctx, `UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`, "retry limit reached", entry.ID); err != nil {
			return err
		}
		recordDLQQuarantined(entry)
		return tx.Commit(ctx)
	}

	if insertErr := reinsert(ctx, tx, entry); insertErr != nil {
		delay := m.backoff(entry.RetryCount + 1)
		if _, err := tx.Exec(ctx,
			`UPDATE outbox_dlq
               SET retry_count = retry_count + 1,
                   last_attempt_at = NOW(),
                   next_retry_at = NOW() + $1::interval,
                   reason = $2
             WHERE dlq_id = $3`,
			delay, insertErr.Error(), entry.ID,
		); err != nil {
			return err
		}
		recordDLQRetry(entry)
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID); err != nil {
		return err
	}
	recordDLQRequeued(entry)
	return tx.Commit(ctx)
}

// Requeue clears the quarantine flag and zeroes the retry count so the next
// RunOnce picks the entries up immediately. An empty id list requeues every
// quarantined entry. Returns the number of rows touched.
func (m *DLQManager) Requeue(ctx context.Context, dlqIDs []int64) (int, error) {
	var stmt string
	args := []any{}
	if len(dlqIDs) == 0 {
		stmt = `UPDATE outbox_dlq
                   SET quarantined_at = NULL, quarantine_reason = NULL, retry_count = 0, next_retry_at = NOW()
                 WHERE quarantined_at IS NOT NULL`
	} else {
		stmt = `UPDATE outbox_dlq
                   SET quarantined_at = NULL, quarantine_reason = NULL, retry_count = 0, next_retry_at = NOW()
                 WHERE dlq_id = ANY($1)`
		args = append(args, dlqIDs)
	}
	tag, err := m.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// backoff doubles per attempt, capped at one hour.
func (m *DLQManager) backoff(attempt int) time.Duration {
	delay := time.Duration(1<<uint(attempt-1)) * m.baseDelay
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}

func reinsert(ctx context.Context, tx pgx.Tx, entry dlqEntry) error {
	if entry.SchemaSubject == "" {
		return fmt.Errorf("missing schema_subject for dlq entry %d", entry.ID)
	}

	_, err := tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
                   VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.AggregateType,
		entry.AggregateID,
		entry.EventType,
		entry.Topic,
		entry.SchemaSubject,
		entry.PartitionKey,
		entry.Payload,
	)
	return err
}
