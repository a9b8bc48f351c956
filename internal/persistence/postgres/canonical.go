package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/healthsync/internal/domain"
)

// InsertCandidates appends metric candidates. Conflicts on the replay key
// (raw_event_id, metric_type, recorded_at) are ignored so re-normalizing the
// same event during backfill is a no-op.
func (r *Repository) InsertCandidates(ctx context.Context, candidates []domain.MetricCandidate) error {
	const stmt = `INSERT INTO health_metrics (user_id, date, metric_type, value, unit, source, source_priority, quality, recorded_at, raw_event_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (raw_event_id, metric_type, recorded_at) DO NOTHING`
	for _, c := range candidates {
		if _, err := r.pool.Exec(ctx, stmt,
			c.UserID, c.Date, string(c.MetricType), c.Value, c.Unit,
			string(c.Source), c.SourcePriority, c.Quality, c.RecordedAt, c.RawEventID); err != nil {
			return err
		}
	}
	return nil
}

func sessionTable(kind domain.SessionKind) (string, error) {
	switch kind {
	case domain.SessionSleep:
		return "sleep_sessions", nil
	case domain.SessionActivity:
		return "activity_sessions", nil
	default:
		return "", fmt.Errorf("unknown session kind %q", kind)
	}
}

// InsertSessions appends session candidates. Session ids are derived
// deterministically from the raw event, so replays conflict and are ignored.
func (r *Repository) InsertSessions(ctx context.Context, sessions []domain.Session) error {
	for _, s := range sessions {
		table, err := sessionTable(s.Kind)
		if err != nil {
			return err
		}
		var metrics any
		if len(s.Metrics) > 0 {
			metrics, err = json.Marshal(s.Metrics)
			if err != nil {
				return err
			}
		}
		stmt := fmt.Sprintf(`INSERT INTO %s (session_id, user_id, date, start_at, end_at, source, source_priority, quality, metrics, raw_event_id)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
            ON CONFLICT (session_id) DO NOTHING`, table)
		if _, err := r.pool.Exec(ctx, stmt,
			s.ID, s.UserID, s.Date, s.StartAt, s.EndAt,
			string(s.Source), s.SourcePriority, s.Quality, metrics, s.RawEventID); err != nil {
			return err
		}
	}
	return nil
}

// CandidatesForDay reads the full candidate set for a (user, date) key.
// Reconciliation always re-ranks this full set rather than comparing a new
// value against the current winner.
func (r *Repository) CandidatesForDay(ctx context.Context, userID string, date time.Time) ([]domain.MetricCandidate, error) {
	const query = `SELECT metric_id, user_id, date, metric_type, value, unit, source, source_priority, quality, recorded_at, raw_event_id, winner
        FROM health_metrics WHERE user_id=$1 AND date=$2 ORDER BY metric_id`

	rows, err := r.pool.Query(ctx, query, userID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MetricCandidate
	for rows.Next() {
		var c domain.MetricCandidate
		var metricType, source string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Date, &metricType, &c.Value, &c.Unit, &source, &c.SourcePriority, &c.Quality, &c.RecordedAt, &c.RawEventID, &c.Winner); err != nil {
			return nil, err
		}
		c.MetricType = domain.MetricType(metricType)
		c.Source = domain.Provider(source)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SessionsForDay reads every sleep and activity session for a (user, date) key.
func (r *Repository) SessionsForDay(ctx context.Context, userID string, date time.Time) ([]domain.Session, error) {
	var out []domain.Session
	for _, kind := range []domain.SessionKind{domain.SessionSleep, domain.SessionActivity} {
		table, _ := sessionTable(kind)
		query := fmt.Sprintf(`SELECT session_id, user_id, date, start_at, end_at, source, source_priority, quality, metrics, raw_event_id, resolved, suppressed_by
            FROM %s WHERE user_id=$1 AND date=$2 ORDER BY start_at, session_id`, table)

		rows, err := r.pool.Query(ctx, query, userID, date)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var s domain.Session
			var source string
			var metrics []byte
			if err := rows.Scan(&s.ID, &s.UserID, &s.Date, &s.StartAt, &s.EndAt, &source, &s.SourcePriority, &s.Quality, &metrics, &s.RawEventID, &s.Resolved, &s.SuppressedBy); err != nil {
				rows.Close()
				return nil, err
			}
			s.Kind = kind
			s.Source = domain.Provider(source)
			if len(metrics) > 0 {
				if err := json.Unmarshal(metrics, &s.Metrics); err != nil {
					rows.Close()
					return nil, err
				}
			}
			out = append(out, s)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SetMetricWinners flips winner flags for a (user, date) key in one
// transaction: clear all, then mark the supplied candidate ids.
func (r *Repository) SetMetricWinners(ctx context.Context, userID string, date time.Time, winnerIDs []int64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx,
		`UPDATE health_metrics SET winner=FALSE WHERE user_id=$1 AND date=$2 AND winner`,
		userID, date); err != nil {
		return err
	}
	if len(winnerIDs) > 0 {
		if _, err = tx.Exec(ctx,
			`UPDATE health_metrics SET winner=TRUE WHERE metric_id = ANY($1)`,
			winnerIDs); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ApplySessionResolution stores the dominance outcome for every session of a
// (user, date) key.
func (r *Repository) ApplySessionResolution(ctx context.Context, sessions []domain.Session) error {
	for _, s := range sessions {
		table, err := sessionTable(s.Kind)
		if err != nil {
			return err
		}
		stmt := fmt.Sprintf(`UPDATE %s SET resolved=$2, suppressed_by=$3 WHERE session_id=$1`, table)
		if _, err := r.pool.Exec(ctx, stmt, s.ID, s.Resolved, s.SuppressedBy); err != nil {
			return err
		}
	}
	return nil
}

// UpsertSummary replaces the daily summary wholesale.
func (r *Repository) UpsertSummary(ctx context.Context, s domain.DailySummary) error {
	sources, err := json.Marshal(s.Sources)
	if err != nil {
		return err
	}
	const stmt = `INSERT INTO daily_summaries (user_id, date, resting_hr, hrv_ms, steps, recovery_score, sleep_score, readiness_score, respiratory_rate, calories_out, body_temp_delta_c, sleep_duration_min, active_minutes, sleep_sessions, activity_sessions, sources, computed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
        ON CONFLICT (user_id, date) DO UPDATE SET
            resting_hr=EXCLUDED.resting_hr,
            hrv_ms=EXCLUDED.hrv_ms,
            steps=EXCLUDED.steps,
            recovery_score=EXCLUDED.recovery_score,
            sleep_score=EXCLUDED.sleep_score,
            readiness_score=EXCLUDED.readiness_score,
            respiratory_rate=EXCLUDED.respiratory_rate,
            calories_out=EXCLUDED.calories_out,
            body_temp_delta_c=EXCLUDED.body_temp_delta_c,
            sleep_duration_min=EXCLUDED.sleep_duration_min,
            active_minutes=EXCLUDED.active_minutes,
            sleep_sessions=EXCLUDED.sleep_sessions,
            activity_sessions=EXCLUDED.activity_sessions,
            sources=EXCLUDED.sources,
            computed_at=EXCLUDED.computed_at`
	_, err = r.pool.Exec(ctx, stmt,
		s.UserID, s.Date, s.RestingHR, s.HRVMillis, s.Steps, s.RecoveryScore, s.SleepScore,
		s.ReadinessScore, s.RespiratoryRate, s.CaloriesOut, s.BodyTempDeltaC,
		s.SleepDurationMin, s.ActiveMinutes, s.SleepSessions, s.ActivitySessions, sources, s.ComputedAt)
	return err
}

// MarkDirty flags a (user, date) key for the scheduler. Re-marking a claimed
// key clears the claim so in-flight work does not swallow the new data.
func (r *Repository) MarkDirty(ctx context.Context, userID string, date time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO dirty_keys (user_id, date) VALUES ($1,$2)
         ON CONFLICT (user_id, date) DO UPDATE SET marked_at=NOW(), claimed_at=NULL`,
		userID, date)
	return err
}

// EnqueueBackfill marks every day in the inclusive range dirty.
func (r *Repository) EnqueueBackfill(ctx context.Context, userID string, from, to time.Time) (int, error) {
	if to.Before(from) {
		return 0, errors.New("backfill range end precedes start")
	}
	count := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if err := r.MarkDirty(ctx, userID, d); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ClaimDirtyKeys fetches and claims a batch of dirty keys for processing.
// SKIP LOCKED keeps concurrent scheduler passes off the same rows; stale
// claims are reclaimed after claimTimeout.
func (r *Repository) ClaimDirtyKeys(ctx context.Context, limit int, claimTimeout time.Duration) ([]domain.DayKey, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const query = `SELECT user_id, date FROM dirty_keys
        WHERE claimed_at IS NULL OR claimed_at < NOW() - $2::interval
        ORDER BY marked_at
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, limit, claimTimeout.String())
	if err != nil {
		return nil, err
	}

	var keys []domain.DayKey
	for rows.Next() {
		var k domain.DayKey
		if err = rows.Scan(&k.UserID, &k.Date); err != nil {
			rows.Close()
			return nil, err
		}
		keys = append(keys, k)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	if len(keys) == 0 {
		tx.Rollback(ctx)
		return nil, nil
	}

	for _, k := range keys {
		if _, err = tx.Exec(ctx,
			`UPDATE dirty_keys SET claimed_at=NOW() WHERE user_id=$1 AND date=$2`,
			k.UserID, k.Date); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return keys, nil
}

// ClearDirty removes a processed key unless new data re-marked it while the
// pass was running.
func (r *Repository) ClearDirty(ctx context.Context, key domain.DayKey) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM dirty_keys WHERE user_id=$1 AND date=$2 AND claimed_at IS NOT NULL AND marked_at <= claimed_at`,
		key.UserID, key.Date)
	return err
}

// ReleaseDirty returns a claimed key to the queue after a failed pass.
func (r *Repository) ReleaseDirty(ctx context.Context, key domain.DayKey) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE dirty_keys SET claimed_at=NULL WHERE user_id=$1 AND date=$2`,
		key.UserID, key.Date)
	return err
}

// WithDayLock runs fn while holding the advisory lock for a (user, date)
// key, guaranteeing a single writer per key across scheduler instances. The
// boolean reports whether the lock was acquired; false means another pass
// owns the key and the caller should skip it.
func (r *Repository) WithDayLock(ctx context.Context, key domain.DayKey, fn func(context.Context) error) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Release()

	lockKey := fmt.Sprintf("%s|%s", key.UserID, key.Date.Format("2006-01-02"))
	var acquired bool
	if err := conn.QueryRow(ctx,
		`SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, lockKey).Scan(&acquired); err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	defer conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, lockKey)

	return true, fn(ctx)
}

// SummariesRange returns summaries for the inclusive date range.
func (r *Repository) SummariesRange(ctx context.Context, userID string, from, to time.Time) ([]domain.DailySummary, error) {
	const query = `SELECT user_id, date, resting_hr, hrv_ms, steps, recovery_score, sleep_score, readiness_score, respiratory_rate, calories_out, body_temp_delta_c, sleep_duration_min, active_minutes, sleep_sessions, activity_sessions, sources, computed_at
        FROM daily_summaries WHERE user_id=$1 AND date BETWEEN $2 AND $3 ORDER BY date`

	rows, err := r.pool.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DailySummary
	for rows.Next() {
		var s domain.DailySummary
		var sources []byte
		if err := rows.Scan(&s.UserID, &s.Date, &s.RestingHR, &s.HRVMillis, &s.Steps, &s.RecoveryScore, &s.SleepScore, &s.ReadinessScore, &s.RespiratoryRate, &s.CaloriesOut, &s.BodyTempDeltaC, &s.SleepDurationMin, &s.ActiveMinutes, &s.SleepSessions, &s.ActivitySessions, &sources, &s.ComputedAt); err != nil {
			return nil, err
		}
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &s.Sources); err != nil {
				return nil, err
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ResolvedMetricsRange returns winning metric rows for the inclusive range.
func (r *Repository) ResolvedMetricsRange(ctx context.Context, userID string, metricType domain.MetricType, from, to time.Time) ([]domain.ResolvedMetric, error) {
	const query = `SELECT user_id, date, metric_type, value, unit, source, quality, recorded_at
        FROM health_metrics
       WHERE user_id=$1 AND metric_type=$2 AND date BETWEEN $3 AND $4 AND winner
       ORDER BY date`

	rows, err := r.pool.Query(ctx, query, userID, string(metricType), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ResolvedMetric
	for rows.Next() {
		m, err := scanResolvedMetric(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LatestMetric returns the single resolved value and winning source for a
// (user, metric type, date) key, or nil when nothing has resolved yet.
func (r *Repository) LatestMetric(ctx context.Context, userID string, metricType domain.MetricType, date time.Time) (*domain.ResolvedMetric, error) {
	const query = `SELECT user_id, date, metric_type, value, unit, source, quality, recorded_at
        FROM health_metrics
       WHERE user_id=$1 AND metric_type=$2 AND date=$3 AND winner`

	rows, err := r.pool.Query(ctx, query, userID, string(metricType), date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	m, err := scanResolvedMetric(rows)
	if err != nil {
		return nil, err
	}
	return &m, rows.Err()
}

func scanResolvedMetric(rows pgx.Rows) (domain.ResolvedMetric, error) {
	var m domain.ResolvedMetric
	var metricType, source string
	if err := rows.Scan(&m.UserID, &m.Date, &metricType, &m.Value, &m.Unit, &source, &m.Quality, &m.RecordedAt); err != nil {
		return domain.ResolvedMetric{}, err
	}
	m.MetricType = domain.MetricType(metricType)
	m.Source = domain.Provider(source)
	return m, nil
}
