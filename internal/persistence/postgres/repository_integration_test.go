//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/healthsync/internal/domain"
)

func setupRepository(t *testing.T) (*Repository, context.Context) {
	t.Helper()
	ctx := context.Background()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("healthsync"),
		postgrescontainer.WithUsername("healthsync"),
		postgrescontainer.WithPassword("healthsync"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	require.NoError(t, Migrate(ctx, pool))
	return NewRepository(pool), ctx
}

func TestRawEventDedupReturnsOriginalID(t *testing.T) {
	repo, ctx := setupRepository(t)

	first := domain.RawEvent{
		ID:         uuid.NewString(),
		UserID:     "user-1",
		Provider:   domain.ProviderWhoop,
		EventType:  "recovery.updated",
		DedupKey:   "whoop:wh-1",
		Payload:    []byte(`{"a":1}`),
		Status:     domain.EventStatusPending,
		ReceivedAt: time.Now().UTC(),
	}
	id, duplicate, err := repo.InsertRawEvent(ctx, first)
	require.NoError(t, err)
	require.False(t, duplicate)
	require.Equal(t, first.ID, id)

	redelivery := first
	redelivery.ID = uuid.NewString()
	id, duplicate, err = repo.InsertRawEvent(ctx, redelivery)
	require.NoError(t, err)
	require.True(t, duplicate)
	require.Equal(t, first.ID, id, "duplicate must resolve to the original event")
}

func TestReconciliationRoundTrip(t *testing.T) {
	repo, ctx := setupRepository(t)
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	ev := domain.RawEvent{
		ID:         uuid.NewString(),
		UserID:     "user-1",
		Provider:   domain.ProviderWhoop,
		EventType:  "recovery.updated",
		Payload:    []byte(`{}`),
		Status:     domain.EventStatusPending,
		ReceivedAt: time.Now().UTC(),
	}
	_, _, err := repo.InsertRawEvent(ctx, ev)
	require.NoError(t, err)

	require.NoError(t, repo.InsertCandidates(ctx, []domain.MetricCandidate{{
		UserID:     "user-1",
		Date:       day,
		MetricType: domain.MetricRestingHR,
		Value:      52,
		Unit:       "bpm",
		Source:     domain.ProviderWhoop,
		Quality:    0.9,
		RecordedAt: day.Add(7 * time.Hour),
		RawEventID: ev.ID,
	}}))

	// Re-inserting the same candidate is a no-op under replay.
	require.NoError(t, repo.InsertCandidates(ctx, []domain.MetricCandidate{{
		UserID:     "user-1",
		Date:       day,
		MetricType: domain.MetricRestingHR,
		Value:      52,
		Unit:       "bpm",
		Source:     domain.ProviderWhoop,
		Quality:    0.9,
		RecordedAt: day.Add(7 * time.Hour),
		RawEventID: ev.ID,
	}}))

	candidates, err := repo.CandidatesForDay(ctx, "user-1", day)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	require.NoError(t, repo.SetMetricWinners(ctx, "user-1", day, []int64{candidates[0].ID}))

	metrics, err := repo.ResolvedMetricsRange(ctx, "user-1", domain.MetricRestingHR, day, day)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	require.Equal(t, 52.0, metrics[0].Value)

	hr := 52.0
	require.NoError(t, repo.UpsertSummary(ctx, domain.DailySummary{
		UserID:     "user-1",
		Date:       day,
		RestingHR:  &hr,
		Sources:    map[domain.MetricType]domain.Provider{domain.MetricRestingHR: domain.ProviderWhoop},
		ComputedAt: time.Now().UTC(),
	}))

	summaries, err := repo.SummariesRange(ctx, "user-1", day, day)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.NotNil(t, summaries[0].RestingHR)
	require.Equal(t, 52.0, *summaries[0].RestingHR)
}

func TestDirtyKeyClaimLifecycle(t *testing.T) {
	repo, ctx := setupRepository(t)
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.MarkDirty(ctx, "user-1", day))
	require.NoError(t, repo.MarkDirty(ctx, "user-1", day))

	keys, err := repo.ClaimDirtyKeys(ctx, 10, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, "user-1", keys[0].UserID)

	// Claimed keys are invisible to a second claimant inside the timeout.
	again, err := repo.ClaimDirtyKeys(ctx, 10, 5*time.Minute)
	require.NoError(t, err)
	require.Empty(t, again)

	require.NoError(t, repo.ClearDirty(ctx, keys[0]))

	empty, err := repo.ClaimDirtyKeys(ctx, 10, 5*time.Minute)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestReleaseDirtyMakesKeyClaimableAgain(t *testing.T) {
	repo, ctx := setupRepository(t)
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.MarkDirty(ctx, "user-1", day))

	keys, err := repo.ClaimDirtyKeys(ctx, 10, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	require.NoError(t, repo.ReleaseDirty(ctx, keys[0]))

	keys, err = repo.ClaimDirtyKeys(ctx, 10, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, keys, 1)
}

func TestConnectionSyncBookkeeping(t *testing.T) {
	repo, ctx := setupRepository(t)

	conn := domain.ProviderConnection{
		UserID:         "user-1",
		Provider:       domain.ProviderGarmin,
		ProviderUserID: "g-1",
		SyncStatus:     domain.SyncStatusActive,
	}
	require.NoError(t, repo.UpsertConnection(ctx, conn))

	// Failures below the threshold keep the connection syncable.
	require.NoError(t, repo.RecordSyncFailure(ctx, "user-1", domain.ProviderGarmin, "boom", 3))
	require.NoError(t, repo.RecordSyncFailure(ctx, "user-1", domain.ProviderGarmin, "boom", 3))

	got, err := repo.Connection(ctx, "user-1", domain.ProviderGarmin)
	require.NoError(t, err)
	require.Equal(t, 2, got.ConsecutiveFailures)
	require.True(t, got.Syncable())

	// Crossing the threshold flips the status to error.
	require.NoError(t, repo.RecordSyncFailure(ctx, "user-1", domain.ProviderGarmin, "boom", 3))
	got, err = repo.Connection(ctx, "user-1", domain.ProviderGarmin)
	require.NoError(t, err)
	require.Equal(t, domain.SyncStatusError, got.SyncStatus)

	// A success resets the failure counter and status.
	require.NoError(t, repo.RecordSyncSuccess(ctx, "user-1", domain.ProviderGarmin, time.Now().UTC()))
	got, err = repo.Connection(ctx, "user-1", domain.ProviderGarmin)
	require.NoError(t, err)
	require.Zero(t, got.ConsecutiveFailures)
	require.Equal(t, domain.SyncStatusActive, got.SyncStatus)
	require.NotNil(t, got.LastSyncAt)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
