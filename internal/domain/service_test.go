package domain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	provider Provider
	event    RawEvent
}

func (a fakeAdapter) Provider() Provider { return a.provider }

func (a fakeAdapter) Normalize(payload []byte, receivedAt time.Time) RawEvent {
	ev := a.event
	ev.Provider = a.provider
	ev.Payload = payload
	ev.ReceivedAt = receivedAt
	return ev
}

type fakeRepo struct {
	connections map[string]*ProviderConnection

	inserted        []RawEvent
	insertDuplicate bool
	insertID        string

	syncSuccesses int
	syncFailures  []string

	backfillFrom, backfillTo time.Time
}

func key(provider Provider, providerUserID string) string {
	return string(provider) + "/" + providerUserID
}

func (r *fakeRepo) ConnectionByProviderUser(_ context.Context, provider Provider, providerUserID string) (*ProviderConnection, error) {
	return r.connections[key(provider, providerUserID)], nil
}

func (r *fakeRepo) InsertRawEvent(_ context.Context, ev RawEvent) (string, bool, error) {
	r.inserted = append(r.inserted, ev)
	if r.insertDuplicate {
		return r.insertID, true, nil
	}
	return ev.ID, false, nil
}

func (r *fakeRepo) RecordSyncSuccess(context.Context, string, Provider, time.Time) error {
	r.syncSuccesses++
	return nil
}

func (r *fakeRepo) RecordSyncFailure(_ context.Context, _ string, _ Provider, detail string, _ int) error {
	r.syncFailures = append(r.syncFailures, detail)
	return nil
}

func (r *fakeRepo) SummariesRange(context.Context, string, time.Time, time.Time) ([]DailySummary, error) {
	return nil, nil
}

func (r *fakeRepo) ResolvedMetricsRange(context.Context, string, MetricType, time.Time, time.Time) ([]ResolvedMetric, error) {
	return nil, nil
}

func (r *fakeRepo) LatestMetric(context.Context, string, MetricType, time.Time) (*ResolvedMetric, error) {
	return nil, nil
}

func (r *fakeRepo) EnqueueBackfill(_ context.Context, _ string, from, to time.Time) (int, error) {
	r.backfillFrom, r.backfillTo = from, to
	return int(to.Sub(from).Hours()/24) + 1, nil
}

func newService(repo *fakeRepo, adapters ...Adapter) *Service {
	return NewService(repo, adapters, 3)
}

func TestIngestUnknownProvider(t *testing.T) {
	svc := newService(&fakeRepo{})

	_, err := svc.Ingest(context.Background(), ProviderWhoop, []byte(`{}`), time.Now())
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestIngestRejectsWithoutActiveConnection(t *testing.T) {
	repo := &fakeRepo{connections: map[string]*ProviderConnection{}}
	svc := newService(repo, fakeAdapter{
		provider: ProviderWhoop,
		event:    RawEvent{EventType: "recovery.updated", ProviderUserID: "9001"},
	})

	_, err := svc.Ingest(context.Background(), ProviderWhoop, []byte(`{}`), time.Now())
	require.ErrorIs(t, err, ErrNoActiveConnection)
	require.Empty(t, repo.inserted)
}

func TestIngestRejectsRevokedConnection(t *testing.T) {
	repo := &fakeRepo{connections: map[string]*ProviderConnection{
		key(ProviderWhoop, "9001"): {UserID: "user-1", Provider: ProviderWhoop, SyncStatus: SyncStatusRevoked},
	}}
	svc := newService(repo, fakeAdapter{
		provider: ProviderWhoop,
		event:    RawEvent{EventType: "recovery.updated", ProviderUserID: "9001"},
	})

	_, err := svc.Ingest(context.Background(), ProviderWhoop, []byte(`{}`), time.Now())
	require.ErrorIs(t, err, ErrNoActiveConnection)
}

func TestIngestMapsConnectionUserAndRecordsSuccess(t *testing.T) {
	repo := &fakeRepo{connections: map[string]*ProviderConnection{
		key(ProviderWhoop, "9001"): {UserID: "user-1", Provider: ProviderWhoop, SyncStatus: SyncStatusActive},
	}}
	svc := newService(repo, fakeAdapter{
		provider: ProviderWhoop,
		event:    RawEvent{EventType: "recovery.updated", ProviderUserID: "9001"},
	})

	res, err := svc.Ingest(context.Background(), ProviderWhoop, []byte(`{}`), time.Now())
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.NotEmpty(t, res.EventID)

	require.Len(t, repo.inserted, 1)
	require.Equal(t, "user-1", repo.inserted[0].UserID)
	require.Equal(t, 1, repo.syncSuccesses)
}

func TestIngestManualEntrySkipsConnectionLookup(t *testing.T) {
	repo := &fakeRepo{}
	svc := newService(repo, fakeAdapter{
		provider: ProviderManual,
		event:    RawEvent{EventType: "metric", ProviderUserID: "user-1"},
	})

	res, err := svc.Ingest(context.Background(), ProviderManual, []byte(`{}`), time.Now())
	require.NoError(t, err)
	require.False(t, res.Duplicate)

	require.Len(t, repo.inserted, 1)
	require.Equal(t, "user-1", repo.inserted[0].UserID)
	require.Zero(t, repo.syncSuccesses)
}

func TestIngestDuplicateReturnsOriginalID(t *testing.T) {
	repo := &fakeRepo{
		connections: map[string]*ProviderConnection{
			key(ProviderWhoop, "9001"): {UserID: "user-1", Provider: ProviderWhoop, SyncStatus: SyncStatusActive},
		},
		insertDuplicate: true,
		insertID:        "original-event",
	}
	svc := newService(repo, fakeAdapter{
		provider: ProviderWhoop,
		event:    RawEvent{EventType: "recovery.updated", ProviderUserID: "9001"},
	})

	res, err := svc.Ingest(context.Background(), ProviderWhoop, []byte(`{}`), time.Now())
	require.NoError(t, err)
	require.True(t, res.Duplicate)
	require.Equal(t, "original-event", res.EventID)
	// Duplicate deliveries do not advance the sync watermark.
	require.Zero(t, repo.syncSuccesses)
}

func TestIngestParseErrorStillAppendedAndCounted(t *testing.T) {
	repo := &fakeRepo{connections: map[string]*ProviderConnection{
		key(ProviderWhoop, ""): {UserID: "user-1", Provider: ProviderWhoop, SyncStatus: SyncStatusActive},
	}}
	svc := newService(repo, fakeAdapter{
		provider: ProviderWhoop,
		event:    RawEvent{ParseError: true, ParseDetail: "invalid json"},
	})

	res, err := svc.Ingest(context.Background(), ProviderWhoop, []byte(`{broken`), time.Now())
	require.NoError(t, err)
	require.True(t, res.ParseError)

	require.Len(t, repo.inserted, 1)
	require.Equal(t, []string{"invalid json"}, repo.syncFailures)
	require.Zero(t, repo.syncSuccesses)
}

func TestLatestMetricNotFound(t *testing.T) {
	svc := newService(&fakeRepo{})

	_, err := svc.LatestMetric(context.Background(), "user-1", MetricRestingHR, time.Now())
	require.ErrorIs(t, err, ErrMetricNotFound)
}

func TestEnqueueBackfillTruncatesToDayBounds(t *testing.T) {
	repo := &fakeRepo{}
	svc := newService(repo)

	from := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	to := time.Date(2026, 3, 12, 4, 0, 0, 0, time.UTC)
	n, err := svc.EnqueueBackfill(context.Background(), "user-1", from, to)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), repo.backfillFrom)
	require.Equal(t, time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC), repo.backfillTo)
}
