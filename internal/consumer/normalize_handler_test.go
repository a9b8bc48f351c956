package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/reconcile"
)

type fakeStore struct {
	events     map[string]*domain.RawEvent
	candidates []domain.MetricCandidate
	sessions   []domain.Session
	warnings   []domain.Warning
	processed  []string
	failed     map[string]string
	dirty      []domain.DayKey
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events: make(map[string]*domain.RawEvent),
		failed: make(map[string]string),
	}
}

func (s *fakeStore) RawEventByID(_ context.Context, id string) (*domain.RawEvent, error) {
	return s.events[id], nil
}

func (s *fakeStore) InsertCandidates(_ context.Context, candidates []domain.MetricCandidate) error {
	s.candidates = append(s.candidates, candidates...)
	return nil
}

func (s *fakeStore) InsertSessions(_ context.Context, sessions []domain.Session) error {
	s.sessions = append(s.sessions, sessions...)
	return nil
}

func (s *fakeStore) InsertWarnings(_ context.Context, warnings []domain.Warning) error {
	s.warnings = append(s.warnings, warnings...)
	return nil
}

func (s *fakeStore) MarkEventProcessed(_ context.Context, id string) error {
	s.processed = append(s.processed, id)
	return nil
}

func (s *fakeStore) MarkEventFailed(_ context.Context, id, detail string) error {
	s.failed[id] = detail
	return nil
}

func (s *fakeStore) MarkDirty(_ context.Context, userID string, date time.Time) error {
	s.dirty = append(s.dirty, domain.DayKey{UserID: userID, Date: date})
	return nil
}

func notification(t *testing.T, eventID string) Message {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"event_id": eventID})
	require.NoError(t, err)
	return Message{
		Topic:     "health_raw_events",
		EventType: "raw.event.received",
		Payload:   payload,
	}
}

func TestNormalizeHandlerProducesCandidatesAndMarksDirty(t *testing.T) {
	store := newFakeStore()
	received := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	store.events["ev-1"] = &domain.RawEvent{
		ID:        "ev-1",
		UserID:    "user-1",
		Provider:  domain.ProviderWhoop,
		EventType: "recovery.updated",
		Payload: []byte(`{
            "created_at": "2026-03-14T07:30:00Z",
            "data": {
                "cycle_day": "2026-03-14",
                "score": {"recovery_score": 87, "resting_heart_rate": 52, "hrv_rmssd_milli": 64}
            }
        }`),
		Status:     domain.EventStatusPending,
		ReceivedAt: received,
	}

	handler := NewNormalizeHandler(store, reconcile.DefaultPriorities())
	err := handler.Handle(context.Background(), notification(t, "ev-1"))
	require.NoError(t, err)

	require.Len(t, store.candidates, 3)
	require.Equal(t, []string{"ev-1"}, store.processed)
	require.Empty(t, store.failed)

	require.Len(t, store.dirty, 1)
	require.Equal(t, "user-1", store.dirty[0].UserID)
	require.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), store.dirty[0].Date)
}

func TestNormalizeHandlerSkipsMissingEvent(t *testing.T) {
	store := newFakeStore()
	handler := NewNormalizeHandler(store, reconcile.DefaultPriorities())

	err := handler.Handle(context.Background(), notification(t, "ghost"))
	require.NoError(t, err)
	require.Empty(t, store.candidates)
	require.Empty(t, store.processed)
}

func TestNormalizeHandlerIgnoresAlreadyProcessedEvent(t *testing.T) {
	store := newFakeStore()
	store.events["ev-2"] = &domain.RawEvent{
		ID:       "ev-2",
		UserID:   "user-1",
		Provider: domain.ProviderWhoop,
		Status:   domain.EventStatusProcessed,
	}

	handler := NewNormalizeHandler(store, reconcile.DefaultPriorities())
	err := handler.Handle(context.Background(), notification(t, "ev-2"))
	require.NoError(t, err)
	require.Empty(t, store.candidates)
	require.Empty(t, store.processed)
}

func TestNormalizeHandlerMarksProcessedWithNoCandidatesForParseError(t *testing.T) {
	store := newFakeStore()
	store.events["ev-3"] = &domain.RawEvent{
		ID:          "ev-3",
		UserID:      "user-1",
		Provider:    domain.ProviderWhoop,
		EventType:   "recovery.updated",
		Payload:     []byte(`{broken`),
		ParseError:  true,
		ParseDetail: "invalid payload",
		Status:      domain.EventStatusPending,
		ReceivedAt:  time.Now().UTC(),
	}

	handler := NewNormalizeHandler(store, reconcile.DefaultPriorities())
	err := handler.Handle(context.Background(), notification(t, "ev-3"))
	require.NoError(t, err)

	require.Empty(t, store.candidates)
	require.Empty(t, store.dirty)
	require.Equal(t, []string{"ev-3"}, store.processed)
}

func TestNormalizeHandlerRejectsBadNotification(t *testing.T) {
	store := newFakeStore()
	handler := NewNormalizeHandler(store, reconcile.DefaultPriorities())

	err := handler.Handle(context.Background(), Message{Payload: []byte(`{}`)})
	require.Error(t, err)
}
