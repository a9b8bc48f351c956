package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/reconcile"
)

// EventStore is the persistence surface the normalize handler needs.
type EventStore interface {
	RawEventByID(ctx context.Context, id string) (*domain.RawEvent, error)
	InsertCandidates(ctx context.Context, candidates []domain.MetricCandidate) error
	InsertSessions(ctx context.Context, sessions []domain.Session) error
	InsertWarnings(ctx context.Context, warnings []domain.Warning) error
	MarkEventProcessed(ctx context.Context, id string) error
	MarkEventFailed(ctx context.Context, id, detail string) error
	MarkDirty(ctx context.Context, userID string, date time.Time) error
}

// NormalizeHandler turns raw-event notifications into canonical metric and
// session candidates. The Kafka payload is only a pointer; the event log in
// Postgres is the source of truth, which keeps replay and backfill honest.
type NormalizeHandler struct {
	store      EventStore
	normalizer *reconcile.Normalizer
	logger     *log.Logger
}

// NewNormalizeHandler constructs a handler over the given store and priority table.
func NewNormalizeHandler(store EventStore, table reconcile.PriorityTable) *NormalizeHandler {
	return &NormalizeHandler{
		store:      store,
		normalizer: reconcile.NewNormalizer(table),
		logger:     log.New(log.Writer(), "[normalize] ", log.LstdFlags),
	}
}

type rawEventNotification struct {
	EventID string `json:"event_id"`
}

// Handle processes one raw-event notification. Candidate inserts are
// idempotent, so redelivery after a crash converges on the same state.
func (h *NormalizeHandler) Handle(ctx context.Context, msg Message) error {
	var note rawEventNotification
	if err := json.Unmarshal(msg.Payload, &note); err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}
	if note.EventID == "" {
		return fmt.Errorf("notification missing event_id")
	}

	ev, err := h.store.RawEventByID(ctx, note.EventID)
	if err != nil {
		return fmt.Errorf("load raw event %s: %w", note.EventID, err)
	}
	if ev == nil {
		// The notification outlived its event row; nothing to replay.
		h.logger.Printf("raw event %s not found, skipping", note.EventID)
		return nil
	}
	if ev.Status == domain.EventStatusProcessed || ev.Status == domain.EventStatusDuplicate {
		return nil
	}

	result := h.normalizer.Normalize(*ev)

	if len(result.Warnings) > 0 {
		if err := h.store.InsertWarnings(ctx, result.Warnings); err != nil {
			return fmt.Errorf("insert warnings for %s: %w", ev.ID, err)
		}
	}
	if err := h.store.InsertCandidates(ctx, result.Metrics); err != nil {
		if markErr := h.store.MarkEventFailed(ctx, ev.ID, err.Error()); markErr != nil {
			return markErr
		}
		h.logger.Printf("event %s failed: %v", ev.ID, err)
		return nil
	}
	if err := h.store.InsertSessions(ctx, result.Sessions); err != nil {
		if markErr := h.store.MarkEventFailed(ctx, ev.ID, err.Error()); markErr != nil {
			return markErr
		}
		h.logger.Printf("event %s failed: %v", ev.ID, err)
		return nil
	}

	for key := range affectedDays(result) {
		if err := h.store.MarkDirty(ctx, key.UserID, key.Date); err != nil {
			return fmt.Errorf("mark dirty %s/%s: %w", key.UserID, key.Date.Format("2006-01-02"), err)
		}
	}

	reconcile.RecordNormalized(string(ev.Provider), result)
	return h.store.MarkEventProcessed(ctx, ev.ID)
}

// affectedDays collects the distinct (user, date) keys touched by a
// normalization result.
func affectedDays(result reconcile.NormalizeResult) map[domain.DayKey]struct{} {
	keys := make(map[domain.DayKey]struct{})
	for _, m := range result.Metrics {
		keys[domain.DayKey{UserID: m.UserID, Date: m.Date}] = struct{}{}
	}
	for _, s := range result.Sessions {
		keys[domain.DayKey{UserID: s.UserID, Date: s.Date}] = struct{}{}
	}
	return keys
}
