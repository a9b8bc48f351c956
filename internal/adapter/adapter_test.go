package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthsync/internal/domain"
)

var receivedAt = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

func TestWhoopNormalizeSupportedEvent(t *testing.T) {
	payload := []byte(`{
        "id": "wh-123",
        "user_id": 9001,
        "type": "recovery.updated",
        "created_at": "2026-03-14T07:30:00Z",
        "data": {"cycle_day": "2026-03-14", "score": {"recovery_score": 87}}
    }`)

	ev := NewWhoop().Normalize(payload, receivedAt)

	require.False(t, ev.ParseError)
	require.Equal(t, domain.ProviderWhoop, ev.Provider)
	require.Equal(t, "recovery.updated", ev.EventType)
	require.Equal(t, "9001", ev.ProviderUserID)
	require.Equal(t, "whoop:wh-123", ev.DedupKey)
	require.Equal(t, domain.EventStatusPending, ev.Status)
	require.Equal(t, receivedAt, ev.ReceivedAt)
	require.JSONEq(t, string(payload), string(ev.Payload))
}

func TestWhoopNormalizeTagsUnsupportedEventType(t *testing.T) {
	payload := []byte(`{"id": "wh-9", "user_id": 9001, "type": "body_measurement.updated"}`)

	ev := NewWhoop().Normalize(payload, receivedAt)

	require.False(t, ev.ParseError)
	require.Equal(t, "unmapped.body_measurement.updated", ev.EventType)
	require.Equal(t, "whoop:wh-9", ev.DedupKey)
}

func TestNormalizePreservesMalformedJSON(t *testing.T) {
	payload := []byte(`{not json`)

	ev := NewWhoop().Normalize(payload, receivedAt)

	require.True(t, ev.ParseError)
	require.NotEmpty(t, ev.ParseDetail)
	require.Equal(t, payload, []byte(ev.Payload))
	require.Equal(t, domain.EventStatusPending, ev.Status)
}

func TestNormalizeFlagsSchemaViolation(t *testing.T) {
	// Valid JSON but user_id has the wrong type.
	payload := []byte(`{"id": "wh-1", "user_id": "nine-thousand", "type": "recovery.updated"}`)

	ev := NewWhoop().Normalize(payload, receivedAt)

	require.True(t, ev.ParseError)
	require.Contains(t, ev.ParseDetail, "schema violation")
	require.Empty(t, ev.DedupKey)
}

func TestManualNormalizeCarriesInternalUserID(t *testing.T) {
	payload := []byte(`{
        "entry_id": "m-77",
        "user_id": "user-1",
        "kind": "metric",
        "recorded_at": "2026-03-14T21:00:00Z",
        "metric_type": "resting_hr",
        "value": 52,
        "unit": "bpm"
    }`)

	ev := NewManual().Normalize(payload, receivedAt)

	require.False(t, ev.ParseError)
	require.Equal(t, domain.ProviderManual, ev.Provider)
	require.Equal(t, "metric", ev.EventType)
	require.Equal(t, "user-1", ev.ProviderUserID)
	require.Equal(t, "manual:m-77", ev.DedupKey)
}

func TestAllCoversEveryWebhookProvider(t *testing.T) {
	adapters := All()
	seen := make(map[domain.Provider]struct{}, len(adapters))
	for _, a := range adapters {
		seen[a.Provider()] = struct{}{}
	}

	for _, p := range []domain.Provider{
		domain.ProviderWhoop,
		domain.ProviderOura,
		domain.ProviderGarmin,
		domain.ProviderAppleHealth,
		domain.ProviderGoogleFit,
		domain.ProviderTerra,
		domain.ProviderManual,
	} {
		require.Contains(t, seen, p)
	}
}
