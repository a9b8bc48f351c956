package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthsync/internal/domain"
)

func rawEvent(provider domain.Provider, eventType string, payload string) domain.RawEvent {
	return domain.RawEvent{
		ID:         "ev-1",
		UserID:     "user-1",
		Provider:   provider,
		EventType:  eventType,
		Payload:    []byte(payload),
		ReceivedAt: day.Add(9 * time.Hour),
	}
}

func TestNormalizeWhoopRecovery(t *testing.T) {
	n := NewNormalizer(DefaultPriorities())
	ev := rawEvent(domain.ProviderWhoop, "recovery.updated", `{
        "created_at": "2026-03-14T07:30:00Z",
        "data": {
            "cycle_day": "2026-03-14",
            "score": {"recovery_score": 87, "resting_heart_rate": 52, "hrv_rmssd_milli": 64}
        }
    }`)

	res := n.Normalize(ev)
	require.Len(t, res.Metrics, 3)
	require.Empty(t, res.Sessions)
	require.Empty(t, res.Warnings)

	byType := make(map[domain.MetricType]domain.MetricCandidate)
	for _, m := range res.Metrics {
		byType[m.MetricType] = m
	}
	require.Equal(t, 87.0, byType[domain.MetricRecoveryScore].Value)
	require.Equal(t, 52.0, byType[domain.MetricRestingHR].Value)
	require.Equal(t, 64.0, byType[domain.MetricHRV].Value)

	hr := byType[domain.MetricRestingHR]
	require.Equal(t, "bpm", hr.Unit)
	require.Equal(t, day, hr.Date)
	require.Equal(t, "ev-1", hr.RawEventID)
	require.Equal(t, time.Date(2026, 3, 14, 7, 30, 0, 0, time.UTC), hr.RecordedAt)
	require.Equal(t, DefaultPriorities().Rank(domain.ProviderWhoop), hr.SourcePriority)
}

func TestNormalizeIsDeterministic(t *testing.T) {
	n := NewNormalizer(DefaultPriorities())
	ev := rawEvent(domain.ProviderWhoop, "sleep.updated", `{
        "created_at": "2026-03-14T07:05:00Z",
        "data": {
            "sleep": {
                "start": "2026-03-13T23:00:00Z",
                "end": "2026-03-14T07:00:00Z",
                "score": {"sleep_performance_percentage": 91}
            }
        }
    }`)

	first := n.Normalize(ev)
	second := n.Normalize(ev)
	require.Equal(t, first, second)

	require.Len(t, first.Sessions, 1)
	// Replaying the same event must regenerate the same session id.
	require.Equal(t, first.Sessions[0].ID, second.Sessions[0].ID)
	require.Equal(t, domain.SessionSleep, first.Sessions[0].Kind)
	require.Equal(t, time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC), first.Sessions[0].Date)
}

func TestNormalizeParseErrorEventYieldsNothing(t *testing.T) {
	n := NewNormalizer(DefaultPriorities())
	ev := rawEvent(domain.ProviderWhoop, "recovery.updated", `{broken`)
	ev.ParseError = true

	res := n.Normalize(ev)
	require.Empty(t, res.Metrics)
	require.Empty(t, res.Sessions)
	require.Empty(t, res.Warnings)
}

func TestNormalizeUnmappedEventYieldsNothing(t *testing.T) {
	n := NewNormalizer(DefaultPriorities())
	ev := rawEvent(domain.ProviderWhoop, "unmapped.body_measurement", `{"weight": 80}`)

	res := n.Normalize(ev)
	require.Empty(t, res.Metrics)
	require.Empty(t, res.Sessions)
}

func TestNormalizeAppleHealthConvertsUnits(t *testing.T) {
	n := NewNormalizer(DefaultPriorities())
	ev := rawEvent(domain.ProviderAppleHealth, "samples", `{
        "samples": [
            {"type": "HKQuantityTypeIdentifierHeartRateVariabilitySDNN", "value": 0.064, "unit": "s", "start": "2026-03-14T06:00:00Z"},
            {"type": "HKQuantityTypeIdentifierStepCount", "value": 4200, "unit": "count", "start": "2026-03-14T12:00:00Z"},
            {"type": "HKQuantityTypeIdentifierStepCount", "value": 10, "unit": "furlongs", "start": "2026-03-14T13:00:00Z"}
        ]
    }`)

	res := n.Normalize(ev)
	require.Len(t, res.Metrics, 2)
	require.Equal(t, domain.MetricHRV, res.Metrics[0].MetricType)
	require.Equal(t, 64.0, res.Metrics[0].Value)
	require.Equal(t, "ms", res.Metrics[0].Unit)

	// The unmappable unit is skipped with a warning, not an error.
	require.Len(t, res.Warnings, 1)
	require.Contains(t, res.Warnings[0].Detail, "furlongs")
}

func TestNormalizeManualMetricValidatesUnit(t *testing.T) {
	n := NewNormalizer(DefaultPriorities())

	ok := rawEvent(domain.ProviderManual, "metric", `{
        "metric_type": "calories_out", "value": 2100, "unit": "kJ",
        "recorded_at": "2026-03-14T21:00:00Z"
    }`)
	res := n.Normalize(ok)
	require.Len(t, res.Metrics, 1)
	require.Equal(t, domain.MetricCaloriesOut, res.Metrics[0].MetricType)
	require.InDelta(t, 2100/4.184, res.Metrics[0].Value, 0.001)
	require.Equal(t, "kcal", res.Metrics[0].Unit)

	bad := rawEvent(domain.ProviderManual, "metric", `{
        "metric_type": "resting_hr", "value": 52, "unit": "mph",
        "recorded_at": "2026-03-14T21:00:00Z"
    }`)
	res = n.Normalize(bad)
	require.Empty(t, res.Metrics)
	require.Len(t, res.Warnings, 1)
}

func TestNormalizeInvertedSessionIntervalWarns(t *testing.T) {
	n := NewNormalizer(DefaultPriorities())
	ev := rawEvent(domain.ProviderManual, "activity", `{
        "start": "2026-03-14T10:00:00Z",
        "end": "2026-03-14T09:00:00Z",
        "activity_type": "run"
    }`)

	res := n.Normalize(ev)
	require.Empty(t, res.Sessions)
	require.Len(t, res.Warnings, 1)
}

func TestNormalizeUnknownProviderWarns(t *testing.T) {
	n := NewNormalizer(DefaultPriorities())
	ev := rawEvent(domain.Provider("acme_band"), "sample", `{}`)

	res := n.Normalize(ev)
	require.Empty(t, res.Metrics)
	require.Len(t, res.Warnings, 1)
}
