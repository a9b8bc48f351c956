package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthsync/internal/domain"
)

func TestBuildSummaryLeavesAbsentMetricsNil(t *testing.T) {
	at := day.Add(8 * time.Hour)
	winners := map[domain.MetricType]domain.MetricCandidate{
		domain.MetricRestingHR: candidate(1, domain.ProviderWhoop, domain.MetricRestingHR, 52, at),
	}

	now := day.Add(23 * time.Hour)
	summary := BuildSummary("user-1", day, winners, nil, now)

	require.Equal(t, "user-1", summary.UserID)
	require.Equal(t, day, summary.Date)
	require.NotNil(t, summary.RestingHR)
	require.Equal(t, 52.0, *summary.RestingHR)

	require.Nil(t, summary.Steps)
	require.Nil(t, summary.HRVMillis)
	require.Nil(t, summary.RecoveryScore)
	require.Nil(t, summary.SleepDurationMin)
	require.Nil(t, summary.ActiveMinutes)

	require.Equal(t, domain.ProviderWhoop, summary.Sources[domain.MetricRestingHR])
	require.Equal(t, now, summary.ComputedAt)
}

func TestBuildSummaryDerivesSleepDurationFromResolvedSessions(t *testing.T) {
	night := time.Date(2026, 3, 13, 23, 0, 0, 0, time.UTC)

	resolved := session("s-whoop", domain.ProviderWhoop, domain.SessionSleep, night, night.Add(8*time.Hour))
	resolved.Resolved = true
	suppressed := session("s-oura", domain.ProviderOura, domain.SessionSleep, night.Add(15*time.Minute), night.Add(8*time.Hour))
	suppressed.Resolved = false

	summary := BuildSummary("user-1", day, nil, []domain.Session{resolved, suppressed}, time.Now().UTC())

	require.Equal(t, 1, summary.SleepSessions)
	require.NotNil(t, summary.SleepDurationMin)
	require.Equal(t, 480.0, *summary.SleepDurationMin)
}

func TestBuildSummaryActiveMinutesFallbackOnlyWithoutPointMetric(t *testing.T) {
	run := session("s-run", domain.ProviderGarmin, domain.SessionActivity, day.Add(7*time.Hour), day.Add(8*time.Hour))
	run.Resolved = true

	// Without a point metric the session total fills in.
	summary := BuildSummary("user-1", day, nil, []domain.Session{run}, time.Now().UTC())
	require.Equal(t, 1, summary.ActivitySessions)
	require.NotNil(t, summary.ActiveMinutes)
	require.Equal(t, 60.0, *summary.ActiveMinutes)

	// A winning active_minutes candidate takes precedence over session math.
	winners := map[domain.MetricType]domain.MetricCandidate{
		domain.MetricActiveMinutes: candidate(1, domain.ProviderGarmin, domain.MetricActiveMinutes, 95, day.Add(20*time.Hour)),
	}
	summary = BuildSummary("user-1", day, winners, []domain.Session{run}, time.Now().UTC())
	require.NotNil(t, summary.ActiveMinutes)
	require.Equal(t, 95.0, *summary.ActiveMinutes)
}
