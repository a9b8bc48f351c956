package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthsync/internal/domain"
)

func session(id string, source domain.Provider, kind domain.SessionKind, start, end time.Time) domain.Session {
	return domain.Session{
		ID:      id,
		UserID:  "user-1",
		Date:    day,
		Kind:    kind,
		StartAt: start,
		EndAt:   end,
		Source:  source,
		Quality: DefaultQuality(source),
	}
}

func findSession(t *testing.T, sessions []domain.Session, id string) domain.Session {
	t.Helper()
	for _, s := range sessions {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("session %s not found", id)
	return domain.Session{}
}

func TestResolveSessionsSuppressesDominatedSleep(t *testing.T) {
	night := time.Date(2026, 3, 13, 23, 0, 0, 0, time.UTC)

	whoop := session("s-whoop", domain.ProviderWhoop, domain.SessionSleep,
		night, night.Add(8*time.Hour)) // 23:00-07:00
	oura := session("s-oura", domain.ProviderOura, domain.SessionSleep,
		night.Add(15*time.Minute), night.Add(7*time.Hour+45*time.Minute)) // 23:15-06:45
	// A short afternoon nap from a lower-priority source stays independent.
	nap := session("s-nap", domain.ProviderTerra, domain.SessionSleep,
		day.Add(14*time.Hour), day.Add(15*time.Hour))

	out := ResolveSessions([]domain.Session{oura, nap, whoop}, DefaultPriorities(), DefaultOverlapThreshold)
	require.Len(t, out, 3)

	require.True(t, findSession(t, out, "s-whoop").Resolved)

	suppressed := findSession(t, out, "s-oura")
	require.False(t, suppressed.Resolved)
	require.NotNil(t, suppressed.SuppressedBy)
	require.Equal(t, "s-whoop", *suppressed.SuppressedBy)

	require.True(t, findSession(t, out, "s-nap").Resolved)
	require.Nil(t, findSession(t, out, "s-nap").SuppressedBy)
}

func TestResolveSessionsBelowThresholdRetainsBoth(t *testing.T) {
	night := time.Date(2026, 3, 13, 22, 0, 0, 0, time.UTC)

	whoop := session("s-whoop", domain.ProviderWhoop, domain.SessionSleep,
		night, night.Add(4*time.Hour))
	// Only half of the Oura session is covered; below the 0.70 threshold.
	oura := session("s-oura", domain.ProviderOura, domain.SessionSleep,
		night.Add(2*time.Hour), night.Add(6*time.Hour))

	out := ResolveSessions([]domain.Session{whoop, oura}, DefaultPriorities(), DefaultOverlapThreshold)
	require.True(t, findSession(t, out, "s-whoop").Resolved)
	require.True(t, findSession(t, out, "s-oura").Resolved)
}

func TestResolveSessionsKindsDoNotInteract(t *testing.T) {
	start := day.Add(9 * time.Hour)

	sleep := session("s-sleep", domain.ProviderWhoop, domain.SessionSleep,
		start, start.Add(2*time.Hour))
	workout := session("s-workout", domain.ProviderOura, domain.SessionActivity,
		start, start.Add(2*time.Hour))

	out := ResolveSessions([]domain.Session{sleep, workout}, DefaultPriorities(), DefaultOverlapThreshold)
	require.True(t, findSession(t, out, "s-sleep").Resolved)
	require.True(t, findSession(t, out, "s-workout").Resolved)
}

func TestResolveSessionsIsIdempotent(t *testing.T) {
	night := time.Date(2026, 3, 13, 23, 0, 0, 0, time.UTC)
	sessions := []domain.Session{
		session("a", domain.ProviderWhoop, domain.SessionSleep, night, night.Add(8*time.Hour)),
		session("b", domain.ProviderOura, domain.SessionSleep, night.Add(10*time.Minute), night.Add(8*time.Hour)),
	}
	table := DefaultPriorities()

	first := ResolveSessions(sessions, table, DefaultOverlapThreshold)
	// Feeding the resolved output back in converges on the same state.
	second := ResolveSessions(first, table, DefaultOverlapThreshold)

	require.Equal(t, len(first), len(second))
	for _, s := range first {
		other := findSession(t, second, s.ID)
		require.Equal(t, s.Resolved, other.Resolved)
		require.Equal(t, s.SuppressedBy, other.SuppressedBy)
	}
}

func TestResolveSessionsEqualPriorityLongerWins(t *testing.T) {
	night := time.Date(2026, 3, 13, 23, 0, 0, 0, time.UTC)

	long := session("s-long", domain.ProviderWhoop, domain.SessionSleep,
		night, night.Add(8*time.Hour))
	short := session("s-short", domain.ProviderWhoop, domain.SessionSleep,
		night.Add(30*time.Minute), night.Add(7*time.Hour))

	out := ResolveSessions([]domain.Session{short, long}, DefaultPriorities(), DefaultOverlapThreshold)
	require.True(t, findSession(t, out, "s-long").Resolved)
	require.False(t, findSession(t, out, "s-short").Resolved)
}
