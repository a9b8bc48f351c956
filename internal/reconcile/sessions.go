package reconcile

import (
	"sort"

	"example.com/healthsync/internal/domain"
)

// DefaultOverlapThreshold is the fraction of a lower-priority session's
// duration that must be covered by a higher-priority session for the lower
// one to be suppressed.
const DefaultOverlapThreshold = 0.70

// ResolveSessions applies interval dominance to the full session set for a
// (user, date) key. Sessions are considered in priority order; a session is
// suppressed when a retained higher-priority session of the same kind covers
// at least overlapThreshold of its duration. Non-overlapping or
// partially-overlapping lower-priority sessions are retained as independent
// sessions.
//
// The returned slice contains every input session with Resolved and
// SuppressedBy populated; nothing is dropped.
func ResolveSessions(sessions []domain.Session, table PriorityTable, overlapThreshold float64) []domain.Session {
	if overlapThreshold <= 0 || overlapThreshold > 1 {
		overlapThreshold = DefaultOverlapThreshold
	}

	ordered := make([]domain.Session, len(sessions))
	copy(ordered, sessions)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		ra, rb := table.Rank(a.Source), table.Rank(b.Source)
		if ra != rb {
			return ra > rb
		}
		if a.Duration() != b.Duration() {
			return a.Duration() > b.Duration()
		}
		if !a.StartAt.Equal(b.StartAt) {
			return a.StartAt.Before(b.StartAt)
		}
		return a.ID < b.ID
	})

	retained := make([]domain.Session, 0, len(ordered))
	out := make([]domain.Session, 0, len(ordered))
	for _, s := range ordered {
		s.Resolved = true
		s.SuppressedBy = nil

		dur := s.Duration()
		for _, winner := range retained {
			if winner.Kind != s.Kind || dur <= 0 {
				continue
			}
			coverage := float64(s.Overlap(winner)) / float64(dur)
			if coverage >= overlapThreshold {
				s.Resolved = false
				id := winner.ID
				s.SuppressedBy = &id
				break
			}
		}
		if s.Resolved {
			retained = append(retained, s)
		}
		out = append(out, s)
	}
	return out
}
