package reconcile

import (
	"sort"

	"example.com/healthsync/internal/domain"
)

// MetricResolution is the outcome of re-ranking the full candidate set for one
// (user, date) key.
type MetricResolution struct {
	// Winners holds the top-ranked candidate per metric type.
	Winners map[domain.MetricType]domain.MetricCandidate
	// IDTieBreaks counts resolutions that fell all the way through to the
	// candidate-id tie-break. The outcome is still deterministic; the count is
	// surfaced as a data-quality signal.
	IDTieBreaks int
}

// ResolveMetrics ranks every candidate for a (user, date) key and selects one
// winner per metric type. Ranking order: source priority, then quality score,
// then most recent recorded_at, then lowest candidate id. The function reads
// the full set on every call, so resolution is idempotent, re-entrant, and
// independent of candidate arrival order.
func ResolveMetrics(candidates []domain.MetricCandidate, table PriorityTable) MetricResolution {
	byType := make(map[domain.MetricType][]domain.MetricCandidate)
	for _, c := range candidates {
		byType[c.MetricType] = append(byType[c.MetricType], c)
	}

	res := MetricResolution{Winners: make(map[domain.MetricType]domain.MetricCandidate, len(byType))}
	for metricType, group := range byType {
		sort.Slice(group, func(i, j int) bool {
			a, b := group[i], group[j]
			ra, rb := table.Rank(a.Source), table.Rank(b.Source)
			if ra != rb {
				return ra > rb
			}
			if a.Quality != b.Quality {
				return a.Quality > b.Quality
			}
			if !a.RecordedAt.Equal(b.RecordedAt) {
				return a.RecordedAt.After(b.RecordedAt)
			}
			return a.ID < b.ID
		})

		winner := group[0]
		if len(group) > 1 {
			second := group[1]
			if table.Rank(winner.Source) == table.Rank(second.Source) &&
				winner.Quality == second.Quality &&
				winner.RecordedAt.Equal(second.RecordedAt) {
				res.IDTieBreaks++
			}
		}
		winner.Winner = true
		res.Winners[metricType] = winner
	}
	return res
}
