// Package reconcile contains the deterministic resolution logic that merges
// per-source candidate values into canonical metrics, sessions, and daily
// summaries. Everything in this package is pure; persistence is the caller's
// concern.
package reconcile

import "example.com/healthsync/internal/domain"

// PriorityTable is an immutable, versioned ranking of providers by
// trustworthiness. It is passed into resolution at call time so that
// backfill runs after a table change are reproducible.
type PriorityTable struct {
	Version     string
	ranks       map[domain.Provider]int
	defaultRank int
}

// NewPriorityTable copies the supplied ranks into an immutable table.
func NewPriorityTable(version string, ranks map[domain.Provider]int, defaultRank int) PriorityTable {
	copied := make(map[domain.Provider]int, len(ranks))
	for p, r := range ranks {
		copied[p] = r
	}
	return PriorityTable{Version: version, ranks: copied, defaultRank: defaultRank}
}

// Rank returns the priority for a provider, falling back to the default rank
// for providers not present in the table.
func (t PriorityTable) Rank(p domain.Provider) int {
	if r, ok := t.ranks[p]; ok {
		return r
	}
	return t.defaultRank
}

// DefaultPriorities returns the v1 production ranking.
func DefaultPriorities() PriorityTable {
	return NewPriorityTable("v1", map[domain.Provider]int{
		domain.ProviderWhoop:       100,
		domain.ProviderOura:        95,
		domain.ProviderGarmin:      80,
		domain.ProviderPolar:       75,
		domain.ProviderAppleHealth: 60,
		domain.ProviderTerra:       55,
		domain.ProviderFitbit:      50,
		domain.ProviderManual:      40,
	}, 30)
}

// DefaultQuality returns the fixed per-provider quality score used when a
// payload carries no confidence of its own.
func DefaultQuality(p domain.Provider) float64 {
	switch p {
	case domain.ProviderWhoop, domain.ProviderOura:
		return 0.90
	case domain.ProviderGarmin:
		return 0.85
	case domain.ProviderPolar:
		return 0.80
	case domain.ProviderAppleHealth:
		return 0.75
	case domain.ProviderGoogleFit, domain.ProviderTerra:
		return 0.70
	case domain.ProviderFitbit:
		return 0.65
	case domain.ProviderManual:
		return 0.50
	default:
		return 0.40
	}
}
