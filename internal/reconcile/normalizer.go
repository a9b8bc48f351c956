package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/healthsync/internal/domain"
)

// NormalizeResult carries the candidate records produced from one RawEvent.
type NormalizeResult struct {
	Metrics  []domain.MetricCandidate
	Sessions []domain.Session
	Warnings []domain.Warning
}

// Normalizer converts RawEvents into canonical metric and session candidates.
// Normalization is deterministic: the same RawEvent always yields the same
// candidates, which makes replay during backfill safe.
type Normalizer struct {
	table PriorityTable
}

// NewNormalizer constructs a Normalizer that snapshots source priorities from
// the supplied table onto each candidate at write time.
func NewNormalizer(table PriorityTable) *Normalizer {
	return &Normalizer{table: table}
}

// Normalize maps a RawEvent to zero or more candidates. Events flagged with a
// parse error or tagged unmapped yield no candidates. An unmappable unit or
// missing required field skips that candidate and records a warning against
// the RawEvent instead of failing the event.
func (n *Normalizer) Normalize(ev domain.RawEvent) NormalizeResult {
	if ev.ParseError || strings.HasPrefix(ev.EventType, "unmapped.") {
		return NormalizeResult{}
	}

	b := builder{ev: ev, rank: n.table.Rank(ev.Provider), quality: DefaultQuality(ev.Provider)}
	switch ev.Provider {
	case domain.ProviderWhoop:
		normalizeWhoop(&b)
	case domain.ProviderOura:
		normalizeOura(&b)
	case domain.ProviderGarmin:
		normalizeGarmin(&b)
	case domain.ProviderAppleHealth:
		normalizeAppleHealth(&b)
	case domain.ProviderGoogleFit:
		normalizeGoogleFit(&b)
	case domain.ProviderTerra:
		normalizeTerra(&b)
	case domain.ProviderManual:
		normalizeManual(&b)
	default:
		b.warn("provider", fmt.Sprintf("no normalization rules for provider %s", ev.Provider))
	}
	return b.out
}

// builder accumulates candidates and warnings while a single event is mapped.
type builder struct {
	ev      domain.RawEvent
	rank    int
	quality float64
	out     NormalizeResult
}

func (b *builder) metric(metricType domain.MetricType, value float64, unit string, date, recordedAt time.Time) {
	b.out.Metrics = append(b.out.Metrics, domain.MetricCandidate{
		UserID:         b.ev.UserID,
		Date:           domain.DayOf(date),
		MetricType:     metricType,
		Value:          value,
		Unit:           unit,
		Source:         b.ev.Provider,
		SourcePriority: b.rank,
		Quality:        b.quality,
		RecordedAt:     recordedAt.UTC(),
		RawEventID:     b.ev.ID,
	})
}

func (b *builder) session(kind domain.SessionKind, start, end time.Time, metrics map[string]float64) {
	if !end.After(start) {
		b.warn("session", "session end does not follow start")
		return
	}
	start, end = start.UTC(), end.UTC()
	b.out.Sessions = append(b.out.Sessions, domain.Session{
		ID:             sessionID(b.ev.ID, kind, start),
		UserID:         b.ev.UserID,
		Date:           domain.DayOf(start),
		Kind:           kind,
		StartAt:        start,
		EndAt:          end,
		Source:         b.ev.Provider,
		SourcePriority: b.rank,
		Quality:        b.quality,
		Metrics:        metrics,
		RawEventID:     b.ev.ID,
	})
}

func (b *builder) warn(field, detail string) {
	b.out.Warnings = append(b.out.Warnings, domain.Warning{
		RawEventID: b.ev.ID,
		Field:      field,
		Detail:     detail,
		RecordedAt: b.ev.ReceivedAt,
	})
}

// timeOrReceived parses an RFC3339 timestamp, falling back to the event's
// received time so candidates always carry a usable recorded_at.
func (b *builder) timeOrReceived(raw string) time.Time {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC()
	}
	return b.ev.ReceivedAt
}

// dayOrReceived parses a calendar date like "2026-08-30".
func (b *builder) dayOrReceived(raw string) time.Time {
	if d, err := time.Parse("2006-01-02", raw); err == nil {
		return d
	}
	return domain.DayOf(b.ev.ReceivedAt)
}

// sessionID derives a stable id so replaying the same RawEvent produces the
// same session row.
func sessionID(rawEventID string, kind domain.SessionKind, start time.Time) string {
	seed := fmt.Sprintf("%s:%s:%d", rawEventID, kind, start.Unix())
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

const (
	kilojoulesPerKilocalorie = 4.184
	secondsPerMinute         = 60.0
)
