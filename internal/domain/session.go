package domain

import "time"

// SessionKind distinguishes sleep from activity sessions.
type SessionKind string

const (
	SessionSleep    SessionKind = "sleep"
	SessionActivity SessionKind = "activity"
)

// Session is a time-ranged record (sleep or activity) from one source.
// Overlapping sessions across sources are resolved by interval dominance:
// the highest-priority session covering a window suppresses overlapping
// lower-priority sessions.
type Session struct {
	ID             string
	UserID         string
	Date           time.Time
	Kind           SessionKind
	StartAt        time.Time
	EndAt          time.Time
	Source         Provider
	SourcePriority int
	Quality        float64
	Metrics        map[string]float64
	RawEventID     string
	Resolved       bool
	SuppressedBy   *string
}

// Duration returns the session length.
func (s Session) Duration() time.Duration {
	return s.EndAt.Sub(s.StartAt)
}

// Overlap returns the amount of time shared with another session.
func (s Session) Overlap(other Session) time.Duration {
	start := s.StartAt
	if other.StartAt.After(start) {
		start = other.StartAt
	}
	end := s.EndAt
	if other.EndAt.Before(end) {
		end = other.EndAt
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start)
}
