package domain

import "time"

// DailySummary is the per (user, date) projection over resolved metrics and
// sessions. It is a cache: fully recomputable by the aggregator, replaced
// wholesale, never hand-edited.
type DailySummary struct {
	UserID           string
	Date             time.Time
	RestingHR        *float64
	HRVMillis        *float64
	Steps            *float64
	RecoveryScore    *float64
	SleepScore       *float64
	ReadinessScore   *float64
	RespiratoryRate  *float64
	CaloriesOut      *float64
	BodyTempDeltaC   *float64
	SleepDurationMin *float64
	ActiveMinutes    *float64
	SleepSessions    int
	ActivitySessions int
	Sources          map[MetricType]Provider
	ComputedAt       time.Time
}
