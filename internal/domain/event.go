package domain

import (
	"encoding/json"
	"time"
)

// EventStatus tracks the processing lifecycle of a RawEvent.
type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusProcessed EventStatus = "processed"
	EventStatusFailed    EventStatus = "failed"
	EventStatusDuplicate EventStatus = "duplicate"
)

// RawEvent is the immutable append-only record of a provider payload.
// Only Status and ProcessedAt are ever updated; the payload is never mutated.
type RawEvent struct {
	ID             string
	UserID         string
	Provider       Provider
	ProviderUserID string
	EventType      string
	DedupKey       string
	Payload        json.RawMessage
	ParseError     bool
	ParseDetail    string
	Status         EventStatus
	ErrorDetail    *string
	ReceivedAt     time.Time
	ProcessedAt    *time.Time
}

// Warning is a non-fatal normalization problem recorded against a RawEvent.
type Warning struct {
	RawEventID string
	Field      string
	Detail     string
	RecordedAt time.Time
}

// DayOf truncates a timestamp to the UTC calendar day it belongs to.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DayKey identifies a (user, date) pair flagged for re-reconciliation.
type DayKey struct {
	UserID string
	Date   time.Time
}
