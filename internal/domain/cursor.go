package domain

import "time"

// Cursor models the pagination token for raw-event triage listings.
type Cursor struct {
	ReceivedAt time.Time
	ID         string
}
