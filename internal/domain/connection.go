package domain

import "time"

// SyncStatus tracks the health of a provider connection.
type SyncStatus string

const (
	SyncStatusActive  SyncStatus = "active"
	SyncStatusError   SyncStatus = "error"
	SyncStatusRevoked SyncStatus = "revoked"
	SyncStatusExpired SyncStatus = "expired"
)

// ProviderConnection holds credential and sync state for a (user, provider)
// pair. Tokens are written by the external OAuth flow; the ingestion gateway
// updates sync state only for the owning pair.
type ProviderConnection struct {
	UserID              string
	Provider            Provider
	ProviderUserID      string
	AccessToken         string
	RefreshToken        string
	Scopes              []string
	SyncStatus          SyncStatus
	ConsecutiveFailures int
	LastSyncAt          *time.Time
	LastError           *string
	UpdatedAt           time.Time
}

// Syncable reports whether pull-sync should run for this connection.
func (c ProviderConnection) Syncable() bool {
	return c.SyncStatus == SyncStatusActive || c.SyncStatus == SyncStatusError
}
