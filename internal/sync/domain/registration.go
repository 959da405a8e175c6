package domain

import "time"

// WatchRegistration records one user's active push watch. At most one row
// exists per user; a new registration supersedes any prior one.
type WatchRegistration struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	UserID       string    `json:"user_id" gorm:"uniqueIndex;not null"`
	EmailAddress string    `json:"email_address" gorm:"index;not null"`
	Provider     string    `json:"provider"`
	Credentials  []byte    `json:"-"` // sealed blob, see pkg/secrets
	HistoryID    uint64    `json:"history_id"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastSyncAt   time.Time `json:"last_sync_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Credentials are the in-memory form of a user's provider tokens. They are
// sealed before persistence and never stored in plaintext. OnRefresh, when
// set, is invoked after the provider transparently refreshes the access
// token so the caller can persist the new value.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`

	OnRefresh func(accessToken string, expiry time.Time) `json:"-"`
}

// MailboxCounts is the derived inbox summary broadcast to clients and cached
// under the stats key.
type MailboxCounts struct {
	Total  int64 `json:"total"`
	Unread int64 `json:"unread"`
}
