package repository

import (
	"time"

	syncdomain "mailsync-backend/internal/sync/domain"
)

// WatchRegistrationRepository defines the interface for watch registration operations
type WatchRegistrationRepository interface {
	// Upsert stores a registration, superseding any prior one for the user
	Upsert(reg *syncdomain.WatchRegistration) error
	// FindByUserID returns the user's registration, nil when none exists
	FindByUserID(userID string) (*syncdomain.WatchRegistration, error)
	// FindByEmail resolves a mailbox address to its registration, nil when unknown
	FindByEmail(email string) (*syncdomain.WatchRegistration, error)
	// FindExpiring returns registrations whose watch expires before the given time
	FindExpiring(before time.Time) ([]syncdomain.WatchRegistration, error)
	// FindAll returns every registration, for resume at startup
	FindAll() ([]syncdomain.WatchRegistration, error)
	// UpdateMarkerIfGreater advances the history marker only forward.
	// Returns whether the row moved; a stale marker leaves it untouched.
	UpdateMarkerIfGreater(userID string, historyID uint64) (bool, error)
	// UpdateExpiry records a renewed watch expiry without touching the marker
	UpdateExpiry(userID string, expiresAt time.Time) error
	// UpdateCredentials replaces the sealed credential blob after a token refresh
	UpdateCredentials(userID string, sealed []byte) error
	// TouchLastSync records a completed sync pass
	TouchLastSync(userID string) error
	// Delete removes the user's registration
	Delete(userID string) error
}
