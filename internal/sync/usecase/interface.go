package usecase

import (
	"context"
	"time"

	syncdomain "mailsync-backend/internal/sync/domain"
)

// SyncUsecase defines the interface for mailbox sync operations
type SyncUsecase interface {
	// StartSync registers the remote watch and begins syncing for the user.
	// Any prior registration for the user is superseded.
	StartSync(ctx context.Context, userID, emailAddress string, creds *syncdomain.Credentials) error
	// StopSync tears down the watch and forgets the registration
	StopSync(ctx context.Context, userID string) error
	// Status reports whether sync is active plus last sync and watch expiry
	Status(ctx context.Context, userID string) (*SyncStatus, error)
	// ForceSync runs one synchronous count refresh, same as a fallback tick
	ForceSync(ctx context.Context, userID string) error
	// ProcessNotification handles one push notification for a mailbox.
	// A nil return acknowledges the message; an error asks for redelivery.
	ProcessNotification(ctx context.Context, emailAddress string, historyID uint64) error
	// ResumeAll re-schedules fallback polling for every persisted registration
	ResumeAll(ctx context.Context) error
	// StartRenewalLoop begins the periodic watch renewal scan
	StartRenewalLoop()
}

// SyncStatus is the control-plane view of one user's sync state
type SyncStatus struct {
	Active      bool
	LastSync    time.Time
	WatchExpiry time.Time
}

// Publisher fans one event out to the user's connected clients
type Publisher interface {
	Publish(userID, eventType string, fields map[string]interface{})
}

// InvalidationCache is the slice of the tiered cache the sync flow drives
type InvalidationCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	InvalidateOnAction(ctx context.Context, provider, userID, action string, threadIDs []string)
	InvalidateUser(ctx context.Context, provider, userID string)
}
