package domain

import (
	"context"
	"time"
)

// RawChangeKind is the provider-side classification of a history entry.
type RawChangeKind string

const (
	RawMessageAdded   RawChangeKind = "added"
	RawMessageRemoved RawChangeKind = "removed"
	RawLabelAdded     RawChangeKind = "label_added"
	RawLabelRemoved   RawChangeKind = "label_removed"
)

// RawChange is one entry of the provider change log, in log order. LabelIDs
// carries the affected label set for label changes, normalized to the
// canonical names (LabelUnread for the unread flag).
type RawChange struct {
	Kind      RawChangeKind
	MessageID string
	ThreadID  string
	LabelIDs  []string
}

// HistoryDelta is the provider change log from a marker forward, fully
// paginated, plus the log's latest position.
type HistoryDelta struct {
	Changes   []RawChange
	NewMarker uint64
}

// WatchInfo is the provider's answer to a watch request: the baseline
// marker the watch starts at and when it expires.
type WatchInfo struct {
	HistoryID  uint64
	Expiration time.Time
}

// MessageMeta is the minimal display metadata fetched for added messages.
type MessageMeta struct {
	Subject  string
	From     string
	ThreadID string
}

// MailProvider is the capability interface one upstream mail provider
// implements. The coordinator and differ depend only on it; pkg/gmail is
// the Gmail implementation. Implementations classify their wire errors into
// the domain sentinels (ErrCredential, ErrWatchSetup, ErrMarkerTooOld,
// ErrRemoteTimeout, ErrRemoteUnavailable).
type MailProvider interface {
	Name() string
	SetupWatch(ctx context.Context, creds *Credentials) (*WatchInfo, error)
	CancelWatch(ctx context.Context, creds *Credentials) error
	FetchHistorySince(ctx context.Context, creds *Credentials, marker uint64) (*HistoryDelta, error)
	GetCounts(ctx context.Context, creds *Credentials) (*MailboxCounts, error)
	GetMessageMeta(ctx context.Context, creds *Credentials, messageID string) (*MessageMeta, error)
	CurrentMarker(ctx context.Context, creds *Credentials) (uint64, error)
}
