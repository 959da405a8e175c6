package dto

import (
	"encoding/json"
	"time"
)

type StartSyncRequest struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	EmailAddress string `json:"emailAddress" binding:"required,email"`
}

type SyncStatusResponse struct {
	Active      bool      `json:"active"`
	LastSync    time.Time `json:"lastSync"`
	WatchExpiry time.Time `json:"watchExpiry"`
}

// PushEnvelope is the Pub/Sub push delivery wrapper. Data is the
// base64-encoded notification JSON.
type PushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// MailboxNotification is the decoded Gmail notification payload. HistoryID
// arrives as a string or a number depending on the publisher, so it is
// decoded through json.Number.
type MailboxNotification struct {
	EmailAddress string      `json:"emailAddress"`
	HistoryID    json.Number `json:"historyId"`
}

// HistoryIDValue returns the numeric history position, zero when absent or
// unparseable.
func (n MailboxNotification) HistoryIDValue() uint64 {
	if n.HistoryID == "" {
		return 0
	}
	val, err := n.HistoryID.Int64()
	if err != nil || val < 0 {
		return 0
	}
	return uint64(val)
}
