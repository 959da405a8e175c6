package domain

// ChangeKind classifies one remote-side mutation.
type ChangeKind string

const (
	ChangeMessageAdded   ChangeKind = "message_added"
	ChangeMessageRemoved ChangeKind = "message_removed"
	ChangeLabelAdded     ChangeKind = "label_added"
	ChangeLabelRemoved   ChangeKind = "label_removed"
)

// Read-state transitions derived from unread-flag label changes.
const (
	MarkedRead   = "marked_read"
	MarkedUnread = "marked_unread"
)

// LabelUnread is the canonical unread flag. Provider implementations
// translate their wire representation to it.
const LabelUnread = "UNREAD"

// ChangeEvent is a normalized description of one remote mutation, produced
// by the history differ and consumed once by the invalidation/broadcast
// step. ChangeType and IsRead are only meaningful for label events carrying
// the unread flag; an empty ChangeType means the label churn has no
// read-state interpretation. Subject and From are filled for added messages
// when metadata was available.
type ChangeEvent struct {
	Kind       ChangeKind `json:"kind"`
	MessageID  string     `json:"messageId"`
	ThreadID   string     `json:"threadId,omitempty"`
	Labels     []string   `json:"labels,omitempty"`
	ChangeType string     `json:"changeType,omitempty"`
	IsRead     bool       `json:"isRead,omitempty"`
	Subject    string     `json:"subject,omitempty"`
	From       string     `json:"from,omitempty"`
}

// HasReadState reports whether the event carries a derived read-state
// transition.
func (e ChangeEvent) HasReadState() bool {
	return e.ChangeType == MarkedRead || e.ChangeType == MarkedUnread
}
