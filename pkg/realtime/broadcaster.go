package realtime

import (
	"log"
	"time"
)

// Event types delivered to clients. Every payload carries "type" and
// "timestamp" plus the type-specific fields.
const (
	EventSyncStarted                 = "sync_started"
	EventSyncStopped                 = "sync_stopped"
	EventUnreadCountUpdated          = "unread_count_updated"
	EventEmailStatusUpdated          = "email_status_updated"
	EventEmailStatusUpdatedImmediate = "email_status_updated_immediate"
	EventEmailUpdated                = "email_updated"
	EventWatchRenewed                = "watch_renewed"
	EventWatchRenewalFailed          = "watch_renewal_failed"
)

// Sink is one delivery channel (SSE hub, WebSocket hub, FCM). Delivery is
// best-effort and fire-and-forget; a sink that cannot deliver returns an
// error and the broadcaster moves on.
type Sink interface {
	Name() string
	Deliver(userID, eventType string, payload map[string]interface{}) error
}

// Broadcaster fans one event out to every configured channel. No
// acknowledgment, no retry, no ordering guarantee between channels; a
// failure on one channel never suppresses the others.
type Broadcaster struct {
	sinks []Sink
}

func NewBroadcaster(sinks ...Sink) *Broadcaster {
	return &Broadcaster{sinks: sinks}
}

// Publish stamps the wire payload and delivers it to every live connection
// for userID on every channel.
func (b *Broadcaster) Publish(userID, eventType string, fields map[string]interface{}) {
	payload := make(map[string]interface{}, len(fields)+2)
	for key, value := range fields {
		payload[key] = value
	}
	payload["type"] = eventType
	payload["timestamp"] = time.Now()

	for _, sink := range b.sinks {
		if err := sink.Deliver(userID, eventType, payload); err != nil {
			log.Printf("[Realtime] %s delivery failed for user %s: %v", sink.Name(), userID, err)
		}
	}
}
