package usecase

import (
	"context"
	"log"

	syncdomain "mailsync-backend/internal/sync/domain"
)

// HistoryDiffer translates the provider change log into normalized change
// events. Unread-flag label changes become read-state transitions; added
// messages are enriched with display metadata.
type HistoryDiffer struct {
	provider syncdomain.MailProvider
}

func NewHistoryDiffer(provider syncdomain.MailProvider) *HistoryDiffer {
	return &HistoryDiffer{provider: provider}
}

// DiffSince fetches history from marker forward and returns the events in
// log order plus the new marker position. Metadata enrichment is
// best-effort; a failed lookup degrades to an event without subject or
// sender, never a dropped change.
func (d *HistoryDiffer) DiffSince(ctx context.Context, creds *syncdomain.Credentials, marker uint64) ([]syncdomain.ChangeEvent, uint64, error) {
	delta, err := d.provider.FetchHistorySince(ctx, creds, marker)
	if err != nil {
		return nil, 0, err
	}

	events := make([]syncdomain.ChangeEvent, 0, len(delta.Changes))
	for _, raw := range delta.Changes {
		switch raw.Kind {
		case syncdomain.RawMessageAdded:
			event := syncdomain.ChangeEvent{
				Kind:      syncdomain.ChangeMessageAdded,
				MessageID: raw.MessageID,
				ThreadID:  raw.ThreadID,
				Labels:    raw.LabelIDs,
			}
			meta, err := d.provider.GetMessageMeta(ctx, creds, raw.MessageID)
			if err != nil {
				log.Printf("[Sync] metadata fetch failed for message %s: %v", raw.MessageID, err)
			} else if meta != nil {
				event.Subject = meta.Subject
				event.From = meta.From
				if event.ThreadID == "" {
					event.ThreadID = meta.ThreadID
				}
			}
			events = append(events, event)

		case syncdomain.RawMessageRemoved:
			events = append(events, syncdomain.ChangeEvent{
				Kind:      syncdomain.ChangeMessageRemoved,
				MessageID: raw.MessageID,
				ThreadID:  raw.ThreadID,
			})

		case syncdomain.RawLabelAdded:
			event := syncdomain.ChangeEvent{
				Kind:      syncdomain.ChangeLabelAdded,
				MessageID: raw.MessageID,
				ThreadID:  raw.ThreadID,
				Labels:    raw.LabelIDs,
			}
			if hasLabel(raw.LabelIDs, syncdomain.LabelUnread) {
				event.ChangeType = syncdomain.MarkedUnread
				event.IsRead = false
			}
			events = append(events, event)

		case syncdomain.RawLabelRemoved:
			event := syncdomain.ChangeEvent{
				Kind:      syncdomain.ChangeLabelRemoved,
				MessageID: raw.MessageID,
				ThreadID:  raw.ThreadID,
				Labels:    raw.LabelIDs,
			}
			if hasLabel(raw.LabelIDs, syncdomain.LabelUnread) {
				event.ChangeType = syncdomain.MarkedRead
				event.IsRead = true
			}
			events = append(events, event)
		}
	}

	return events, delta.NewMarker, nil
}

func hasLabel(labels []string, name string) bool {
	for _, label := range labels {
		if label == name {
			return true
		}
	}
	return false
}
