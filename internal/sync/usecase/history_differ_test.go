package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	syncdomain "mailsync-backend/internal/sync/domain"
)

func TestDiffSinceTranslatesReadStateTransitions(t *testing.T) {
	provider := &fakeProvider{
		delta: &syncdomain.HistoryDelta{
			NewMarker: 210,
			Changes: []syncdomain.RawChange{
				{Kind: syncdomain.RawLabelAdded, MessageID: "m1", LabelIDs: []string{"UNREAD"}},
				{Kind: syncdomain.RawLabelRemoved, MessageID: "m2", LabelIDs: []string{"UNREAD"}},
				{Kind: syncdomain.RawLabelAdded, MessageID: "m3", LabelIDs: []string{"STARRED"}},
			},
		},
	}
	differ := NewHistoryDiffer(provider)

	events, marker, err := differ.DiffSince(context.Background(), &syncdomain.Credentials{}, 200)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if marker != 210 {
		t.Fatalf("marker = %d, want 210", marker)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}

	if events[0].ChangeType != syncdomain.MarkedUnread || events[0].IsRead {
		t.Fatalf("unread label add misread: %+v", events[0])
	}
	if events[1].ChangeType != syncdomain.MarkedRead || !events[1].IsRead {
		t.Fatalf("unread label remove misread: %+v", events[1])
	}
	if events[2].HasReadState() {
		t.Fatalf("unrelated label change got a read state: %+v", events[2])
	}
}

func TestDiffSinceEnrichesAddedMessages(t *testing.T) {
	provider := &fakeProvider{
		delta: &syncdomain.HistoryDelta{
			NewMarker: 300,
			Changes: []syncdomain.RawChange{
				{Kind: syncdomain.RawMessageAdded, MessageID: "m1", LabelIDs: []string{"INBOX", "UNREAD"}},
			},
		},
		meta: map[string]*syncdomain.MessageMeta{
			"m1": {Subject: "Invoice", From: "billing@example.com", ThreadID: "t9"},
		},
	}
	differ := NewHistoryDiffer(provider)

	events, _, err := differ.DiffSince(context.Background(), &syncdomain.Credentials{}, 200)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	event := events[0]
	if event.Subject != "Invoice" || event.From != "billing@example.com" {
		t.Fatalf("metadata not applied: %+v", event)
	}
	if event.ThreadID != "t9" {
		t.Fatalf("thread id not backfilled from metadata: %+v", event)
	}
}

func TestDiffSinceMetadataFailureDegradesNotDrops(t *testing.T) {
	provider := &fakeProvider{
		delta: &syncdomain.HistoryDelta{
			NewMarker: 300,
			Changes: []syncdomain.RawChange{
				{Kind: syncdomain.RawMessageAdded, MessageID: "m1"},
			},
		},
		metaErr: fmt.Errorf("%w: metadata", syncdomain.ErrRemoteTimeout),
	}
	differ := NewHistoryDiffer(provider)

	events, _, err := differ.DiffSince(context.Background(), &syncdomain.Credentials{}, 200)
	if err != nil {
		t.Fatalf("metadata failure must not fail the diff: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("change dropped on metadata failure: %d events", len(events))
	}
	if events[0].Subject != "" || events[0].Kind != syncdomain.ChangeMessageAdded {
		t.Fatalf("degraded event wrong: %+v", events[0])
	}
}

func TestDiffSincePreservesLogOrder(t *testing.T) {
	provider := &fakeProvider{
		delta: &syncdomain.HistoryDelta{
			NewMarker: 400,
			Changes: []syncdomain.RawChange{
				{Kind: syncdomain.RawMessageAdded, MessageID: "m1"},
				{Kind: syncdomain.RawLabelRemoved, MessageID: "m1", LabelIDs: []string{"UNREAD"}},
				{Kind: syncdomain.RawMessageRemoved, MessageID: "m1"},
			},
		},
	}
	differ := NewHistoryDiffer(provider)

	events, _, err := differ.DiffSince(context.Background(), &syncdomain.Credentials{}, 390)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}

	wantKinds := []syncdomain.ChangeKind{
		syncdomain.ChangeMessageAdded,
		syncdomain.ChangeLabelRemoved,
		syncdomain.ChangeMessageRemoved,
	}
	for i, kind := range wantKinds {
		if events[i].Kind != kind {
			t.Fatalf("event %d kind = %q, want %q", i, events[i].Kind, kind)
		}
	}
}

func TestDiffSincePropagatesMarkerTooOld(t *testing.T) {
	provider := &fakeProvider{
		fetchErr: fmt.Errorf("%w: history id 10", syncdomain.ErrMarkerTooOld),
	}
	differ := NewHistoryDiffer(provider)

	_, _, err := differ.DiffSince(context.Background(), &syncdomain.Credentials{}, 10)
	if !errors.Is(err, syncdomain.ErrMarkerTooOld) {
		t.Fatalf("want ErrMarkerTooOld, got %v", err)
	}
}
