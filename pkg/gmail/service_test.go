package gmail

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"mailsync-backend/internal/sync/domain"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

func TestFlattenHistoryExpandsRecordInOrder(t *testing.T) {
	h := &gmail.History{
		MessagesAdded: []*gmail.HistoryMessageAdded{
			{Message: &gmail.Message{Id: "m1", ThreadId: "t1", LabelIds: []string{"INBOX", "UNREAD"}}},
			{Message: nil},
		},
		MessagesDeleted: []*gmail.HistoryMessageDeleted{
			{Message: &gmail.Message{Id: "m2", ThreadId: "t2"}},
		},
		LabelsAdded: []*gmail.HistoryLabelAdded{
			{Message: &gmail.Message{Id: "m3", ThreadId: "t3"}, LabelIds: []string{"UNREAD"}},
		},
		LabelsRemoved: []*gmail.HistoryLabelRemoved{
			{Message: &gmail.Message{Id: "m4", ThreadId: "t4"}, LabelIds: []string{"INBOX"}},
		},
	}

	changes := flattenHistory(h)
	if len(changes) != 4 {
		t.Fatalf("expected 4 changes (nil message skipped), got %d", len(changes))
	}

	wantKinds := []domain.RawChangeKind{
		domain.RawMessageAdded,
		domain.RawMessageRemoved,
		domain.RawLabelAdded,
		domain.RawLabelRemoved,
	}
	for i, kind := range wantKinds {
		if changes[i].Kind != kind {
			t.Fatalf("change %d: got kind %q, want %q", i, changes[i].Kind, kind)
		}
	}

	if changes[0].MessageID != "m1" || changes[0].ThreadID != "t1" {
		t.Fatalf("added change lost identity: %+v", changes[0])
	}
	if len(changes[2].LabelIDs) != 1 || changes[2].LabelIDs[0] != "UNREAD" {
		t.Fatalf("label change lost label set: %+v", changes[2])
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyMapsTransportErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unauthorized", &googleapi.Error{Code: 401}, domain.ErrCredential},
		{"revoked refresh token", errors.New(`oauth2: "invalid_grant" "Token has been revoked"`), domain.ErrCredential},
		{"server error", &googleapi.Error{Code: 503}, domain.ErrRemoteUnavailable},
		{"rate limited", &googleapi.Error{Code: 429}, domain.ErrRemoteUnavailable},
		{"deadline", context.DeadlineExceeded, domain.ErrRemoteTimeout},
		{"network timeout", timeoutErr{}, domain.ErrRemoteTimeout},
		{"wrapped server error", fmt.Errorf("Get: %w", &googleapi.Error{Code: 500}), domain.ErrRemoteUnavailable},
	}

	for _, tt := range tests {
		got := classify(tt.err, "list history")
		if !errors.Is(got, tt.want) {
			t.Fatalf("%s: classify(%v) = %v, want sentinel %v", tt.name, tt.err, got, tt.want)
		}
	}
}

func TestClassifyLeavesClientErrorsUnmapped(t *testing.T) {
	got := classify(&googleapi.Error{Code: 400}, "list history")

	sentinels := []error{
		domain.ErrCredential,
		domain.ErrWatchSetup,
		domain.ErrMarkerTooOld,
		domain.ErrRemoteTimeout,
		domain.ErrRemoteUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(got, s) {
			t.Fatalf("400 should not map to %v, got %v", s, got)
		}
	}
}

type sequenceSource struct {
	tokens []*oauth2.Token
	i      int
}

func (s *sequenceSource) Token() (*oauth2.Token, error) {
	t := s.tokens[s.i]
	if s.i < len(s.tokens)-1 {
		s.i++
	}
	return t, nil
}

func TestNotifyTokenSourceFiresOncePerRefresh(t *testing.T) {
	initial := &oauth2.Token{AccessToken: "old"}
	refreshed := &oauth2.Token{AccessToken: "new", Expiry: time.Now().Add(time.Hour)}

	var gotTokens []string
	src := &notifyTokenSource{
		src:     &sequenceSource{tokens: []*oauth2.Token{initial, refreshed, refreshed}},
		current: initial,
		notify: func(accessToken string, expiry time.Time) {
			gotTokens = append(gotTokens, accessToken)
		},
	}

	for i := 0; i < 3; i++ {
		if _, err := src.Token(); err != nil {
			t.Fatalf("token call %d: %v", i, err)
		}
	}

	if len(gotTokens) != 1 || gotTokens[0] != "new" {
		t.Fatalf("expected one notification for the refreshed token, got %v", gotTokens)
	}
}

func TestGetHeader(t *testing.T) {
	headers := []*gmail.MessagePartHeader{
		{Name: "Subject", Value: "Quarterly report"},
		{Name: "From", Value: "alice@example.com"},
	}

	if got := getHeader(headers, "Subject"); got != "Quarterly report" {
		t.Fatalf("subject: got %q", got)
	}
	if got := getHeader(headers, "Date"); got != "" {
		t.Fatalf("missing header should be empty, got %q", got)
	}
}
