package gmail

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"mailsync-backend/internal/sync/domain"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Service talks to the Gmail API on behalf of one OAuth app. It implements
// domain.MailProvider; the topic is the Pub/Sub topic watch notifications
// are published to.
type Service struct {
	clientID     string
	clientSecret string
	topic        string
}

type notifyTokenSource struct {
	src     oauth2.TokenSource
	current *oauth2.Token
	notify  func(accessToken string, expiry time.Time)
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.notify != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		s.notify(t.AccessToken, t.Expiry)
	}
	return t, nil
}

func NewService(clientID, clientSecret, topic string) *Service {
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
		topic:        topic,
	}
}

func (s *Service) Name() string {
	return "gmail"
}

// client creates a Gmail API client from the user's tokens. The token source
// is wrapped so transparent refreshes reach creds.OnRefresh and can be
// persisted by the caller.
func (s *Service) client(ctx context.Context, creds *domain.Credentials) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       creds.Expiry,
	}

	// Without a stored expiry the access token may already be stale; force
	// a refresh attempt when we hold a refresh token.
	if creds.RefreshToken != "" && token.Expiry.IsZero() {
		token.Expiry = time.Now()
	}

	config := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     google.Endpoint,
	}

	wrappedSource := &notifyTokenSource{
		src:     config.TokenSource(ctx, token),
		current: token,
		notify:  creds.OnRefresh,
	}

	httpClient := oauth2.NewClient(ctx, wrappedSource)

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %v", err)
	}

	return srv, nil
}

// SetupWatch registers the Pub/Sub watch on the user's INBOX and returns the
// baseline history position plus the watch expiry.
func (s *Service) SetupWatch(ctx context.Context, creds *domain.Credentials) (*domain.WatchInfo, error) {
	srv, err := s.client(ctx, creds)
	if err != nil {
		return nil, err
	}

	// Gmail allows one push notification client per mailbox; clear any
	// stale watch first. A failure here just means none existed.
	_ = srv.Users.Stop("me").Context(ctx).Do()

	req := &gmail.WatchRequest{
		TopicName: s.topic,
		LabelIds:  []string{"INBOX"},
	}

	resp, err := srv.Users.Watch("me", req).Context(ctx).Do()
	if err != nil {
		if credentialErr(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrCredential, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrWatchSetup, err)
	}
	log.Printf("[Gmail] Watch active on %s, historyId %d, expires %s",
		s.topic, resp.HistoryId, time.UnixMilli(resp.Expiration).Format(time.RFC3339))

	return &domain.WatchInfo{
		HistoryID:  resp.HistoryId,
		Expiration: time.UnixMilli(resp.Expiration),
	}, nil
}

// CancelWatch stops push notifications for the user's mailbox.
func (s *Service) CancelWatch(ctx context.Context, creds *domain.Credentials) error {
	srv, err := s.client(ctx, creds)
	if err != nil {
		return err
	}

	if err := srv.Users.Stop("me").Context(ctx).Do(); err != nil {
		return classify(err, "stop mailbox watch")
	}
	return nil
}

// FetchHistorySince walks the Gmail history log from marker forward across
// all pages and returns the flattened changes in log order. A 404 means the
// marker has aged out of the log and the mailbox needs a full resync.
func (s *Service) FetchHistorySince(ctx context.Context, creds *domain.Credentials, marker uint64) (*domain.HistoryDelta, error) {
	srv, err := s.client(ctx, creds)
	if err != nil {
		return nil, err
	}

	delta := &domain.HistoryDelta{NewMarker: marker}
	pageToken := ""

	for {
		call := srv.Users.History.List("me").StartHistoryId(marker).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			var gerr *googleapi.Error
			if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
				return nil, fmt.Errorf("%w: history id %d", domain.ErrMarkerTooOld, marker)
			}
			return nil, classify(err, "list history")
		}

		if resp.HistoryId > delta.NewMarker {
			delta.NewMarker = resp.HistoryId
		}
		for _, h := range resp.History {
			delta.Changes = append(delta.Changes, flattenHistory(h)...)
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return delta, nil
}

// GetCounts reads the INBOX label counters.
func (s *Service) GetCounts(ctx context.Context, creds *domain.Credentials) (*domain.MailboxCounts, error) {
	srv, err := s.client(ctx, creds)
	if err != nil {
		return nil, err
	}

	label, err := srv.Users.Labels.Get("me", "INBOX").Context(ctx).Do()
	if err != nil {
		return nil, classify(err, "retrieve inbox counts")
	}

	return &domain.MailboxCounts{
		Total:  label.MessagesTotal,
		Unread: label.MessagesUnread,
	}, nil
}

// GetMessageMeta fetches just the Subject and From headers of a message.
func (s *Service) GetMessageMeta(ctx context.Context, creds *domain.Credentials, messageID string) (*domain.MessageMeta, error) {
	srv, err := s.client(ctx, creds)
	if err != nil {
		return nil, err
	}

	msg, err := srv.Users.Messages.Get("me", messageID).
		Format("metadata").
		MetadataHeaders("Subject", "From").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(err, "retrieve message metadata")
	}

	meta := &domain.MessageMeta{ThreadID: msg.ThreadId}
	if msg.Payload != nil {
		meta.Subject = getHeader(msg.Payload.Headers, "Subject")
		meta.From = getHeader(msg.Payload.Headers, "From")
	}
	return meta, nil
}

// CurrentMarker returns the mailbox's latest history position.
func (s *Service) CurrentMarker(ctx context.Context, creds *domain.Credentials) (uint64, error) {
	srv, err := s.client(ctx, creds)
	if err != nil {
		return 0, err
	}

	profile, err := srv.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return 0, classify(err, "retrieve profile")
	}
	return profile.HistoryId, nil
}

// Helper functions

// flattenHistory expands one history record into raw changes, additions
// before removals before label flips, matching the order Gmail reports them.
func flattenHistory(h *gmail.History) []domain.RawChange {
	changes := make([]domain.RawChange, 0,
		len(h.MessagesAdded)+len(h.MessagesDeleted)+len(h.LabelsAdded)+len(h.LabelsRemoved))

	for _, m := range h.MessagesAdded {
		if m.Message == nil {
			continue
		}
		changes = append(changes, domain.RawChange{
			Kind:      domain.RawMessageAdded,
			MessageID: m.Message.Id,
			ThreadID:  m.Message.ThreadId,
			LabelIDs:  m.Message.LabelIds,
		})
	}
	for _, m := range h.MessagesDeleted {
		if m.Message == nil {
			continue
		}
		changes = append(changes, domain.RawChange{
			Kind:      domain.RawMessageRemoved,
			MessageID: m.Message.Id,
			ThreadID:  m.Message.ThreadId,
		})
	}
	for _, l := range h.LabelsAdded {
		if l.Message == nil {
			continue
		}
		changes = append(changes, domain.RawChange{
			Kind:      domain.RawLabelAdded,
			MessageID: l.Message.Id,
			ThreadID:  l.Message.ThreadId,
			LabelIDs:  l.LabelIds,
		})
	}
	for _, l := range h.LabelsRemoved {
		if l.Message == nil {
			continue
		}
		changes = append(changes, domain.RawChange{
			Kind:      domain.RawLabelRemoved,
			MessageID: l.Message.Id,
			ThreadID:  l.Message.ThreadId,
			LabelIDs:  l.LabelIds,
		})
	}
	return changes
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if header.Name == name {
			return header.Value
		}
	}
	return ""
}

// classify maps transport failures onto the domain sentinels so callers can
// branch without knowing googleapi internals.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", domain.ErrRemoteTimeout, op)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %s: %v", domain.ErrRemoteTimeout, op, err)
	}

	if credentialErr(err) {
		return fmt.Errorf("%w: %s: %v", domain.ErrCredential, op, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code >= http.StatusInternalServerError || gerr.Code == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s: %v", domain.ErrRemoteUnavailable, op, err)
		}
	}

	return fmt.Errorf("unable to %s: %v", op, err)
}

func credentialErr(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		return true
	}
	// The oauth2 transport reports revoked refresh tokens this way.
	return strings.Contains(err.Error(), "invalid_grant")
}
