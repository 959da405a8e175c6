package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	syncdomain "mailsync-backend/internal/sync/domain"
	"mailsync-backend/internal/sync/usecase"

	"github.com/gin-gonic/gin"
)

type processedCall struct {
	email     string
	historyID uint64
}

type fakeSyncUsecase struct {
	startErr   error
	stopErr    error
	forceErr   error
	processErr error
	status     *usecase.SyncStatus

	started   []string
	processed []processedCall
}

func (f *fakeSyncUsecase) StartSync(ctx context.Context, userID, emailAddress string, creds *syncdomain.Credentials) error {
	f.started = append(f.started, userID)
	return f.startErr
}

func (f *fakeSyncUsecase) StopSync(ctx context.Context, userID string) error {
	return f.stopErr
}

func (f *fakeSyncUsecase) Status(ctx context.Context, userID string) (*usecase.SyncStatus, error) {
	if f.status != nil {
		return f.status, nil
	}
	return &usecase.SyncStatus{}, nil
}

func (f *fakeSyncUsecase) ForceSync(ctx context.Context, userID string) error {
	return f.forceErr
}

func (f *fakeSyncUsecase) ProcessNotification(ctx context.Context, emailAddress string, historyID uint64) error {
	f.processed = append(f.processed, processedCall{email: emailAddress, historyID: historyID})
	return f.processErr
}

func (f *fakeSyncUsecase) ResumeAll(ctx context.Context) error { return nil }

func (f *fakeSyncUsecase) StartRenewalLoop() {}

func newWebhookRouter(uc usecase.SyncUsecase, token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/notifications/gmail", NewWebhookHandler(uc, token).Receive)
	return r
}

func pushBody(t *testing.T, notification interface{}) []byte {
	t.Helper()
	inner, err := json.Marshal(notification)
	if err != nil {
		t.Fatalf("marshal notification: %v", err)
	}
	envelope := map[string]interface{}{
		"message": map[string]interface{}{
			"data":      base64.StdEncoding.EncodeToString(inner),
			"messageId": "msg-1",
		},
		"subscription": "projects/p/subscriptions/mailsync",
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return body
}

func postWebhook(r *gin.Engine, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookAcksValidNotification(t *testing.T) {
	uc := &fakeSyncUsecase{}
	r := newWebhookRouter(uc, "")

	body := pushBody(t, map[string]interface{}{"emailAddress": "u1@example.com", "historyId": 12345})
	w := postWebhook(r, "/api/notifications/gmail", body)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if len(uc.processed) != 1 || uc.processed[0].email != "u1@example.com" || uc.processed[0].historyID != 12345 {
		t.Fatalf("processed = %+v", uc.processed)
	}
}

func TestWebhookAcceptsStringHistoryID(t *testing.T) {
	uc := &fakeSyncUsecase{}
	r := newWebhookRouter(uc, "")

	body := pushBody(t, map[string]interface{}{"emailAddress": "u1@example.com", "historyId": "67890"})
	w := postWebhook(r, "/api/notifications/gmail", body)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if len(uc.processed) != 1 || uc.processed[0].historyID != 67890 {
		t.Fatalf("processed = %+v", uc.processed)
	}
}

func TestWebhookAcksMalformedEnvelope(t *testing.T) {
	uc := &fakeSyncUsecase{}
	r := newWebhookRouter(uc, "")

	w := postWebhook(r, "/api/notifications/gmail", []byte("{not json"))

	if w.Code != http.StatusNoContent {
		t.Fatalf("malformed envelope must be acknowledged, got %d", w.Code)
	}
	if len(uc.processed) != 0 {
		t.Fatal("malformed envelope reached the usecase")
	}
}

func TestWebhookAcksUndecodablePayload(t *testing.T) {
	uc := &fakeSyncUsecase{}
	r := newWebhookRouter(uc, "")

	envelope := map[string]interface{}{
		"message": map[string]interface{}{"data": "!!!not-base64!!!", "messageId": "msg-2"},
	}
	body, _ := json.Marshal(envelope)
	w := postWebhook(r, "/api/notifications/gmail", body)

	if w.Code != http.StatusNoContent {
		t.Fatalf("undecodable payload must be acknowledged, got %d", w.Code)
	}
	if len(uc.processed) != 0 {
		t.Fatal("undecodable payload reached the usecase")
	}
}

func TestWebhookNacksTransientFailure(t *testing.T) {
	uc := &fakeSyncUsecase{processErr: fmt.Errorf("%w: 503", syncdomain.ErrRemoteUnavailable)}
	r := newWebhookRouter(uc, "")

	body := pushBody(t, map[string]interface{}{"emailAddress": "u1@example.com", "historyId": 9})
	w := postWebhook(r, "/api/notifications/gmail", body)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("transient failure should request redelivery, got %d", w.Code)
	}
}

func TestWebhookAcksCredentialFailure(t *testing.T) {
	uc := &fakeSyncUsecase{processErr: fmt.Errorf("%w: revoked", syncdomain.ErrCredential)}
	r := newWebhookRouter(uc, "")

	body := pushBody(t, map[string]interface{}{"emailAddress": "u1@example.com", "historyId": 9})
	w := postWebhook(r, "/api/notifications/gmail", body)

	if w.Code != http.StatusNoContent {
		t.Fatalf("credential failure is permanent and must be acknowledged, got %d", w.Code)
	}
}

func TestWebhookVerifyToken(t *testing.T) {
	uc := &fakeSyncUsecase{}
	r := newWebhookRouter(uc, "shared-secret")
	body := pushBody(t, map[string]interface{}{"emailAddress": "u1@example.com", "historyId": 1})

	if w := postWebhook(r, "/api/notifications/gmail", body); w.Code != http.StatusForbidden {
		t.Fatalf("missing token accepted: %d", w.Code)
	}
	if w := postWebhook(r, "/api/notifications/gmail?token=wrong", body); w.Code != http.StatusForbidden {
		t.Fatalf("wrong token accepted: %d", w.Code)
	}
	if len(uc.processed) != 0 {
		t.Fatal("unverified request reached the usecase")
	}

	if w := postWebhook(r, "/api/notifications/gmail?token=shared-secret", body); w.Code != http.StatusNoContent {
		t.Fatalf("valid token rejected: %d", w.Code)
	}
}
