package delivery

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	syncdomain "mailsync-backend/internal/sync/domain"
	"mailsync-backend/internal/sync/usecase"

	"github.com/gin-gonic/gin"
)

func newControlRouter(uc usecase.SyncUsecase, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set("userID", userID)
		}
	})

	h := NewSyncHandler(uc)
	r.POST("/api/sync/start", h.Start)
	r.POST("/api/sync/stop", h.Stop)
	r.GET("/api/sync/status", h.Status)
	r.POST("/api/sync/force", h.Force)
	return r
}

func perform(r *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func startBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"accessToken":  "at",
		"refreshToken": "rt",
		"emailAddress": "u1@example.com",
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return body
}

func TestStartEndpointRequiresAuth(t *testing.T) {
	r := newControlRouter(&fakeSyncUsecase{}, "")
	if w := perform(r, http.MethodPost, "/api/sync/start", startBody(t)); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestStartEndpointValidatesBody(t *testing.T) {
	uc := &fakeSyncUsecase{}
	r := newControlRouter(uc, "u1")

	body, _ := json.Marshal(map[string]string{"accessToken": "at"})
	if w := perform(r, http.MethodPost, "/api/sync/start", body); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(uc.started) != 0 {
		t.Fatal("invalid body reached the usecase")
	}
}

func TestStartEndpointMapsDomainErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: revoked", syncdomain.ErrCredential), http.StatusUnauthorized},
		{fmt.Errorf("%w: quota", syncdomain.ErrWatchSetup), http.StatusBadGateway},
		{fmt.Errorf("%w: 503", syncdomain.ErrRemoteUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: slow", syncdomain.ErrRemoteTimeout), http.StatusServiceUnavailable},
		{errors.New("database gone"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		r := newControlRouter(&fakeSyncUsecase{startErr: tt.err}, "u1")
		if w := perform(r, http.MethodPost, "/api/sync/start", startBody(t)); w.Code != tt.want {
			t.Fatalf("%v: status = %d, want %d", tt.err, w.Code, tt.want)
		}
	}
}

func TestStartEndpointSucceeds(t *testing.T) {
	uc := &fakeSyncUsecase{}
	r := newControlRouter(uc, "u1")

	if w := perform(r, http.MethodPost, "/api/sync/start", startBody(t)); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(uc.started) != 1 || uc.started[0] != "u1" {
		t.Fatalf("started = %v", uc.started)
	}
}

func TestStopEndpointNotActive(t *testing.T) {
	uc := &fakeSyncUsecase{stopErr: syncdomain.ErrSyncNotActive}
	r := newControlRouter(uc, "u1")

	if w := perform(r, http.MethodPost, "/api/sync/stop", nil); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	uc := &fakeSyncUsecase{status: &usecase.SyncStatus{
		Active:      true,
		LastSync:    time.Now(),
		WatchExpiry: time.Now().Add(48 * time.Hour),
	}}
	r := newControlRouter(uc, "u1")

	w := perform(r, http.MethodGet, "/api/sync/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["active"] != true {
		t.Fatalf("active = %v", resp["active"])
	}
	if _, ok := resp["watchExpiry"]; !ok {
		t.Fatalf("watchExpiry missing: %v", resp)
	}
}

func TestForceEndpointNotFound(t *testing.T) {
	uc := &fakeSyncUsecase{forceErr: syncdomain.ErrSyncNotActive}
	r := newControlRouter(uc, "u1")

	if w := perform(r, http.MethodPost, "/api/sync/force", nil); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
