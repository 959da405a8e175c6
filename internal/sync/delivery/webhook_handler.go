package delivery

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	syncdomain "mailsync-backend/internal/sync/domain"
	syncdto "mailsync-backend/internal/sync/dto"
	"mailsync-backend/internal/sync/usecase"

	"github.com/gin-gonic/gin"
)

// WebhookHandler receives Pub/Sub push deliveries. 204 acknowledges the
// message; 503 asks the push endpoint to redeliver it.
type WebhookHandler struct {
	syncUsecase usecase.SyncUsecase
	verifyToken string
}

func NewWebhookHandler(syncUsecase usecase.SyncUsecase, verifyToken string) *WebhookHandler {
	return &WebhookHandler{
		syncUsecase: syncUsecase,
		verifyToken: verifyToken,
	}
}

func (h *WebhookHandler) Receive(c *gin.Context) {
	if h.verifyToken != "" && c.Query("token") != h.verifyToken {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid token"})
		return
	}

	var envelope syncdto.PushEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		// A payload that cannot parse never succeeds later; acknowledge it.
		log.Printf("[Webhook] dropping malformed push envelope: %v", err)
		c.Status(http.StatusNoContent)
		return
	}

	decoded, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		log.Printf("[Webhook] dropping push message %s: bad base64: %v", envelope.Message.MessageID, err)
		c.Status(http.StatusNoContent)
		return
	}

	var notification syncdto.MailboxNotification
	if err := json.Unmarshal(decoded, &notification); err != nil || notification.EmailAddress == "" {
		log.Printf("[Webhook] dropping push message %s: bad notification payload", envelope.Message.MessageID)
		c.Status(http.StatusNoContent)
		return
	}

	err = h.syncUsecase.ProcessNotification(c.Request.Context(), notification.EmailAddress, notification.HistoryIDValue())
	if err != nil {
		if errors.Is(err, syncdomain.ErrCredential) {
			// Permanent failure; redelivery cannot help.
			log.Printf("[Webhook] credential failure for %s: %v", notification.EmailAddress, err)
			c.Status(http.StatusNoContent)
			return
		}
		log.Printf("[Webhook] processing failed for %s, requesting redelivery: %v", notification.EmailAddress, err)
		c.Status(http.StatusServiceUnavailable)
		return
	}

	c.Status(http.StatusNoContent)
}
