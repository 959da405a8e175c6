package delivery

import (
	"errors"
	"net/http"

	syncdomain "mailsync-backend/internal/sync/domain"
	syncdto "mailsync-backend/internal/sync/dto"
	"mailsync-backend/internal/sync/usecase"

	"github.com/gin-gonic/gin"
)

type SyncHandler struct {
	syncUsecase usecase.SyncUsecase
}

func NewSyncHandler(syncUsecase usecase.SyncUsecase) *SyncHandler {
	return &SyncHandler{
		syncUsecase: syncUsecase,
	}
}

// Start registers the mailbox watch for the authenticated user
func (h *SyncHandler) Start(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req syncdto.StartSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	creds := &syncdomain.Credentials{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
	}
	if err := h.syncUsecase.StartSync(c.Request.Context(), userID, req.EmailAddress, creds); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "sync started"})
}

// Stop tears down the watch for the authenticated user
func (h *SyncHandler) Stop(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	if err := h.syncUsecase.StopSync(c.Request.Context(), userID); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "sync stopped"})
}

// Status reports whether sync is active plus last sync and watch expiry
func (h *SyncHandler) Status(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	status, err := h.syncUsecase.Status(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, syncdto.SyncStatusResponse{
		Active:      status.Active,
		LastSync:    status.LastSync,
		WatchExpiry: status.WatchExpiry,
	})
}

// Force runs one synchronous count refresh
func (h *SyncHandler) Force(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	if err := h.syncUsecase.ForceSync(c.Request.Context(), userID); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "sync refreshed"})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, syncdomain.ErrCredential):
		return http.StatusUnauthorized
	case errors.Is(err, syncdomain.ErrSyncNotActive):
		return http.StatusNotFound
	case errors.Is(err, syncdomain.ErrWatchSetup):
		return http.StatusBadGateway
	case errors.Is(err, syncdomain.ErrRemoteTimeout), errors.Is(err, syncdomain.ErrRemoteUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
