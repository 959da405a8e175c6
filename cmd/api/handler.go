package api

import (
	"strings"

	deviceRepo "mailsync-backend/internal/devices/repository"
	syncUsecase "mailsync-backend/internal/sync/usecase"
	"mailsync-backend/pkg/config"
	"mailsync-backend/pkg/realtime"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	syncUsecase  syncUsecase.SyncUsecase
	deviceTokens deviceRepo.DeviceTokenRepository
	sseManager   *realtime.Manager
	wsHub        *realtime.WSHub
	config       *config.Config
}

func NewHandler(syncUc syncUsecase.SyncUsecase, deviceTokens deviceRepo.DeviceTokenRepository, sseManager *realtime.Manager, wsHub *realtime.WSHub, cfg *config.Config) *Handler {
	return &Handler{
		syncUsecase:  syncUc,
		deviceTokens: deviceTokens,
		sseManager:   sseManager,
		wsHub:        wsHub,
		config:       cfg,
	}
}

func (h *Handler) Start(addr string) error {
	r := gin.Default()
	gin.SetMode(gin.ReleaseMode)

	r.Use(corsMiddleware(h.config.AllowedOrigins))

	SetupRoutes(r, h.syncUsecase, h.deviceTokens, h.sseManager, h.wsHub, h.config)

	return r.Run(addr)
}

// corsMiddleware reflects the request origin when it is allowed. allowed is
// a comma-separated origin list; "*" or empty allows any origin.
func corsMiddleware(allowed string) gin.HandlerFunc {
	allowAll := allowed == "" || allowed == "*"
	allowedSet := make(map[string]bool)
	for _, origin := range strings.Split(allowed, ",") {
		allowedSet[strings.TrimSpace(origin)] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case origin == "":
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case allowAll || allowedSet[origin]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
