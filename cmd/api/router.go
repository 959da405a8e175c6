package api

import (
	"net/http"

	authDelivery "mailsync-backend/internal/auth/delivery"
	deviceDelivery "mailsync-backend/internal/devices/delivery"
	deviceRepo "mailsync-backend/internal/devices/repository"
	syncDelivery "mailsync-backend/internal/sync/delivery"
	syncUsecase "mailsync-backend/internal/sync/usecase"
	"mailsync-backend/pkg/config"
	"mailsync-backend/pkg/realtime"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, syncUc syncUsecase.SyncUsecase, deviceTokens deviceRepo.DeviceTokenRepository, sseManager *realtime.Manager, wsHub *realtime.WSHub, cfg *config.Config) {
	syncHandler := syncDelivery.NewSyncHandler(syncUc)
	webhookHandler := syncDelivery.NewWebhookHandler(syncUc, cfg.PubSubVerifyToken)
	deviceHandler := deviceDelivery.NewDeviceHandler(deviceTokens)

	// Liveness probe (no auth required)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		// Pub/Sub push endpoint; authenticated by the shared verify token,
		// not by JWT, since the caller is Google's push delivery.
		api.POST("/notifications/gmail", webhookHandler.Receive)

		// SSE endpoint
		api.GET("/events", authDelivery.AuthMiddleware(cfg.JWTSecret), func(c *gin.Context) {
			userID := c.GetString("userID")
			sseManager.ServeHTTP(c, userID)
		})

		// WebSocket endpoint
		api.GET("/ws", authDelivery.AuthMiddleware(cfg.JWTSecret), func(c *gin.Context) {
			userID := c.GetString("userID")
			wsHub.HandleConnection(c, userID)
		})

		// Sync control routes (protected)
		sync := api.Group("/sync")
		sync.Use(authDelivery.AuthMiddleware(cfg.JWTSecret))
		{
			sync.POST("/start", syncHandler.Start)
			sync.POST("/stop", syncHandler.Stop)
			sync.GET("/status", syncHandler.Status)
			sync.POST("/force", syncHandler.Force)
		}

		// Device token routes (protected)
		devices := api.Group("/devices")
		devices.Use(authDelivery.AuthMiddleware(cfg.JWTSecret))
		{
			devices.POST("", deviceHandler.Register)
			devices.DELETE("/:token", deviceHandler.Unregister)
		}
	}
}
