package main

import (
	"context"
	"log"
	"strings"

	api "mailsync-backend/cmd/api"
	deviceDomain "mailsync-backend/internal/devices/domain"
	deviceRepo "mailsync-backend/internal/devices/repository"
	"mailsync-backend/internal/notification"
	syncDomain "mailsync-backend/internal/sync/domain"
	syncRepo "mailsync-backend/internal/sync/repository"
	"mailsync-backend/internal/sync/scheduler"
	syncUsecase "mailsync-backend/internal/sync/usecase"
	"mailsync-backend/pkg/cache"
	"mailsync-backend/pkg/config"
	"mailsync-backend/pkg/database"
	"mailsync-backend/pkg/fcm"
	"mailsync-backend/pkg/gmail"
	"mailsync-backend/pkg/realtime"
	"mailsync-backend/pkg/secrets"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database schemas
	if err := db.AutoMigrate(&syncDomain.WatchRegistration{}, &deviceDomain.DeviceToken{}, &cache.Entry{}); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Credential sealing for tokens at rest
	box, err := secrets.NewBox(cfg.CredentialSealKey)
	if err != nil {
		log.Fatal("Failed to initialize credential sealing:", err)
	}

	// Initialize repositories (dependency injection)
	watchRepo := syncRepo.NewWatchRegistrationRepository(db)
	deviceTokenRepo := deviceRepo.NewDeviceTokenRepository(db)

	// Tiered cache: in-process tier over the shared Postgres tier
	tieredCache := cache.NewTieredCache(cache.NewGormStore(db), cache.Options{
		Tier1TTLCeiling: cfg.CacheTier1TTLCeiling,
		Tier1MaxEntries: cfg.CacheTier1MaxEntries,
		HotKeyThreshold: cfg.HotKeyThreshold,
		HotKeyWindow:    cfg.HotKeyWindow,
	})

	// Initialize SSE Manager
	sseManager := realtime.NewManager()
	go sseManager.Run()

	// Initialize WebSocket hub
	wsHub := realtime.NewWSHub()

	// Initialize FCM sink (optional, streams work without it)
	sinks := []realtime.Sink{sseManager, wsHub}
	if cfg.FirebaseCredentials != "" {
		fcmClient, err := fcm.NewClient(cfg.FirebaseCredentials)
		if err != nil {
			log.Printf("[WARN] Failed to initialize FCM client (push notifications disabled): %v", err)
		} else {
			sinks = append(sinks, realtime.NewFCMSink(fcmClient, deviceTokenRepo))
		}
	} else {
		log.Printf("[WARN] No Firebase credentials configured, FCM disabled")
	}
	broadcaster := realtime.NewBroadcaster(sinks...)

	// Gmail watch requests need the full topic resource name; Pub/Sub client
	// calls take the short name.
	watchTopic := cfg.GooglePubSubTopic
	if !strings.Contains(watchTopic, "/") && cfg.GoogleProjectID != "" {
		watchTopic = "projects/" + cfg.GoogleProjectID + "/topics/" + watchTopic
	}
	shortTopic := cfg.GooglePubSubTopic
	if parts := strings.Split(shortTopic, "/"); len(parts) > 1 {
		shortTopic = parts[len(parts)-1]
	}

	// Initialize Gmail provider
	gmailService := gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret, watchTopic)

	// Scheduler owns the renewal, fallback and purge timers
	sched := scheduler.New()

	syncUc := syncUsecase.NewSyncUsecase(watchRepo, gmailService, tieredCache, broadcaster, box, sched, cfg)

	// Re-arm fallback polling for registrations that survived a restart
	if err := syncUc.ResumeAll(context.Background()); err != nil {
		log.Printf("[WARN] Failed to resume existing registrations: %v", err)
	}
	syncUc.StartRenewalLoop()

	sched.Schedule("cache-purge", cfg.CachePurgeInterval, false, func() {
		tieredCache.PurgeExpired(context.Background())
	})

	// Initialize Notification Service (Pub/Sub pull)
	// Only start if project ID is configured
	if cfg.GoogleProjectID != "" {
		notifService, err := notification.NewService(cfg.GoogleProjectID, shortTopic, syncUc, cfg.GoogleCredentials)
		if err != nil {
			log.Printf("[ERROR] Failed to initialize notification service: %v", err)
		} else {
			go notifService.Start(context.Background())
		}
	} else {
		log.Printf("[WARN] GoogleProjectID not configured, notification service disabled")
	}

	// Initialize HTTP handler
	handler := api.NewHandler(syncUc, deviceTokenRepo, sseManager, wsHub, cfg)

	// Start server
	log.Printf("Server starting on port %s", cfg.Port)
	if err := handler.Start(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
