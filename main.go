package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	log "github.com/sirupsen/logrus"

	"loci-server/config"
	"loci-server/database"
	"loci-server/handlers"
	"loci-server/middleware"
	"loci-server/services"
	"loci-server/utils"
	"loci-server/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	cfg.ConfigureLogging()

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("❌ %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Identity + notifications ---
	users := services.NewUserDirectory(db)

	var images services.ImageURLResolver
	if cfg.S3Bucket != "" {
		storage, err := utils.NewObjectStorage(ctx, utils.StorageConfig{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PresignTTL:      cfg.S3PresignTTL,
		})
		if err != nil {
			log.Fatalf("❌ failed to initialize object storage: %v", err)
		}
		images = storage
	} else {
		log.Warn("⚠️  S3_BUCKET not set, profile image refs are sent as-is")
	}

	push := services.NewPushSender(cfg.PushGatewayURL, cfg.PushGatewayToken)
	notificationService := services.NewNotificationService(db, users, push, images)

	// --- Intimacy engine + level-up work queue ---
	dispatcher := workers.NewLevelUpDispatcher(notificationService, cfg.LevelUpQueueSize)
	intimacyService := services.NewIntimacyService(db, services.DefaultLevelTable, dispatcher, cfg.Location())
	// Stopped explicitly after the HTTP server, not by the signal context.
	dispatcher.Start(context.Background())

	// --- Background workers ---
	if cfg.SyncServiceURL != "" {
		workers.NewUserSyncWorker(db, cfg.SyncServiceURL, cfg.ServiceToken, cfg.SyncInterval).Start(ctx)
	} else {
		log.Warn("⚠️  SYNC_SERVICE_URL not set, user mirror will not be refreshed")
	}

	sched, err := services.StartMaintenanceScheduler(
		intimacyService,
		notificationService,
		time.Duration(cfg.NotificationRetentionDays)*24*time.Hour,
	)
	if err != nil {
		log.Fatalf("❌ failed to start scheduler: %v", err)
	}

	// --- HTTP ---
	app := fiber.New(fiber.Config{
		AppName:      "loci-intimacy",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
	})

	// 🔐 Only gateway requests, except probes, metrics and the SSE stream
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOriginList(), ","),
		AllowMethods:     "GET,POST,PATCH,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, X-Device-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	app.Use(middleware.UserContextMiddleware())

	limiter := middleware.NewRateLimiter(cfg.UserRateLimitRPS, cfg.UserRateLimitBurst)
	stopCleanup := limiter.StartCleanup(5 * time.Minute)
	defer stopCleanup()

	authClient := services.NewAuthServiceClient(cfg.AuthServiceURL, cfg.ServiceToken)

	handlers.SetupSystemRoutes(app, db)
	handlers.SetupIntimacyRoutes(app, intimacyService, users, limiter)
	handlers.SetupNotificationRoutes(app, notificationService, authClient)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Errorf("Server error: %v", err)
		}
	}()

	log.Infof("✅ Server running on http://localhost:%s", cfg.Port)
	log.Infof("✅ Calendar-day windows use %s", cfg.Location())
	log.Infof("✅ CORS configured for origins: %v", cfg.AllowedOriginList())

	<-ctx.Done()
	log.Info("Shutting down server...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.WithError(err).Warn("HTTP shutdown did not finish cleanly")
	}
	if err := sched.Shutdown(); err != nil {
		log.WithError(err).Warn("scheduler shutdown failed")
	}

	dispatcher.Stop()
	select {
	case <-dispatcher.Done():
	case <-time.After(30 * time.Second):
		log.Warn("⚠️  level-up queue not fully drained before exit")
	}
}

