package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reward-sync-system/handlers"
	"reward-sync-system/middleware"
	"reward-sync-system/models"
	"reward-sync-system/services"
	"reward-sync-system/utils"
	"reward-sync-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openDB() (*gorm.DB, error) {
	// Shared-device kiosk deployments point DATABASE_URL at postgres; the
	// default is a local sqlite file, which is all a single client needs.
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	}
	path := utils.EnvOr("OUTBOX_DB_PATH", "./reward-outbox.db")
	return gorm.Open(sqlite.Open(path), &gorm.Config{})
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	syncServerURL := os.Getenv("SYNC_SERVER_URL")
	if syncServerURL == "" {
		log.Fatal("SYNC_SERVER_URL environment variable not set")
	}
	serviceToken := os.Getenv("SYNC_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("SYNC_SERVICE_TOKEN environment variable not set")
	}

	flags := services.LoadFeatureFlags()
	clock := clockwork.NewRealClock()
	reporter := services.NewPipelineReporter()

	db, err := openDB()
	if err != nil {
		log.Fatal("failed to open local event store:", err)
	}
	if err := db.AutoMigrate(
		&models.GameEvent{},
		&models.StreakRecord{},
	); err != nil {
		log.Fatal("failed to migrate local event store:", err)
	}

	outbox := services.NewOutboxService(db, reporter, clock)
	if err := outbox.RecoverInFlight(); err != nil {
		log.Printf("⚠️  in-flight recovery failed: %v", err)
	}

	animations := services.NewAnimationQueueService(
		clock,
		flags.AnimationQueueEnabled,
		utils.EnvDuration("XP_DEBOUNCE_WINDOW", 800*time.Millisecond),
		utils.EnvDuration("DISMISS_PAUSE", 300*time.Millisecond),
	)
	progression := services.NewProgressionTracker()
	pipeline := services.NewPipelineService(outbox, animations, progression, clock)

	serverClient := workers.NewServerClient(syncServerURL, serviceToken)
	streaks := services.NewStreakService(
		db, clock,
		utils.EnvInt("STREAK_CUTOVER_HOUR", 0),
		serverClient, animations, progression, reporter,
	)

	archive, err := utils.NewQuarantineArchive()
	if err != nil {
		log.Fatal("failed to initialize quarantine archive:", err)
	}
	if archive != nil {
		log.Println("✅ Quarantine archive enabled")
	}

	flushWorker := workers.NewFlushWorker(outbox, serverClient, reporter, archive, flags, clock)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go flushWorker.Start(ctx)

	sched, err := workers.StartScheduler(
		flushWorker, streaks, outbox,
		utils.EnvDuration("FLUSH_INTERVAL", 5*time.Second),
		utils.EnvDuration("SYNCED_RETENTION", 24*time.Hour),
	)
	if err != nil {
		log.Fatal("failed to start scheduler:", err)
	}

	app := fiber.New(fiber.Config{})
	app.Use(middleware.UIAuthMiddleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins: utils.EnvOr("ALLOWED_ORIGINS", "http://localhost:3000"),
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Student-ID",
	}))

	handlers.SetupPipelineRoutes(app, pipeline, streaks, animations, flushWorker, outbox)

	addr := ":" + utils.EnvOr("PORT", "5300")
	go func() {
		if err := app.Listen(addr); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Reward pipeline running on http://localhost%s", addr)
	log.Printf("✅ Flush worker running (interval %s)", utils.EnvOr("FLUSH_INTERVAL", "5s"))
	log.Printf("✅ Coalescing=%t Queueing=%t UnloadFlush=%t",
		flags.CoalesceEnabled, flags.AnimationQueueEnabled, flags.UnloadFlushEnabled)

	<-ctx.Done()
	log.Println("Shutting down…")

	// best-effort page-hide analogue; the durable outbox is the real guarantee
	flushWorker.FinalFlush(3 * time.Second)

	if err := sched.Shutdown(); err != nil {
		log.Printf("scheduler shutdown error: %v", err)
	}
	if err := app.Shutdown(); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}
