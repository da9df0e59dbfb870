package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/foxxcyber/solvcaptcha/internal/config"
	"github.com/foxxcyber/solvcaptcha/internal/database"
	"github.com/foxxcyber/solvcaptcha/internal/handlers"
	"github.com/foxxcyber/solvcaptcha/internal/middleware"
	"github.com/foxxcyber/solvcaptcha/internal/pipeline"
	"github.com/foxxcyber/solvcaptcha/internal/services"
)

const cleanupInterval = time.Hour

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	cfg := config.Load()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	if err := database.EnsureAdminUser(db, cfg); err != nil {
		log.Printf("Warning: Could not ensure admin user: %v", err)
	}

	credentials, err := services.NewCredentialService(db, cfg)
	if err != nil {
		log.Fatalf("Invalid solver configuration: %v", err)
	}

	solve := pipeline.Build(cfg, services.LogEvents)
	defer solve.Close()
	if !solve.LocalOCR() {
		log.Println("Local OCR unavailable, solving with external services only")
	}

	storage := initStorage(cfg)

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler,
		BodyLimit:    2 * services.MaxImageBytes,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	h := handlers.New(db, cfg)
	solveHandler := handlers.NewSolveHandler(db, storage, solve, credentials, cfg)
	settingsHandler := handlers.NewSettingsHandler(db, credentials)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "ok",
			"local_ocr": solve.LocalOCR(),
			"services":  solve.Services(),
		})
	})

	api := app.Group("/api")
	authRequired := middleware.AuthRequired(cfg)

	auth := api.Group("/auth")
	auth.Post("/register", h.Register)
	auth.Post("/login", h.Login)
	auth.Get("/me", authRequired, h.GetCurrentUser)
	auth.Post("/refresh", authRequired, h.RefreshToken)
	auth.Post("/password", authRequired, h.ChangePassword)

	api.Post("/solve", authRequired, middleware.SolveLimiter(cfg.SolveRateLimit), solveHandler.Solve)

	solves := api.Group("/solves", authRequired)
	solves.Get("/", solveHandler.ListSolves)
	solves.Get("/:id", solveHandler.GetSolve)
	solves.Get("/:id/image", solveHandler.GetSolveImage)

	admin := api.Group("/admin", authRequired, middleware.AdminRequired())
	admin.Get("/stats", h.AdminGetStats)
	admin.Get("/users", h.AdminListUsers)
	admin.Put("/users/:id", h.AdminUpdateUser)
	admin.Delete("/users/:id", h.AdminDeleteUser)
	admin.Get("/solvers", settingsHandler.GetSolvers)
	admin.Put("/solvers", settingsHandler.UpdateSolvers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go cleanupExpired(ctx, db, storage)

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Printf("Warning: shutdown: %v", err)
		}
	}()

	log.Printf("Server starting on port %s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Printf("Server stopped: %v", err)
	}
}

// initStorage connects the image archive, or returns nil when disabled
func initStorage(cfg *config.Config) *services.StorageService {
	if !cfg.S3Enabled {
		log.Println("Image archive is disabled")
		return nil
	}
	if cfg.S3Endpoint == "" || cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
		log.Println("S3 credentials not configured, image archive disabled")
		return nil
	}

	storage, err := services.NewStorageService(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3Region, cfg.S3UseSSL)
	if err != nil {
		log.Printf("Warning: Failed to initialize storage service: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := storage.EnsureBucket(ctx); err != nil {
		log.Printf("Warning: Failed to ensure S3 bucket exists: %v", err)
	}

	log.Printf("Archiving captcha images to bucket %s", storage.GetBucketName())
	return storage
}

// cleanupExpired deletes solves past their retention, on startup and then
// every cleanupInterval, along with their archived images
func cleanupExpired(ctx context.Context, db *database.DB, storage *services.StorageService) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		keys, err := db.DeleteExpiredSolves(ctx)
		if err != nil {
			log.Printf("Warning: Failed to cleanup expired solves: %v", err)
		} else if len(keys) > 0 && storage != nil {
			if err := storage.DeleteImages(ctx, keys); err != nil {
				log.Printf("Warning: Failed to delete some S3 objects: %v", err)
			} else {
				log.Printf("Deleted %d expired captcha image(s) from storage", len(keys))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
