package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fotobank/media-api/internal/api"
	"fotobank/media-api/internal/chunkstore"
	"fotobank/media-api/internal/config"
	"fotobank/media-api/internal/repository/mongo"
	"fotobank/media-api/internal/service"
	"fotobank/media-api/internal/storage"
	"fotobank/media-api/internal/thumbnail"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
)

func main() {
	log.Println("Starting FotoBank media API...")

	// --- Configuration ---
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("FATAL: Could not load config: %v", err)
	}
	log.Println("Configuration loaded.")

	// --- Database Connection ---
	dbClient, err := mongo.ConnectDB(cfg.Database.URI)
	if err != nil {
		log.Fatalf("FATAL: Could not connect to MongoDB: %v", err)
	}
	defer func() {
		log.Println("Disconnecting MongoDB...")
		if err := mongo.DisconnectDB(dbClient); err != nil {
			log.Printf("ERROR: Failed to disconnect MongoDB: %v", err)
		}
	}()
	appDB := dbClient.Database(cfg.Database.Name)
	log.Println("Database connection established.")

	// --- Ensure Indexes ---
	log.Println("Ensuring database indexes...")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()
		mongo.EnsureUserIndexes(ctx, appDB.Collection("users"))
		mongo.EnsureCategoryIndexes(ctx, appDB.Collection("categories"))
		mongo.EnsureMediaIndexes(ctx, appDB.Collection("media"))
		mongo.EnsureUploadSessionIndexes(ctx, appDB.Collection("upload_sessions"))
		log.Println("Index creation process completed.")
	}()

	// --- Initialize Storage ---
	log.Println("Initializing file storage service...")
	fileStorage, err := storage.NewS3Storage(cfg.S3)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize S3 storage: %v", err)
	}

	chunks, err := chunkstore.New(cfg.Upload.ChunkDir)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize chunk store: %v", err)
	}

	// --- Initialize Repositories ---
	log.Println("Initializing repositories...")
	userRepo := mongo.NewMongoUserRepository(appDB)
	categoryRepo := mongo.NewMongoCategoryRepository(appDB)
	mediaRepo := mongo.NewMongoMediaRepository(appDB)
	sessionRepo := mongo.NewMongoUploadSessionRepository(appDB)

	// --- Initialize Services ---
	log.Println("Initializing services...")
	authService := service.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.Expiration)
	uploadService := service.NewUploadService(
		sessionRepo, mediaRepo, categoryRepo, userRepo,
		chunks, fileStorage, thumbnail.NewExecGenerator(),
		service.UploadConfig{
			MaxChunks:     cfg.Upload.MaxChunks,
			MaxChunkBytes: cfg.Upload.MaxChunkBytes,
			SessionTTL:    cfg.Upload.SessionTTL,
		},
	)
	mediaService := service.NewMediaService(mediaRepo, categoryRepo, fileStorage)

	// --- Expiry Sweep ---
	// Abandoned upload sessions are reclaimed on a schedule, not by clients.
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Upload.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		removed, err := uploadService.SweepExpired(ctx)
		if err != nil {
			log.Printf("ERROR: Upload session sweep failed: %v", err)
			return
		}
		if removed > 0 {
			log.Printf("INFO: Upload session sweep reclaimed %d stale sessions", removed)
		}
	})
	if err != nil {
		log.Fatalf("FATAL: Invalid sweep schedule %q: %v", cfg.Upload.SweepSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// --- Initialize Gin Engine ---
	router := gin.Default() // Includes Logger and Recovery middleware

	// --- Setup Routes ---
	log.Println("Setting up API routes...")
	api.SetupRoutes(router, cfg.JWT.Secret, cfg.Server.AllowedOrigins, authService, uploadService, mediaService)

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  60 * time.Second, // Chunk uploads can be slow on bad links
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Server starting on %s", cfg.Server.Address)

	// --- Graceful Shutdown ---
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: ListenAndServe Error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("FATAL: Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}
