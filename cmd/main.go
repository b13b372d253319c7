package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chat-sync/internal/api"
	"chat-sync/internal/auth"
	"chat-sync/internal/config"
	"chat-sync/internal/engine"
	"chat-sync/internal/feed"
	"chat-sync/internal/metrics"
	"chat-sync/internal/notify"
	"chat-sync/internal/objectstore"
	"chat-sync/internal/session"
	"chat-sync/internal/storage"
)

// @title Chat Sync API
// @version 1.0
// @description Realtime conversation synchronization service: change feed, send pipeline, push dispatch
// @host localhost:8080
// @BasePath /
// @schemes http

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
func main() {
	// .env overlay for local development; secrets referenced from config.yaml
	_ = godotenv.Load()

	// Init Metrics
	metrics.Init()

	// Load Configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("Configuration loaded")

	// Setup JWT Secret
	auth.SetSecret(cfg.Auth.JWTSecret)

	// Init PostgreSQL
	db, err := storage.NewStorage(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to init DB: %v", err)
	}
	defer db.DB.Close()
	if err := db.EnsureSchema(); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}
	log.Println("PostgreSQL connected")

	// Init change feed (RabbitMQ)
	feedClient, err := feed.NewFeedClient(cfg.RabbitMQ.URL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer feedClient.Close()
	db.SetEventPublisher(feedClient)
	log.Println("RabbitMQ connected")

	// Init Redis session state
	sessStore, err := session.NewStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer sessStore.Close()
	log.Println("Redis connected")

	// External collaborators
	uploader := objectstore.NewClient(cfg.Storage.BaseURL, cfg.Storage.Bucket, cfg.Storage.APIKey)
	dispatcher := notify.NewDispatcher(cfg.Push.Endpoint, cfg.Push.AppID, cfg.Push.APIKey, cfg.Push.AppURL, db)

	// Init Engine
	eng := engine.New(db, engine.NewAMQPFeed(feedClient), uploader, dispatcher, engine.Options{
		UploadTimeout: time.Duration(cfg.Send.UploadTimeoutSeconds) * time.Second,
		UploadWorkers: cfg.Send.UploadWorkers,
	})

	// Init API
	apiHandler := api.NewAPI(eng, db, sessStore, cfg)
	server := &http.Server{
		Addr:    ":8080",
		Handler: apiHandler.Router(),
	}

	// Graceful Shutdown Setup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Println("🚀 Starting API server on port 8080")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done() // Wait for interrupt signal
	log.Println("Shutdown initiated...")

	// Shutdown sequence
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Stop HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	// Release every open conversation
	eng.ShutdownAll()

	log.Println("Graceful shutdown complete")
}
