package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/securestor/securestor/internal/blobstore"
	"github.com/securestor/securestor/internal/cache"
	"github.com/securestor/securestor/internal/config"
	"github.com/securestor/securestor/internal/database"
	"github.com/securestor/securestor/internal/finalize"
	"github.com/securestor/securestor/internal/handlers"
	"github.com/securestor/securestor/internal/ingest"
	"github.com/securestor/securestor/internal/logger"
	"github.com/securestor/securestor/internal/recovery"
	"github.com/securestor/securestor/internal/repository"
	"github.com/securestor/securestor/internal/server"
	"github.com/securestor/securestor/internal/session"
	"github.com/securestor/securestor/internal/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	appLogger := logger.NewLogger("coordinator")

	db, err := database.NewPostgresDB(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	store := repository.NewPostgresMetaStore(db)
	blobs := blobstore.New(appLogger)
	v := validator.New()

	finalizer := finalize.NewFinalizer(store, blobs, v, appLogger)

	// The advisory finalize trigger fired by ChunkIngestor after the last
	// chunk commits. It is never the only path to completion: RecoveryService's
	// sweep guarantees progress even if this goroutine is lost to a process
	// crash.
	trigger := func(sessionID uuid.UUID) {
		if _, err := finalizer.Finalize(context.Background(), sessionID); err != nil {
			appLogger.Error("advisory finalize trigger failed", err)
		}
	}

	ingestor := ingest.NewIngestor(store, blobs, cfg.ChunkSize, trigger, appLogger)
	sessions := session.NewManager(store, blobs, cfg.UploadDir, cfg.ChunkSize, cfg.ArchiveExtension, appLogger)
	statusCache := cache.New(cfg.RedisURL, 30*time.Second, appLogger)

	uploadHandler := handlers.NewUploadHandler(sessions, ingestor, finalizer, v, statusCache)

	recoveryService := recovery.NewService(store, blobs, finalizer, cfg.AbandonmentTimeout, appLogger)
	recoveryScheduler := recovery.NewScheduler(recoveryService, cfg.CleanupInterval, appLogger)
	if err := recoveryScheduler.Start(context.Background()); err != nil {
		log.Fatalf("failed to start recovery scheduler: %v", err)
	}
	defer recoveryScheduler.Stop()

	srv := server.New(cfg, appLogger, uploadHandler)

	appLogger.Info("upload coordinator listening", cfg.Port)
	if err := srv.Start(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
