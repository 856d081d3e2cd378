package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agjmills/huddle/internal/chat"
	"github.com/agjmills/huddle/internal/config"
	"github.com/agjmills/huddle/internal/database"
	"github.com/agjmills/huddle/internal/logger"
	"github.com/agjmills/huddle/internal/routes"
	"github.com/agjmills/huddle/internal/storage"
	"github.com/agjmills/huddle/internal/upload"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.Env, cfg.LogLevel)

	logger.Info("configuration loaded",
		"max_chunk_mb", float64(cfg.MaxChunkSize)/(1024*1024),
		"storage_backend", cfg.StorageBackend,
		"env", cfg.Env,
	)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := storage.NewBackendFromConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	if err := backend.ValidateAccess(ctx); err != nil {
		log.Fatalf("Storage is not writable: %v", err)
	}

	temp, err := upload.NewDiskTempStore(cfg.TempDir)
	if err != nil {
		log.Fatalf("Failed to initialize temp upload directory: %v", err)
	}

	uploads := upload.NewManager(db, backend, temp, upload.Options{
		LockTimeout:    cfg.UploadLockTimeout,
		SessionTimeout: cfg.UploadSessionTimeout,
	})
	go uploads.Run(ctx, cfg.UploadCleanupInterval)

	coordinator := chat.NewCoordinator(db, chat.NewPresence(), chat.NewBroker()).
		WithHistoryLimit(cfg.HistoryLimit)

	versionInfo := fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	handler := routes.NewRouter(cfg, routes.Deps{
		DB:      db,
		Storage: backend,
		Uploads: uploads,
		Chat:    coordinator,
		Version: versionInfo,
	})

	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting huddle server",
		"address", addr,
		"environment", cfg.Env,
		"version", versionInfo,
		"temp_dir", temp.Dir(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}

	if closer, ok := backend.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close storage", "error", err)
		}
	}
	logger.Info("server stopped")
}
