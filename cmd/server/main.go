package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lockbox/internal/server/api"
	"lockbox/internal/server/blacklist"
	"lockbox/internal/server/config"
	"lockbox/internal/server/database"
	"lockbox/internal/server/lifecycle"
	"lockbox/internal/server/service"
	"lockbox/internal/server/storage"

	"github.com/spf13/pflag"
)

// metadataStore is what the server needs from either repository.
type metadataStore interface {
	service.Repository
	lifecycle.ExpiredLister
	api.HealthChecker
}

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("lockbox-server", pflag.ExitOnError)
	configPath := flags.String("config", os.Getenv("LOCKBOX_CONFIG"), "path to a YAML config file (env LOCKBOX_CONFIG)")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_backend", cfg.StorageBackend,
		"max_upload_size", cfg.MaxUploadSize,
		"blacklist_entries", len(cfg.Blacklist),
		"reaper_interval", cfg.ReaperInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openMetadataStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	store, err := openContentStore(cfg)
	if err != nil {
		return err
	}
	if err := store.EnsureReady(ctx); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	scratch := storage.NewScratchDir(cfg.TempDir)
	if err := scratch.EnsureDir(); err != nil {
		return err
	}

	manager := lifecycle.NewManager(repo, store)
	svc := service.NewUploadService(repo, store, manager, scratch, blacklist.New(cfg.Blacklist))

	var reaper *lifecycle.Reaper
	if cfg.ReaperInterval > 0 {
		reaper = lifecycle.NewReaper(repo, manager, cfg.ReaperInterval)
		reaper.Start(ctx)
	}

	// Setup HTTP router
	e := api.SetupRouter(ctx, api.NewHandler(svc, repo), cfg)

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if reaper != nil {
		reaper.Wait()
	}

	slog.Info("server exited cleanly")
	return nil
}

func openMetadataStore(ctx context.Context, cfg *config.Config) (metadataStore, func(), error) {
	if cfg.DatabaseURL == config.MemoryDatabaseURL {
		slog.Warn("using in-memory metadata store, uploads will not survive a restart")
		return database.NewMemoryRepository(), func() {}, nil
	}

	db, err := database.New(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	slog.Info("database migrations complete")

	return &postgresStore{Repository: database.NewRepository(db), DB: db}, db.Close, nil
}

// postgresStore pairs the repository with its pool for health checks.
type postgresStore struct {
	*database.Repository
	*database.DB
}

func openContentStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case config.BackendS3:
		slog.Info("using s3 storage", "endpoint", cfg.S3.Endpoint, "bucket", cfg.S3.Bucket)
		return storage.NewS3Store(storage.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
		})
	default:
		slog.Info("using filesystem storage", "path", cfg.StorageDir)
		return storage.NewFileSystemStore(cfg.StorageDir), nil
	}
}
