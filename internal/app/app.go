package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/YannKr/assetdeck"
	"github.com/YannKr/assetdeck/internal/cleanup"
	"github.com/YannKr/assetdeck/internal/config"
	"github.com/YannKr/assetdeck/internal/db"
	"github.com/YannKr/assetdeck/internal/diskstat"
	"github.com/YannKr/assetdeck/internal/download"
	"github.com/YannKr/assetdeck/internal/handler"
	"github.com/YannKr/assetdeck/internal/library"
	"github.com/YannKr/assetdeck/internal/poller"
	"github.com/YannKr/assetdeck/internal/sse"
	"github.com/YannKr/assetdeck/internal/store"
	"github.com/YannKr/assetdeck/internal/webhook"
)

func Run(ctx context.Context, cfg *config.Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.DownloadDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	database, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	backend, local, err := newStore(cfg, database)
	if err != nil {
		return err
	}

	// Start disk stats cache
	diskCache := diskstat.New(cfg.DataDir, cfg.DownloadDir, 60*time.Second)
	diskCache.Start()
	defer diskCache.Stop()

	sseHub := sse.New()

	sink := &download.FileSink{
		Dir:      cfg.DownloadDir,
		DB:       database,
		Disk:     diskCache,
		BlockPct: cfg.DiskWarnBlockPct,
	}

	// One refresh generation may use every attempt plus the backoff between them.
	attempts := max(cfg.RefreshAttempts, 1)
	refreshTimeout := time.Duration(cfg.StoreTimeoutSec)*time.Second*time.Duration(attempts) +
		time.Duration(cfg.RefreshBackoffMs)*time.Millisecond*time.Duration(attempts*(attempts-1)/2)

	opts := library.Options{
		PageSize:          cfg.PageSize,
		RefreshAttempts:   cfg.RefreshAttempts,
		RetryBackoff:      time.Duration(cfg.RefreshBackoffMs) * time.Millisecond,
		RefreshTimeout:    refreshTimeout,
		DeleteConcurrency: cfg.DeleteConcurrency,
		DownloadInterval:  time.Duration(cfg.DownloadIntervalMs) * time.Millisecond,
		BaseURL:           cfg.BaseURL,
		Sink:              sink,
		OnChange:          handler.SnapshotPublisher(sseHub),
	}
	if local == nil {
		opts.BaseURL = cfg.StoreURL
	}
	lib := library.New(backend, opts)

	// Cleanup of the downloads ledger and abandoned partial files
	cleaner := &cleanup.Cleaner{
		DB:            database,
		DownloadDir:   cfg.DownloadDir,
		RetentionDays: cfg.DownloadRetentionDays,
		Interval:      time.Duration(cfg.CleanupIntervalMins) * time.Minute,
	}
	cleaner.Start(ctx)
	defer cleaner.Stop()

	// API rate limit: 10 requests/second per IP, burst of 60
	apiRL := handler.NewRateLimiter(10, 60)
	defer apiRL.Stop()

	h, err := handler.New(cfg, lib, local, database, sseHub, diskCache)
	if err != nil {
		return err
	}

	// Outbound event notifications
	hooks := &webhook.Dispatcher{DB: database, URL: cfg.WebhookURL, Secret: cfg.WebhookSecret}
	if hooks.Enabled() {
		h.Webhooks = hooks
		retrier := &webhook.Retrier{Dispatcher: hooks, Interval: time.Duration(cfg.WebhookRetrySecs) * time.Second}
		retrier.Start(ctx)
		defer retrier.Stop()
		defer hooks.Wait()
		slog.Info("webhooks enabled", "url", cfg.WebhookURL)
	}
	router := h.Routes(apiRL)

	// Initial load, then keep the library in sync with the store
	go func() {
		if _, err := lib.Refresh(ctx); err != nil {
			slog.Warn("initial library refresh failed", "error", err)
		}
	}()
	p := &poller.Poller{
		Target:   lib,
		Schedule: cfg.RefreshSchedule,
		Timeout:  refreshTimeout,
	}
	if err := p.Start(ctx); err != nil {
		return err
	}
	defer p.Stop()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("server starting", "addr", cfg.ListenAddr, "base_url", cfg.BaseURL, "store_mode", cfg.StoreMode)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Import copies files into the local catalog.
func Import(ctx context.Context, cfg *config.Config, source string, paths []string) error {
	database, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	local := store.NewLocal(database, cfg.DataDir)
	var failed int
	for _, path := range paths {
		a, err := local.Import(ctx, path, source)
		if err != nil {
			slog.Error("import failed", "path", path, "error", err)
			failed++
			continue
		}
		slog.Info("imported", "id", a.ID, "filename", a.Filename, "media_type", a.MediaType)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d imports failed", failed, len(paths))
	}
	return nil
}

func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, database, assetdeck.MigrationFS); err != nil {
		database.Close()
		return nil, err
	}
	slog.Info("database ready")
	return database, nil
}

// newStore picks the backend named by STORE_MODE. local is non-nil only when
// this instance owns the catalog.
func newStore(cfg *config.Config, database *sql.DB) (backend store.Store, local *store.LocalStore, err error) {
	timeout := time.Duration(cfg.StoreTimeoutSec) * time.Second
	switch cfg.StoreMode {
	case config.StoreLocal:
		local = store.NewLocal(database, cfg.DataDir)
		return local, local, nil
	case config.StoreHTTP:
		if cfg.StoreBulkDelete {
			return store.NewHTTPBulk(cfg.StoreURL, cfg.StoreAPIKey, timeout), nil, nil
		}
		return store.NewHTTP(cfg.StoreURL, cfg.StoreAPIKey, timeout), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_MODE %q", cfg.StoreMode)
	}
}
