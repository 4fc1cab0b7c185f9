package cleanup

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/YannKr/assetdeck/internal/db"
)

// PartialMaxAge is how long an unfinished .part download may sit before it
// is considered abandoned.
const PartialMaxAge = time.Hour

type Cleaner struct {
	DB            *sql.DB
	DownloadDir   string
	RetentionDays int
	Interval      time.Duration
	Now           func() time.Time
	cancel        context.CancelFunc
	done          chan struct{}
}

func (c *Cleaner) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.loop(ctx)
	slog.Info("cleanup scheduler started", "interval", c.Interval)
}

func (c *Cleaner) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	slog.Info("cleanup scheduler stopped")
}

func (c *Cleaner) loop(ctx context.Context) {
	defer close(c.done)

	c.RunOnce(ctx)

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce prunes old ledger rows and abandoned partial downloads.
func (c *Cleaner) RunOnce(ctx context.Context) {
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}

	if c.DB != nil && c.RetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -c.RetentionDays)
		if n, err := db.PruneDownloads(ctx, c.DB, cutoff); err != nil {
			slog.Error("cleanup: prune download ledger", "error", err)
		} else if n > 0 {
			slog.Info("cleanup: pruned old download records", "count", n)
		}
	}

	if c.DownloadDir == "" {
		return
	}
	entries, err := os.ReadDir(c.DownloadDir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("cleanup: read download dir", "dir", c.DownloadDir, "error", err)
		}
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".part") {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < PartialMaxAge {
			continue
		}
		path := filepath.Join(c.DownloadDir, e.Name())
		if err := os.Remove(path); err != nil {
			slog.Warn("cleanup: remove partial download", "path", path, "error", err)
		} else {
			slog.Info("cleanup: removed abandoned partial download", "path", path)
		}
	}
}
