// Package download writes retrieved asset payloads to the local download
// directory and records each one in the downloads ledger.
package download

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/YannKr/assetdeck/internal/db"
	"github.com/YannKr/assetdeck/internal/diskstat"
	"github.com/YannKr/assetdeck/internal/model"
	"github.com/YannKr/assetdeck/internal/store"
)

var ErrDiskFull = errors.New("disk space below block threshold")

// DiskStats is satisfied by *diskstat.Cache.
type DiskStats interface {
	Get() diskstat.Stats
}

// FileSink saves payloads under Dir. DB and Disk are optional.
type FileSink struct {
	Dir      string
	DB       *sql.DB
	Disk     DiskStats
	BlockPct float64

	// mu serialises picking a free name and renaming into it.
	mu sync.Mutex
}

func (s *FileSink) Save(ctx context.Context, a model.Asset, p *store.Payload) (string, error) {
	if s.Disk != nil {
		stats := s.Disk.Get()
		if !stats.CapturedAt.IsZero() && stats.PctFree() <= s.BlockPct {
			return "", ErrDiskFull
		}
	}

	name := p.Filename
	if name == "" {
		name = a.Filename
	}
	name = store.CleanFilename(name)
	if name == "asset" && a.ID != "" {
		name = store.CleanFilename(a.ID)
	}

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.Dir, name+".*.part")
	if err != nil {
		return "", fmt.Errorf("create partial file: %w", err)
	}
	tmpPath := tmp.Name()

	hasher := sha256.New()
	n, copyErr := io.Copy(tmp, io.TeeReader(&ctxReader{ctx: ctx, r: p.Body}, hasher))
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if copyErr != nil {
			return "", fmt.Errorf("write %s: %w", name, copyErr)
		}
		return "", fmt.Errorf("close %s: %w", name, closeErr)
	}
	if p.Size >= 0 && n != p.Size {
		os.Remove(tmpPath)
		return "", fmt.Errorf("write %s: short body: got %d of %d bytes", name, n, p.Size)
	}
	sum := hex.EncodeToString(hasher.Sum(nil))

	s.mu.Lock()
	finalPath := uniquePath(s.Dir, name)
	err = os.Rename(tmpPath, finalPath)
	s.mu.Unlock()
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename into place: %w", err)
	}

	if s.DB != nil {
		d := &model.Download{
			ID:        uuid.New().String(),
			AssetID:   a.ID,
			Filename:  filepath.Base(finalPath),
			Path:      finalPath,
			SizeBytes: n,
			SHA256:    sum,
			Source:    a.Source,
		}
		if err := db.InsertDownload(ctx, s.DB, d); err != nil {
			// The file is on disk; a missing ledger row only loses history.
			slog.Error("record download", "asset", a.ID, "error", err)
		}
	}

	slog.Debug("download saved", "asset", a.ID, "path", finalPath, "size", humanize.Bytes(uint64(n)))
	return finalPath, nil
}

// uniquePath returns dir/name, or dir/"stem (n).ext" for the first n that
// is free.
func uniquePath(dir, name string) string {
	path := filepath.Join(dir, name)
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		path = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if _, err := os.Lstat(path); os.IsNotExist(err) {
			return path
		}
	}
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
