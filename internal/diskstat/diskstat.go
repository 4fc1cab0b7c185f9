package diskstat

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Warning levels for disk space.
const (
	WarnNone   = 0
	WarnYellow = 1
	WarnRed    = 2
	WarnBlock  = 3
)

var levelNames = []string{"none", "yellow", "red", "block"}

// LevelName returns the wire name of a warning level.
func LevelName(level int) string {
	if level < 0 || level >= len(levelNames) {
		return "unknown"
	}
	return levelNames[level]
}

// Stats is a point-in-time snapshot of disk usage.
type Stats struct {
	TotalBytes     uint64
	FreeBytes      uint64
	AppBytes       uint64 // bytes under DATA_DIR
	LibraryBytes   uint64
	DownloadsBytes uint64
	PartialBytes   uint64 // unfinished .part downloads
	CapturedAt     time.Time
}

// PctFree returns the percentage of disk space that is free (0–100).
func (s Stats) PctFree() float64 {
	if s.TotalBytes == 0 {
		return 100
	}
	return float64(s.FreeBytes) / float64(s.TotalBytes) * 100
}

// WarningLevel returns the warning level given threshold percentages.
func (s Stats) WarningLevel(yellowPct, redPct, blockPct float64) int {
	pct := s.PctFree()
	switch {
	case pct <= blockPct:
		return WarnBlock
	case pct <= redPct:
		return WarnRed
	case pct <= yellowPct:
		return WarnYellow
	default:
		return WarnNone
	}
}

// WarnMessage is a short human-readable description of level.
func WarnMessage(level int, pctFree float64) string {
	switch level {
	case WarnYellow:
		return fmt.Sprintf("%.1f%% free, running low", pctFree)
	case WarnRed:
		return fmt.Sprintf("%.1f%% free, critically low", pctFree)
	case WarnBlock:
		return fmt.Sprintf("%.1f%% free, downloads blocked", pctFree)
	default:
		return ""
	}
}

// Cache is a goroutine-safe cached disk stats value, refreshed periodically.
type Cache struct {
	mu          sync.RWMutex
	stats       Stats
	dataDir     string
	downloadDir string
	ttl         time.Duration
	started     bool
	stop        chan struct{}
	done        chan struct{}
}

// New creates a Cache over dataDir and the download dir, which may live
// outside it.
func New(dataDir, downloadDir string, ttl time.Duration) *Cache {
	return &Cache{
		dataDir:     dataDir,
		downloadDir: downloadDir,
		ttl:         ttl,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start begins background polling.
func (c *Cache) Start() {
	c.started = true
	c.refresh()
	go func() {
		defer close(c.done)
		t := time.NewTicker(c.ttl)
		defer t.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-t.C:
				c.refresh()
			}
		}
	}()
}

// Stop halts background polling and waits for it to exit.
func (c *Cache) Stop() {
	if !c.started {
		return
	}
	select {
	case <-c.stop:
		return
	default:
		close(c.stop)
	}
	<-c.done
}

// Get returns the latest cached stats.
func (c *Cache) Get() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Refresh forces an immediate update.
func (c *Cache) Refresh() {
	c.refresh()
}

func (c *Cache) refresh() {
	total, free, err := statFS(c.dataDir)
	if err != nil {
		// Not fatal; leave previous values in place
		return
	}
	app, library, downloads, partial := walkDirSizes(c.dataDir, c.downloadDir)
	s := Stats{
		TotalBytes:     total,
		FreeBytes:      free,
		AppBytes:       app,
		LibraryBytes:   library,
		DownloadsBytes: downloads,
		PartialBytes:   partial,
		CapturedAt:     time.Now(),
	}
	c.mu.Lock()
	c.stats = s
	c.mu.Unlock()
}

func statFS(path string) (total, free uint64, err error) {
	var stat syscall.Statfs_t
	if err = syscall.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	bsize := uint64(stat.Bsize)
	return bsize * stat.Blocks, bsize * stat.Bavail, nil
}

func walkDirSizes(dataDir, downloadDir string) (total, library, downloads, partial uint64) {
	libraryDir := filepath.Join(dataDir, "library")
	inside := isWithin(dataDir, downloadDir)

	filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		size := uint64(info.Size())
		total += size
		switch {
		case isWithin(libraryDir, path):
			library += size
		case inside && isWithin(downloadDir, path):
			downloads += size
			if strings.HasSuffix(path, ".part") {
				partial += size
			}
		}
		return nil
	})

	if inside {
		return
	}
	filepath.WalkDir(downloadDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		size := uint64(info.Size())
		downloads += size
		if strings.HasSuffix(path, ".part") {
			partial += size
		}
		return nil
	})
	return
}

func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
