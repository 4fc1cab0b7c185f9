package handler

import (
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/YannKr/assetdeck/internal/diskstat"
)

// LibraryStatus — GET /api/library/status
func (h *Handler) LibraryStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.Library.Snapshot()
	resp := map[string]interface{}{
		"status":     snap.Status,
		"error":      snap.Error,
		"store_mode": h.Cfg.StoreMode,
		"version":    snap.Version,
	}
	if snap.RefreshedAt != nil {
		resp["refreshed_at"] = snap.RefreshedAt.UTC().Format("2006-01-02T15:04:05Z")
	}

	if h.DiskCache != nil {
		stats := h.DiskCache.Get()
		level := stats.WarningLevel(h.Cfg.DiskWarnYellowPct, h.Cfg.DiskWarnRedPct, h.Cfg.DiskWarnBlockPct)
		pctFree := stats.PctFree()
		resp["disk"] = map[string]interface{}{
			"total_bytes":     stats.TotalBytes,
			"free_bytes":      stats.FreeBytes,
			"free_human":      humanize.Bytes(stats.FreeBytes),
			"app_bytes":       stats.AppBytes,
			"library_bytes":   stats.LibraryBytes,
			"downloads_bytes": stats.DownloadsBytes,
			"partial_bytes":   stats.PartialBytes,
			"pct_free":        pctFree,
			"warning":         diskstat.LevelName(level),
			"message":         diskstat.WarnMessage(level, pctFree),
			"captured_at":     stats.CapturedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}
	renderJSON(w, http.StatusOK, resp)
}
