package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/YannKr/assetdeck/internal/auth"
	"github.com/YannKr/assetdeck/internal/config"
	"github.com/YannKr/assetdeck/internal/diskstat"
	"github.com/YannKr/assetdeck/internal/download"
	"github.com/YannKr/assetdeck/internal/library"
	"github.com/YannKr/assetdeck/internal/sse"
	"github.com/YannKr/assetdeck/internal/store"
	"github.com/YannKr/assetdeck/internal/webhook"
)

type Handler struct {
	Cfg     *config.Config
	Library *library.Collection
	// Local is set in local store mode and enables the /api/assets backend.
	Local     *store.LocalStore
	DB        *sql.DB
	SSE       *sse.Hub
	DiskCache *diskstat.Cache
	// Webhooks may be nil.
	Webhooks *webhook.Dispatcher
	Now      func() time.Time

	keyHash string
}

func New(cfg *config.Config, lib *library.Collection, local *store.LocalStore, database *sql.DB, hub *sse.Hub, disk *diskstat.Cache) (*Handler, error) {
	h := &Handler{
		Cfg:       cfg,
		Library:   lib,
		Local:     local,
		DB:        database,
		SSE:       hub,
		DiskCache: disk,
		Now:       time.Now,
	}
	if cfg.APIKey != "" {
		hash, err := auth.HashKey(cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("hash api key: %w", err)
		}
		h.keyHash = hash
	}
	return h, nil
}

func renderJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

func renderJSONError(w http.ResponseWriter, status int, code, msg string) {
	renderJSON(w, status, map[string]string{"error": msg, "code": code})
}

// renderLibraryError maps collection and store errors onto HTTP statuses.
func renderLibraryError(w http.ResponseWriter, err error) {
	var se *store.StatusError
	switch {
	case errors.Is(err, library.ErrNothingSelected):
		renderJSONError(w, http.StatusBadRequest, "NOTHING_SELECTED", "select at least one asset first")
	case errors.Is(err, library.ErrInvalidFilter):
		renderJSONError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
	case errors.Is(err, library.ErrUnknownAsset), errors.Is(err, store.ErrNotFound):
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "asset not found")
	case errors.Is(err, download.ErrDiskFull):
		renderJSONError(w, http.StatusInsufficientStorage, "DISK_FULL", err.Error())
	case errors.Is(err, library.ErrNoSink):
		renderJSONError(w, http.StatusServiceUnavailable, "NO_SINK", err.Error())
	case store.IsTransient(err), errors.As(err, &se):
		renderJSONError(w, http.StatusBadGateway, "STORE_ERROR", err.Error())
	default:
		slog.Error("library request failed", "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
