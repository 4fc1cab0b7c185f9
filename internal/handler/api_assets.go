package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/YannKr/assetdeck/internal/model"
	"github.com/YannKr/assetdeck/internal/store"
)

// The /api/assets routes expose the local catalog in the same shape a
// remote backend uses, so an HTTPStore can point at another instance.

// APIAssetList — GET /api/assets
func (h *Handler) APIAssetList(w http.ResponseWriter, r *http.Request) {
	records, err := h.Local.List(r.Context())
	if err != nil {
		slog.Error("api list assets", "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list assets")
		return
	}
	renderJSON(w, http.StatusOK, map[string]interface{}{"assets": records})
}

// APIAssetUpload — POST /api/assets (multipart, field "file")
func (h *Handler) APIAssetUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "missing 'file' field in form")
		return
	}
	defer file.Close()

	a, err := h.Local.ImportReader(r.Context(), header.Filename, r.FormValue("source"), file)
	if err != nil {
		slog.Error("api asset upload", "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to store asset")
		return
	}
	slog.Info("asset uploaded", "id", a.ID, "filename", a.Filename, "size", a.SizeBytes)
	renderJSON(w, http.StatusCreated, store.LocalRecord(a))
}

// APIAssetDelete — DELETE /api/assets/{id}
func (h *Handler) APIAssetDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Local.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "asset not found")
			return
		}
		slog.Error("api delete asset", "id", id, "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to delete asset")
		return
	}
	renderJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// APIAssetBulkDelete — POST /api/assets/bulk-delete {"ids":[...]}
func (h *Handler) APIAssetBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "ids required")
		return
	}
	resp, err := h.Local.BulkDelete(r.Context(), req.IDs)
	if err != nil {
		slog.Error("api bulk delete", "count", len(req.IDs), "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "bulk delete failed")
		return
	}
	renderJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"deleted_count": resp.DeletedCount,
		"failed_ids":    resp.FailedIDs,
	})
}

// APIAssetDownload — GET /api/assets/{id}/download
func (h *Handler) APIAssetDownload(w http.ResponseWriter, r *http.Request) {
	h.serveAsset(w, r, "attachment")
}

// APIAssetView — GET /api/assets/{id}/view
func (h *Handler) APIAssetView(w http.ResponseWriter, r *http.Request) {
	h.serveAsset(w, r, "inline")
}

// APIAssetThumbnail — GET /api/assets/{id}/thumbnail. Images are their own
// thumbnail; other media have none.
func (h *Handler) APIAssetThumbnail(w http.ResponseWriter, r *http.Request) {
	a, path, err := h.Local.Path(r.Context(), chi.URLParam(r, "id"))
	if err != nil || a.MediaType != string(model.MediaImage) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFile(w, r, path)
}

func (h *Handler) serveAsset(w http.ResponseWriter, r *http.Request, disposition string) {
	a, path, err := h.Local.Path(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "asset not found")
			return
		}
		slog.Error("api serve asset", "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load asset")
		return
	}
	if a.MimeType != "" {
		w.Header().Set("Content-Type", a.MimeType)
	}
	w.Header().Set("Content-Disposition", contentDisposition(disposition, a.Filename))
	http.ServeFile(w, r, path)
}

func contentDisposition(disposition, filename string) string {
	if v := mime.FormatMediaType(disposition, map[string]string{"filename": filename}); v != "" {
		return v
	}
	return fmt.Sprintf(`%s; filename="%s"`, disposition, strings.ReplaceAll(filename, `"`, "_"))
}
