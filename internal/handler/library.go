package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/YannKr/assetdeck/internal/db"
	"github.com/YannKr/assetdeck/internal/library"
	"github.com/YannKr/assetdeck/internal/model"
	"github.com/YannKr/assetdeck/internal/sse"
	"github.com/YannKr/assetdeck/internal/webhook"
)

type apiAsset struct {
	model.Asset
	FormattedSize string `json:"formatted_size"`
	FormattedDate string `json:"formatted_date"`
}

func toAPIAssets(assets []model.Asset) []apiAsset {
	out := make([]apiAsset, len(assets))
	for i, a := range assets {
		out[i] = apiAsset{Asset: a, FormattedSize: a.FormattedSize(), FormattedDate: a.FormattedDate()}
	}
	return out
}

// snapshotView is the wire form of a snapshot; asset lists gain
// display fields.
type snapshotView struct {
	model.Snapshot
	Assets  []apiAsset `json:"assets"`
	Visible []apiAsset `json:"visible"`
}

func newSnapshotView(s model.Snapshot) snapshotView {
	return snapshotView{Snapshot: s, Assets: toAPIAssets(s.Assets), Visible: toAPIAssets(s.Visible)}
}

// SnapshotPublisher returns a library.Options.OnChange callback that
// broadcasts snapshots on the library topic.
func SnapshotPublisher(hub *sse.Hub) func(model.Snapshot) {
	return func(s model.Snapshot) {
		if err := hub.PublishJSON(sse.TopicLibrary, "snapshot", newSnapshotView(s)); err != nil {
			slog.Warn("publish snapshot", "error", err)
		}
	}
}

func (h *Handler) renderSnapshot(w http.ResponseWriter, status int) {
	renderJSON(w, status, newSnapshotView(h.Library.Snapshot()))
}

// LibrarySnapshot — GET /api/library
func (h *Handler) LibrarySnapshot(w http.ResponseWriter, r *http.Request) {
	h.renderSnapshot(w, http.StatusOK)
}

// LibraryRefresh — POST /api/library/refresh[?force=1]
func (h *Handler) LibraryRefresh(w http.ResponseWriter, r *http.Request) {
	refresh := h.Library.Refresh
	if force := r.URL.Query().Get("force"); force == "1" || force == "true" {
		refresh = h.Library.ForceRefresh
	}
	applied, err := refresh(r.Context())
	if err != nil {
		renderLibraryError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]interface{}{
		"applied":  applied,
		"snapshot": newSnapshotView(h.Library.Snapshot()),
	})
}

// LibraryFilter — POST /api/library/filter {"filter":"images"}
func (h *Handler) LibraryFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filter string `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	f, ok := model.ParseFilter(req.Filter)
	if !ok {
		renderLibraryError(w, fmt.Errorf("%w: %q", library.ErrInvalidFilter, req.Filter))
		return
	}
	if err := h.Library.SetFilter(f); err != nil {
		renderLibraryError(w, err)
		return
	}
	h.renderSnapshot(w, http.StatusOK)
}

// LibraryPage — POST /api/library/page {"page":2}
func (h *Handler) LibraryPage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Page int `json:"page"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	h.Library.SetPage(req.Page)
	h.renderSnapshot(w, http.StatusOK)
}

// LibraryToggle — POST /api/library/select/{id}
func (h *Handler) LibraryToggle(w http.ResponseWriter, r *http.Request) {
	if !h.Library.ToggleSelection(chi.URLParam(r, "id")) {
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "asset not found")
		return
	}
	h.renderSnapshot(w, http.StatusOK)
}

// LibrarySelectAll — POST /api/library/select-all
func (h *Handler) LibrarySelectAll(w http.ResponseWriter, r *http.Request) {
	h.Library.SelectAll()
	h.renderSnapshot(w, http.StatusOK)
}

// LibrarySelectMatching — POST /api/library/select-matching
func (h *Handler) LibrarySelectMatching(w http.ResponseWriter, r *http.Request) {
	h.Library.SelectAllMatchingFilter()
	h.renderSnapshot(w, http.StatusOK)
}

// LibraryDeselectAll — POST /api/library/deselect-all
func (h *Handler) LibraryDeselectAll(w http.ResponseWriter, r *http.Request) {
	h.Library.DeselectAll()
	h.renderSnapshot(w, http.StatusOK)
}

// LibraryDelete — DELETE /api/library/assets/{id}
func (h *Handler) LibraryDelete(w http.ResponseWriter, r *http.Request) {
	res, err := h.Library.DeleteOne(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		renderLibraryError(w, err)
		return
	}
	h.Webhooks.Dispatch(webhook.EventAssetsDeleted, map[string]interface{}{"ids": []string{res.ID}})
	renderJSON(w, http.StatusOK, map[string]interface{}{"id": res.ID, "not_found": res.NotFound})
}

type bulkDeleteView struct {
	Requested []string          `json:"requested"`
	Succeeded []string          `json:"succeeded"`
	Failed    []string          `json:"failed"`
	NotFound  []string          `json:"not_found"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// LibraryDeleteSelected — POST /api/library/delete-selected
func (h *Handler) LibraryDeleteSelected(w http.ResponseWriter, r *http.Request) {
	res, err := h.Library.DeleteSelected(r.Context())
	if err != nil && len(res.Requested) == 0 {
		renderLibraryError(w, err)
		return
	}
	view := bulkDeleteView{
		Requested: nonNil(res.Requested),
		Succeeded: nonNil(res.Succeeded),
		Failed:    nonNil(res.Failed),
		NotFound:  nonNil(res.NotFound),
	}
	if len(res.Errors) > 0 {
		view.Errors = make(map[string]string, len(res.Errors))
		for id, e := range res.Errors {
			view.Errors[id] = e.Error()
		}
	}
	if len(res.Succeeded) > 0 {
		h.Webhooks.Dispatch(webhook.EventAssetsDeleted, map[string]interface{}{
			"ids":    res.Succeeded,
			"failed": view.Failed,
		})
	}
	status := http.StatusOK
	switch {
	case err != nil:
		status = http.StatusBadGateway
	case len(res.Failed) > 0:
		status = http.StatusMultiStatus
	}
	renderJSON(w, status, view)
}

type downloadView struct {
	ID       string `json:"id"`
	Filename string `json:"filename,omitempty"`
	Path     string `json:"path,omitempty"`
	Error    string `json:"error,omitempty"`
}

func toDownloadView(o library.DownloadOutcome) downloadView {
	v := downloadView{ID: o.ID, Filename: o.Filename, Path: o.Path}
	if o.Err != nil {
		v.Error = o.Err.Error()
	}
	return v
}

// LibraryDownload — POST /api/library/assets/{id}/download
func (h *Handler) LibraryDownload(w http.ResponseWriter, r *http.Request) {
	out, err := h.Library.DownloadOne(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		renderLibraryError(w, err)
		return
	}
	h.publishDownloads([]library.DownloadOutcome{out})
	renderJSON(w, http.StatusOK, toDownloadView(out))
}

// LibraryDownloadSelected — POST /api/library/download-selected
func (h *Handler) LibraryDownloadSelected(w http.ResponseWriter, r *http.Request) {
	outcomes, err := h.Library.DownloadSelected(r.Context())
	if err != nil {
		renderLibraryError(w, err)
		return
	}
	h.publishDownloads(outcomes)

	views := make([]downloadView, len(outcomes))
	status := http.StatusOK
	for i, o := range outcomes {
		views[i] = toDownloadView(o)
		if o.Err != nil {
			status = http.StatusMultiStatus
		}
	}
	renderJSON(w, status, map[string]interface{}{"downloads": views})
}

func (h *Handler) publishDownloads(outcomes []library.DownloadOutcome) {
	views := make([]downloadView, len(outcomes))
	var saved []downloadView
	for i, o := range outcomes {
		views[i] = toDownloadView(o)
		if o.Err == nil {
			saved = append(saved, views[i])
		}
	}
	if h.SSE != nil {
		h.SSE.PublishJSON(sse.TopicLibrary, "downloads", views)
	}
	if len(saved) > 0 {
		h.Webhooks.Dispatch(webhook.EventDownloadsCompleted, map[string]interface{}{"downloads": saved})
	}
}

// LibraryStats — GET /api/library/stats
func (h *Handler) LibraryStats(w http.ResponseWriter, r *http.Request) {
	st := h.Library.Stats()
	renderJSON(w, http.StatusOK, map[string]interface{}{
		"counts":       h.Library.Counts(),
		"total_bytes":  st.TotalBytes,
		"mean_bytes":   st.MeanBytes,
		"median_bytes": st.MedianBytes,
		"known":        st.Known,
		"total_human":  humanize.Bytes(uint64(st.TotalBytes)),
		"median_human": humanize.Bytes(uint64(st.MedianBytes)),
	})
}

type downloadRecord struct {
	ID        string `json:"id"`
	AssetID   string `json:"asset_id"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	SHA256    string `json:"sha256"`
	Source    string `json:"source,omitempty"`
	CreatedAt string `json:"created_at"`
}

// LibraryDownloads — GET /api/library/downloads
func (h *Handler) LibraryDownloads(w http.ResponseWriter, r *http.Request) {
	if h.DB == nil {
		renderJSON(w, http.StatusOK, []downloadRecord{})
		return
	}
	rows, err := db.ListDownloads(r.Context(), h.DB, 100)
	if err != nil {
		slog.Error("list downloads", "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list downloads")
		return
	}
	out := make([]downloadRecord, len(rows))
	for i, d := range rows {
		out[i] = downloadRecord{
			ID:        d.ID,
			AssetID:   d.AssetID,
			Filename:  d.Filename,
			SizeBytes: d.SizeBytes,
			SHA256:    d.SHA256,
			Source:    d.Source,
			CreatedAt: d.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}
	renderJSON(w, http.StatusOK, out)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
