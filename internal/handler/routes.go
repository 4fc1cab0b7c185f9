package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (h *Handler) Routes(apiRL *RateLimiter) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	csrfProtect := h.csrfUnlessBearer()

	r.Group(func(r chi.Router) {
		if apiRL != nil {
			r.Use(apiRL.Middleware)
		}
		r.Use(csrfProtect)
		r.Get("/api/session", h.SessionStatus)
		r.Post("/api/session", h.SessionCreate)
		r.Delete("/api/session", h.SessionDelete)
	})

	r.Route("/api/library", func(r chi.Router) {
		if apiRL != nil {
			r.Use(apiRL.Middleware)
		}
		r.Use(h.RequireAuth)
		r.Use(csrfProtect)
		r.Use(exposeCSRFToken)

		r.Get("/", h.LibrarySnapshot)
		r.Get("/events", h.LibrarySSE)
		r.Get("/stats", h.LibraryStats)
		r.Get("/status", h.LibraryStatus)
		r.Get("/downloads", h.LibraryDownloads)

		r.Post("/refresh", h.LibraryRefresh)
		r.Post("/filter", h.LibraryFilter)
		r.Post("/page", h.LibraryPage)
		r.Post("/select/{id}", h.LibraryToggle)
		r.Post("/select-all", h.LibrarySelectAll)
		r.Post("/select-matching", h.LibrarySelectMatching)
		r.Post("/deselect-all", h.LibraryDeselectAll)

		r.Delete("/assets/{id}", h.LibraryDelete)
		r.Post("/delete-selected", h.LibraryDeleteSelected)
		r.Post("/assets/{id}/download", h.LibraryDownload)
		r.Post("/download-selected", h.LibraryDownloadSelected)
	})

	// Backend contract, served only when this instance owns the catalog.
	if h.Local != nil {
		r.Route("/api/assets", func(r chi.Router) {
			if apiRL != nil {
				r.Use(apiRL.Middleware)
			}
			r.Use(h.RequireAuth)
			r.Use(h.csrfForSessions())

			r.Get("/", h.APIAssetList)
			r.Post("/", h.APIAssetUpload)
			r.Post("/bulk-delete", h.APIAssetBulkDelete)
			r.Delete("/{id}", h.APIAssetDelete)
			r.Get("/{id}/download", h.APIAssetDownload)
			r.Get("/{id}/view", h.APIAssetView)
			r.Get("/{id}/thumbnail", h.APIAssetThumbnail)
		})
	}

	return r
}
