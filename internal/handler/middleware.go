package handler

import (
	"net/http"
	"strings"

	"github.com/gorilla/csrf"

	"github.com/YannKr/assetdeck/internal/auth"
)

// RequireAuth admits requests carrying the API key as a bearer token or a
// valid session cookie. With no API_KEY configured every request passes.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		via := auth.ViaOpen
		switch {
		case h.keyHash == "":
		case auth.BearerKey(r) != "":
			if !auth.CheckKey(h.keyHash, auth.BearerKey(r)) {
				renderJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API key")
				return
			}
			via = auth.ViaAPIKey
		default:
			if _, ok := auth.GetSessionID(r, h.Cfg.SessionSecret, h.Now()); !ok {
				renderJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}
			via = auth.ViaSession
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithVia(r.Context(), via)))
	})
}

// csrfUnlessBearer applies CSRF protection to browser requests. A request
// with an Authorization header cannot have been forged cross-site and
// skips it; RequireAuth validates the key where one is configured.
func (h *Handler) csrfUnlessBearer() func(http.Handler) http.Handler {
	protect := h.csrfProtect()
	return func(next http.Handler) http.Handler {
		protected := protect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth.BearerKey(r) != "" {
				next.ServeHTTP(w, r)
				return
			}
			protected.ServeHTTP(w, r)
		})
	}
}

// csrfForSessions protects only cookie-authenticated requests. It runs
// after RequireAuth on the machine-facing backend routes.
func (h *Handler) csrfForSessions() func(http.Handler) http.Handler {
	protect := h.csrfProtect()
	return func(next http.Handler) http.Handler {
		protected := protect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth.ViaFromContext(r.Context()) != auth.ViaSession {
				next.ServeHTTP(w, r)
				return
			}
			protected.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) csrfProtect() func(http.Handler) http.Handler {
	return csrf.Protect(
		[]byte(h.Cfg.SessionSecret),
		csrf.Secure(strings.HasPrefix(h.Cfg.BaseURL, "https")),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reason := "forbidden"
			if err := csrf.FailureReason(r); err != nil {
				reason = err.Error()
			}
			renderJSONError(w, http.StatusForbidden, "CSRF", reason)
		})),
	)
}

// exposeCSRFToken hands the browser its token on every response.
func exposeCSRFToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.BearerKey(r) == "" {
			w.Header().Set("X-CSRF-Token", csrf.Token(r))
		}
		next.ServeHTTP(w, r)
	})
}
