package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/csrf"

	"github.com/YannKr/assetdeck/internal/auth"
)

// SessionStatus — GET /api/session
// Reports whether the caller is signed in and hands out a CSRF token for
// the login form.
func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	_, ok := auth.GetSessionID(r, h.Cfg.SessionSecret, h.Now())
	renderJSON(w, http.StatusOK, map[string]interface{}{
		"auth_required": h.keyHash != "",
		"authenticated": ok || h.keyHash == "",
		"csrf_token":    csrf.Token(r),
	})
}

// SessionCreate — POST /api/session {"api_key":"..."}
// Exchanges the API key for a browser session cookie.
func (h *Handler) SessionCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if h.keyHash == "" {
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "sessions are not enabled")
		return
	}
	if !auth.CheckKey(h.keyHash, req.APIKey) {
		slog.Warn("session login rejected", "ip", r.RemoteAddr)
		renderJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API key")
		return
	}
	auth.NewSession(w, h.Cfg.SessionSecret, strings.HasPrefix(h.Cfg.BaseURL, "https"), h.Now())
	renderJSON(w, http.StatusOK, map[string]string{"csrf_token": csrf.Token(r)})
}

// SessionDelete — DELETE /api/session
func (h *Handler) SessionDelete(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
