package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	CookieName    = "assetdeck_session"
	SessionMaxAge = 7 * 24 * time.Hour
)

type contextKey string

const ViaKey contextKey = "auth_via"

// How a request was authenticated.
const (
	ViaAPIKey  = "api_key"
	ViaSession = "session"
	ViaOpen    = "open"
)

// NewSession issues a signed session cookie and returns its id.
func NewSession(w http.ResponseWriter, secret string, secure bool, now time.Time) string {
	sessionID := uuid.New().String()
	expires := now.Add(SessionMaxAge).Unix()
	payload := sessionID + "." + strconv.FormatInt(expires, 10)
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    payload + "." + sign(payload, secret),
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(SessionMaxAge.Seconds()),
	})
	return sessionID
}

func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// GetSessionID verifies the session cookie's signature and expiry.
func GetSessionID(r *http.Request, secret string, now time.Time) (string, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", false
	}
	parts := strings.Split(cookie.Value, ".")
	if len(parts) != 3 {
		return "", false
	}
	sessionID, exp, sig := parts[0], parts[1], parts[2]
	expected := sign(sessionID+"."+exp, secret)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return "", false
	}
	expires, err := strconv.ParseInt(exp, 10, 64)
	if err != nil || now.Unix() >= expires {
		return "", false
	}
	return sessionID, true
}

func ContextWithVia(ctx context.Context, via string) context.Context {
	return context.WithValue(ctx, ViaKey, via)
}

func ViaFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ViaKey).(string)
	return v
}

func sign(data, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
