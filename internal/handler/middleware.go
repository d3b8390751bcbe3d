package handler

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/msomdec/chatgate/internal/domain"
	"github.com/msomdec/chatgate/internal/service"
)

const (
	deviceCookieName  = "device_token"
	sessionCookieName = "app_session"
	sessionHeader     = "X-App-Session"
)

type contextKey string

const principalContextKey contextKey = "principal"

// PrincipalFromContext returns the principal id injected by
// RequirePrincipal, or "" when the request carries none.
func PrincipalFromContext(ctx context.Context) string {
	id, _ := ctx.Value(principalContextKey).(string)
	return id
}

// RequirePrincipal protects routes that act on the device's profile. It
// validates the device token from the cookie or a bearer header and
// injects the principal id into the request context.
func RequirePrincipal(identity *service.IdentityService, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := deviceToken(r)
		if token == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		principalID, err := identity.ValidateToken(token)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey, principalID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SecurityHeaders sets conservative response headers on every request.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "same-origin")
		h.Set("Content-Security-Policy",
			"default-src 'self'; script-src 'self' 'unsafe-eval' https://cdn.jsdelivr.net; style-src 'self' 'unsafe-inline'")
		next.ServeHTTP(w, r)
	})
}

// deviceToken reads the device token from its cookie, falling back to an
// Authorization bearer header for native clients.
func deviceToken(r *http.Request) string {
	if c, err := r.Cookie(deviceCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// sessionID reads the app session id from its cookie or header.
func sessionID(r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.Header.Get(sessionHeader)
}

// deviceCredential collects what the identity provider needs from a request.
func deviceCredential(r *http.Request) domain.DeviceCredential {
	return domain.DeviceCredential{Token: deviceToken(r), ClientKey: clientKey(r)}
}

// clientKey identifies the caller for mint rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type cookieWriter struct {
	secure    bool
	deviceTTL time.Duration
}

func (c cookieWriter) setDevice(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     deviceCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(c.deviceTTL.Seconds()),
	})
}

// setSession writes the app session cookie. It has no MaxAge, so it ends
// with the browser session, which is what makes the next launch a cold
// start.
func (c cookieWriter) setSession(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
