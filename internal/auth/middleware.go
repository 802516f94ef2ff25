// Package auth protects the HTTP transports with a shared bearer
// token. The expected token comes from the runtime configuration, so a
// config reload rotates it without a restart.
package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

type contextKey int

const ctxRemoteIP contextKey = iota

// bcryptPrefix marks a configured token as a bcrypt hash rather than a
// plaintext value.
const bcryptPrefix = "$2"

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// TokenSource yields the currently expected bearer token. It is read
// per request so reloads take effect immediately.
type TokenSource interface {
	AuthToken() string
}

// Middleware returns HTTP middleware that validates Bearer tokens
// against the configured token. A configured value starting with "$2"
// is treated as a bcrypt hash; anything else is compared in constant
// time. Failures never log the presented token.
func Middleware(source TokenSource, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				logger.Debug("middleware: no bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			presented := strings.TrimPrefix(authHeader, "Bearer ")

			expected := source.AuthToken()
			if expected == "" || !tokenMatches(expected, presented) {
				logger.Debug("middleware: invalid bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			logger.Debug("middleware: authenticated", slog.String("ip", ip))

			ctx := context.WithValue(r.Context(), ctxRemoteIP, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tokenMatches(expected, presented string) bool {
	if strings.HasPrefix(expected, bcryptPrefix) {
		return bcrypt.CompareHashAndPassword([]byte(expected), []byte(presented)) == nil
	}

	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
