package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/radiusdt/pulse/internal/config"
	"github.com/radiusdt/pulse/internal/tracking"
)

type contextKey string

const (
	// APIKeyContextKey holds the authenticated API key.
	APIKeyContextKey contextKey = "api_key"
	AuthHeaderName              = "X-API-Key"
)

// AuthMiddleware guards the management API with a shared API key.
// Tracking and interaction endpoints are listed in SkipPaths since mail clients cannot authenticate.
type AuthMiddleware struct {
	cfg    config.AuthConfig
	logger *zap.Logger
}

func NewAuthMiddleware(cfg config.AuthConfig, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{cfg: cfg, logger: logger}
}

func (a *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || a.shouldSkip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get(AuthHeaderName)
		if apiKey == "" {
			if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				apiKey = bearer
			}
		}

		if apiKey == "" {
			a.unauthorized(w, "missing API key")
			return
		}
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(a.cfg.MasterKey)) != 1 {
			a.logger.Warn("invalid API key attempt",
				zap.String("path", r.URL.Path),
				zap.String("client_ip", tracking.ClientIP(r)),
			)
			a.unauthorized(w, "invalid API key")
			return
		}

		ctx := context.WithValue(r.Context(), APIKeyContextKey, apiKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *AuthMiddleware) shouldSkip(path string) bool {
	for _, skip := range a.cfg.SkipPaths {
		if strings.HasPrefix(path, skip) {
			return true
		}
	}
	return false
}

func (a *AuthMiddleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "ApiKey")
	writeJSONError(w, http.StatusUnauthorized, message)
}
