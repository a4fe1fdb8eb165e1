package middleware

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/akmatori/autoheal/internal/api"
)

// APIKeyAuth authenticates machine detectors posting to the webhook.
// With no keys configured every request is rejected.
type APIKeyAuth struct {
	mu   sync.RWMutex
	keys []string
}

// NewAPIKeyAuth creates API key authentication for the given keys
func NewAPIKeyAuth(keys []string) *APIKeyAuth {
	if len(keys) == 0 {
		log.Printf("AuthMiddleware: no ingest API keys configured, webhook ingestion is closed")
	}
	return &APIKeyAuth{keys: append([]string(nil), keys...)}
}

// SetKeys replaces the accepted keys
func (m *APIKeyAuth) SetKeys(keys []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append([]string(nil), keys...)
}

// Wrap wraps an http.Handler with API key authentication
func (m *APIKeyAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := extractAPIKey(r)
		if apiKey == "" {
			unauthorized(w, "Missing API key")
			return
		}

		m.mu.RLock()
		keys := m.keys
		m.mu.RUnlock()

		if !validateAPIKey(apiKey, keys) {
			log.Printf("AuthMiddleware: Invalid API key attempt from %s", r.RemoteAddr)
			unauthorized(w, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// WrapFunc wraps an http.HandlerFunc with API key authentication
func (m *APIKeyAuth) WrapFunc(next http.HandlerFunc) http.HandlerFunc {
	return m.Wrap(next).ServeHTTP
}

// extractAPIKey supports the X-API-Key header and the
// "ApiKey <key>" / "Bearer <key>" Authorization forms
func extractAPIKey(r *http.Request) string {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return apiKey
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "ApiKey ") {
		return strings.TrimPrefix(authHeader, "ApiKey ")
	}
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// validateAPIKey compares in constant time against every valid key
func validateAPIKey(provided string, validKeys []string) bool {
	match := false
	for _, valid := range validKeys {
		if subtle.ConstantTimeCompare([]byte(provided), []byte(valid)) == 1 {
			match = true
		}
	}
	return match
}

// unauthorized sends an unauthorized response
func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer realm=\"API\"")
	api.RespondError(w, http.StatusUnauthorized, message)
}
