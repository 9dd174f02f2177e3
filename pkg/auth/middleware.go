package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Middleware extracts the caller identity from requests. It does not enforce
// authentication: anonymous requests pass through without an identity, and
// the access layer decides per entity type whether one is required.
type Middleware struct {
	verifier    TokenVerifier
	trustHeader bool
	logger      *zap.Logger
}

// NewMiddleware creates the identity extraction middleware. When trustHeader
// is true (local development without an auth server), identity may also come
// from X-User-Email / X-User-Role headers.
func NewMiddleware(verifier TokenVerifier, trustHeader bool, logger *zap.Logger) *Middleware {
	return &Middleware{
		verifier:    verifier,
		trustHeader: trustHeader,
		logger:      logger,
	}
}

// ExtractIdentity resolves the caller identity, if any, into the request
// context. A present-but-invalid bearer token is rejected with 401 rather
// than downgraded to anonymous.
func (m *Middleware) ExtractIdentity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header != "" {
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				m.unauthorized(w, "Malformed Authorization header")
				return
			}

			claims, err := m.verifier.ValidateToken(tokenString)
			if err != nil {
				m.logger.Debug("Token validation failed", zap.Error(err))
				m.unauthorized(w, "Invalid token")
				return
			}

			next(w, r.WithContext(WithIdentity(r.Context(), claims.Identity())))
			return
		}

		if m.trustHeader {
			if email := r.Header.Get("X-User-Email"); email != "" {
				role := r.Header.Get("X-User-Role")
				if role == "" {
					role = RoleUser
				}
				next(w, r.WithContext(WithIdentity(r.Context(), &Identity{Email: email, Role: role})))
				return
			}
		}

		next(w, r)
	}
}

// unauthorized returns a 401 response with JSON error body.
func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}
