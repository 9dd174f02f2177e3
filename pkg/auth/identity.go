// Package auth extracts a verified caller identity from incoming requests.
// Token issuance and verification belong to the external identity provider;
// this package only consumes its output: an email and a role.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// IdentityKey is the context key for the verified caller identity.
const IdentityKey contextKey = "identity"

// RoleUser is the default role when a token carries none.
const RoleUser = "user"

// Identity is the verified caller: the only shape the engine consumes from
// the identity provider.
type Identity struct {
	Email string
	Role  string
}

// Claims is the token claims structure issued by the identity provider.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Identity converts claims to the engine-facing identity shape.
func (c *Claims) Identity() *Identity {
	role := c.Role
	if role == "" {
		role = RoleUser
	}
	return &Identity{Email: c.Email, Role: role}
}

// WithIdentity stores the identity in the context.
func WithIdentity(ctx context.Context, ident *Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, ident)
}

// GetIdentity retrieves the verified identity from the request context.
// Returns nil and false for anonymous requests.
func GetIdentity(ctx context.Context) (*Identity, bool) {
	ident, ok := ctx.Value(IdentityKey).(*Identity)
	return ident, ok && ident != nil && ident.Email != ""
}
