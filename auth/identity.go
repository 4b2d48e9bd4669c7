package auth

import (
	"context"
	"slices"
	"time"
)

// Method records how an identity was authenticated.
type Method string

const (
	MethodJWT    Method = "jwt"
	MethodAPIKey Method = "api_key"
)

// Identity is an authenticated caller of the admin API.
type Identity struct {
	Principal string
	Method    Method
	Roles     []string
	ExpiresAt time.Time
	Claims    map[string]any
}

// HasRole reports whether id holds role.
func (id *Identity) HasRole(role string) bool {
	return id != nil && slices.Contains(id.Roles, role)
}

type identityKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity attached by Middleware, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
