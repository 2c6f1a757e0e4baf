package auth

import (
	"context"
	"errors"

	"github.com/ggoodman/drinkshop/internal/jwtauth"
)

// ErrNoPermissionsClaim indicates the token carries no "permissions" claim at all.
var ErrNoPermissionsClaim = errors.New("auth: token has no permissions claim")

// ErrMissingPermission indicates the permissions claim lacks the required permission.
var ErrMissingPermission = errors.New("auth: permission not granted")

// Claims is the verified content of an access token. Permissions is nil when
// the token has no permissions claim.
type Claims = jwtauth.Claims

// Verifier validates a raw bearer token and returns its claims.
// Implementations must be safe for concurrent use.
type Verifier interface {
	Verify(ctx context.Context, tok string) (*Claims, error)
}

type claimsKey struct{}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims stored by Authorizer.Require.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}
