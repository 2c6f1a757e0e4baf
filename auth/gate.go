package auth

import (
	"fmt"
	"slices"
)

// Check reports whether claims grant the required permission. Matching is
// exact and case-sensitive.
func Check(claims *Claims, required string) error {
	if claims == nil || claims.Permissions == nil {
		return ErrNoPermissionsClaim
	}
	if !slices.Contains(claims.Permissions, required) {
		return fmt.Errorf("%w: %q", ErrMissingPermission, required)
	}
	return nil
}
