// Package auth guards HTTP handlers with bearer token verification. Tokens are
// RS256 JWT access tokens issued by an external OAuth 2.0 / OIDC authorization
// server whose signing keys are published as a JWKS document.
//
// A Provider verifies tokens: it resolves signing keys by kid (refreshing its
// cache once on a miss), checks the signature and then the standard claims.
// An Authorizer composes a Verifier with the permission gate and renders
// failures as 401 responses carrying a machine-readable code and an RFC 6750
// challenge.
//
// Example:
//
//	ctx := context.Background()
//	p, err := auth.NewFromDiscovery(ctx, "https://issuer.example/", "drinks",
//	    auth.WithRefreshInterval(time.Hour),
//	)
//	if err != nil { log.Fatal(err) }
//	go p.Run(ctx)
//
//	az := auth.NewAuthorizer(p)
//	mux.Handle("GET /drinks-detail", az.Require("get:drinks-detail", detailHandler))
//
// Inside a guarded handler, auth.ClaimsFromContext returns the verified claims.
//
// # Permissions
//
// Permissions come from the token's "permissions" array claim and are matched
// exactly. A token without that claim fails with CodeNoPermissionsClaim; one
// whose claim lacks the permission fails with CodeMissingPermission.
//
// # Errors
//
// FailureFromError maps verifier and gate errors to a Failure. Every Failure
// is a 401; the Code distinguishes the cause.
package auth
