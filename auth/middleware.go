package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/ggoodman/drinkshop/internal/logctx"
)

const (
	authorizationHeader = "Authorization"
	bearerScheme        = "bearer"
)

// AuthorizerOption configures an Authorizer.
type AuthorizerOption func(*Authorizer)

// WithRealm sets the realm advertised in WWW-Authenticate challenges. It is
// omitted when empty.
func WithRealm(realm string) AuthorizerOption {
	return func(a *Authorizer) { a.realm = strings.TrimSpace(realm) }
}

// WithAuthorizerLogger sets the logger for auth.check events.
func WithAuthorizerLogger(l *slog.Logger) AuthorizerOption {
	return func(a *Authorizer) {
		if l != nil {
			a.log = l
		}
	}
}

// Authorizer guards HTTP handlers with bearer token verification followed by
// a permission check.
type Authorizer struct {
	verifier Verifier
	realm    string
	log      *slog.Logger
}

// NewAuthorizer returns an Authorizer backed by v.
func NewAuthorizer(v Verifier, opts ...AuthorizerOption) *Authorizer {
	a := &Authorizer{verifier: v, log: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authorize verifies the request's bearer token and checks that it grants
// permission. The first failing step determines the Failure.
func (a *Authorizer) Authorize(r *http.Request, permission string) (*Claims, *Failure) {
	ctx := r.Context()
	tok, ok := bearerToken(r)
	if !ok {
		a.log.InfoContext(ctx, "auth.check.missing", slog.String("permission", permission))
		return nil, NewFailure(CodeMissingToken, nil)
	}

	claims, err := a.verifier.Verify(ctx, tok)
	if err != nil {
		f := FailureFromError(err)
		if f.Code == CodeKeyFetchError || f.Code == CodeKeyFetchTimeout {
			a.log.ErrorContext(ctx, "auth.check.err", slog.String("code", string(f.Code)), slog.String("err", err.Error()))
		} else {
			a.log.InfoContext(ctx, "auth.check.fail", slog.String("code", string(f.Code)), slog.String("err", err.Error()))
		}
		return nil, f
	}

	if err := Check(claims, permission); err != nil {
		f := FailureFromError(err)
		f.Permission = permission
		a.log.InfoContext(ctx, "auth.check.denied",
			slog.String("code", string(f.Code)),
			slog.String("sub", claims.Subject),
			slog.String("permission", permission),
		)
		return nil, f
	}
	return claims, nil
}

// Require wraps next so it only runs for requests whose token grants
// permission. The verified claims are available to next through
// ClaimsFromContext.
func (a *Authorizer) Require(permission string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, f := a.Authorize(r, permission)
		if f != nil {
			writeFailure(w, a.realm, f)
			return
		}
		ctx := WithClaims(r.Context(), claims)
		ctx = logctx.WithAuthData(ctx, &logctx.AuthData{Subject: claims.Subject, Permission: permission})
		a.log.DebugContext(ctx, "auth.check.ok")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get(authorizationHeader)
	scheme, tok, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
