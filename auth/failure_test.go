package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/ggoodman/drinkshop/internal/jwks"
	"github.com/ggoodman/drinkshop/internal/jwtauth"
)

func TestFailureFromError(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{fmt.Errorf("%w: two segments", jwtauth.ErrMalformedToken), CodeMalformedToken},
		{fmt.Errorf("%w: none", jwtauth.ErrUnsupportedAlgorithm), CodeUnsupportedAlgorithm},
		{fmt.Errorf("%w: kid x", jwks.ErrKeyNotFound), CodeKeyNotFound},
		{fmt.Errorf("%w: 503", jwks.ErrKeyFetch), CodeKeyFetchError},
		{fmt.Errorf("%w: slow", jwks.ErrKeyFetchTimeout), CodeKeyFetchTimeout},
		{jwtauth.ErrInvalidSignature, CodeInvalidSignature},
		{jwtauth.ErrMalformedClaims, CodeMalformedClaims},
		{jwtauth.ErrExpired, CodeExpired},
		{jwtauth.ErrNotYetValid, CodeNotYetValid},
		{jwtauth.ErrWrongAudience, CodeWrongAudience},
		{jwtauth.ErrWrongIssuer, CodeWrongIssuer},
		{ErrNoPermissionsClaim, CodeNoPermissionsClaim},
		{fmt.Errorf("%w: post:drinks", ErrMissingPermission), CodeMissingPermission},
		{errors.New("something else"), CodeMalformedToken},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			f := FailureFromError(tt.err)
			if f.Code != tt.want {
				t.Fatalf("want %s, got %s", tt.want, f.Code)
			}
			if f.Status != http.StatusUnauthorized {
				t.Fatalf("every failure is a 401, got %d", f.Status)
			}
			if f.Message == "" {
				t.Fatalf("missing message for %s", f.Code)
			}
			if !errors.Is(f, tt.err) {
				t.Fatalf("failure should wrap its cause")
			}
		})
	}
}

func TestFailure_Challenge(t *testing.T) {
	missing := NewFailure(CodeMissingToken, nil)
	if got := missing.challenge(""); got != "Bearer" {
		t.Fatalf("bare challenge expected, got %q", got)
	}
	if got := missing.challenge("drinks"); got != `Bearer realm="drinks"` {
		t.Fatalf("unexpected challenge %q", got)
	}

	expired := NewFailure(CodeExpired, jwtauth.ErrExpired)
	got := expired.challenge("drinks")
	if !strings.Contains(got, `error="invalid_token"`) || !strings.Contains(got, `error_description="token has expired"`) {
		t.Fatalf("unexpected challenge %q", got)
	}

	denied := NewFailure(CodeMissingPermission, ErrMissingPermission)
	denied.Permission = "post:drinks"
	got = denied.challenge("")
	if !strings.Contains(got, `error="insufficient_scope"`) || !strings.Contains(got, `scope="post:drinks"`) {
		t.Fatalf("unexpected challenge %q", got)
	}
}
