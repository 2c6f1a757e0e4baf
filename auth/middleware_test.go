package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ggoodman/drinkshop/auth/authtest"
)

func newTestAuthorizer(t *testing.T) (*Authorizer, *authtest.Issuer) {
	t.Helper()
	iss := authtest.NewIssuer(t, "drinks")
	p, err := SecurityConfig{Issuer: iss.URL, Audience: iss.Audience, JWKSURL: iss.JWKSURL()}.NewProvider(WithHTTPClient(iss.Client()))
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	return NewAuthorizer(p, WithRealm("drinks")), iss
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   int    `json:"error"`
	Message string `json:"message"`
	Code    Code   `json:"code"`
}

func TestRequire(t *testing.T) {
	az, iss := newTestAuthorizer(t)

	var seen *Claims
	h := az.Require("get:drinks-detail", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Errorf("claims missing from context")
		}
		seen = c
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name     string
		header   string
		wantCode Code
	}{
		{name: "no header", header: "", wantCode: CodeMissingToken},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", wantCode: CodeMissingToken},
		{name: "bearer without token", header: "Bearer ", wantCode: CodeMissingToken},
		{name: "garbage token", header: "Bearer not-a-jwt", wantCode: CodeMalformedToken},
		{name: "none token", header: "Bearer " + authtest.NoneToken(t, "key-1", iss.Claims("user-123", "get:drinks-detail")), wantCode: CodeUnsupportedAlgorithm},
		{name: "missing permission", header: "Bearer " + iss.Token(t, "post:drinks"), wantCode: CodeMissingPermission},
		{name: "no permissions claim", header: "Bearer " + func() string {
			c := iss.Claims("user-123")
			delete(c, "permissions")
			return iss.Sign(t, c)
		}(), wantCode: CodeNoPermissionsClaim},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/drinks-detail", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("want 401, got %d", rec.Code)
			}
			if seen != nil {
				t.Fatalf("handler must not run on failure")
			}
			if wa := rec.Header().Get("WWW-Authenticate"); !strings.HasPrefix(wa, "Bearer") {
				t.Fatalf("missing bearer challenge, got %q", wa)
			}
			var body errorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Success || body.Error != http.StatusUnauthorized || body.Code != tt.wantCode {
				t.Fatalf("unexpected body %+v", body)
			}
		})
	}

	t.Run("granted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/drinks-detail", nil)
		req.Header.Set("Authorization", "bearer "+iss.Token(t, "get:drinks-detail"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("want 204, got %d: %s", rec.Code, rec.Body.String())
		}
		if seen == nil || seen.Subject != "user-123" {
			t.Fatalf("unexpected claims %+v", seen)
		}
	})
}

type stubVerifier struct {
	calls int
}

func (s *stubVerifier) Verify(ctx context.Context, tok string) (*Claims, error) {
	s.calls++
	return &Claims{Subject: "u", Permissions: []string{"x"}}, nil
}

func TestAuthorize_MissingTokenSkipsVerification(t *testing.T) {
	sv := &stubVerifier{}
	az := NewAuthorizer(sv)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, f := az.Authorize(req, "x"); f == nil || f.Code != CodeMissingToken {
		t.Fatalf("want missing_token, got %v", f)
	}
	if sv.calls != 0 {
		t.Fatalf("verifier should not be called without a token")
	}

	req.Header.Set("Authorization", "Bearer abc")
	c, f := az.Authorize(req, "x")
	if f != nil || c.Subject != "u" {
		t.Fatalf("unexpected result %+v %v", c, f)
	}
}
