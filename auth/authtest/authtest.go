// Package authtest provides an in-process identity provider for tests: it
// serves OIDC discovery metadata and a JWKS document over httptest and mints
// RS256 access tokens with a permissions claim.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

const jwksPath = "/.well-known/jwks.json"

// Key is an RSA signing key together with its key identifier.
type Key struct {
	ID      string
	Private *rsa.PrivateKey
}

// GenerateKey creates a 2048-bit RSA key with the given kid.
func GenerateKey(t testing.TB, kid string) *Key {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	return &Key{ID: kid, Private: pk}
}

// JWKS renders the public halves of keys as a JWKS document.
func JWKS(t testing.TB, keys ...*Key) []byte {
	t.Helper()
	set := jose.JSONWebKeySet{}
	for _, k := range keys {
		set.Keys = append(set.Keys, jose.JSONWebKey{Key: &k.Private.PublicKey, KeyID: k.ID, Algorithm: "RS256", Use: "sig"})
	}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return b
}

// Issuer is a fake identity provider. Its URL doubles as the "iss" value.
type Issuer struct {
	URL      string
	Audience string

	srv *httptest.Server

	mu        sync.Mutex
	published []*Key
	active    *Key
	delay     time.Duration
	status    int
	body      []byte

	fetches atomic.Int64
}

// NewIssuer starts a fake provider that publishes one key ("key-1") and
// shuts it down when the test ends.
func NewIssuer(t testing.TB, audience string) *Issuer {
	t.Helper()
	iss := &Issuer{Audience: audience}
	k := GenerateKey(t, "key-1")
	iss.published = []*Key{k}
	iss.active = k

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                   iss.URL,
			"jwks_uri":                 iss.URL + jwksPath,
			"authorization_endpoint":   iss.URL + "/authorize",
			"token_endpoint":           iss.URL + "/oauth/token",
			"response_types_supported": []string{"code"},
		})
	})
	mux.HandleFunc("GET "+jwksPath, func(w http.ResponseWriter, r *http.Request) {
		iss.fetches.Add(1)
		iss.mu.Lock()
		delay, status, body := iss.delay, iss.status, iss.body
		keys := append([]*Key(nil), iss.published...)
		iss.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if body != nil {
			_, _ = w.Write(body)
			return
		}
		_, _ = w.Write(JWKS(t, keys...))
	})
	iss.srv = httptest.NewServer(mux)
	iss.URL = iss.srv.URL
	t.Cleanup(iss.srv.Close)
	return iss
}

// JWKSURL is the key set endpoint.
func (i *Issuer) JWKSURL() string { return i.URL + jwksPath }

// Client returns an HTTP client for the test server.
func (i *Issuer) Client() *http.Client { return i.srv.Client() }

// Fetches counts how many times the key set has been served.
func (i *Issuer) Fetches() int64 { return i.fetches.Load() }

// ActiveKey is the key used by Sign.
func (i *Issuer) ActiveKey() *Key {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active
}

// Rotate generates a new key, publishes it alongside the existing ones and
// makes it the signing key.
func (i *Issuer) Rotate(t testing.TB, kid string) *Key {
	t.Helper()
	k := GenerateKey(t, kid)
	i.mu.Lock()
	i.published = append(i.published, k)
	i.active = k
	i.mu.Unlock()
	return k
}

// Publish replaces the published key set.
func (i *Issuer) Publish(keys ...*Key) {
	i.mu.Lock()
	i.published = append([]*Key(nil), keys...)
	i.mu.Unlock()
}

// SetDelay delays every JWKS response by d.
func (i *Issuer) SetDelay(d time.Duration) {
	i.mu.Lock()
	i.delay = d
	i.mu.Unlock()
}

// SetStatus makes the JWKS endpoint fail with code. Zero restores normal responses.
func (i *Issuer) SetStatus(code int) {
	i.mu.Lock()
	i.status = code
	i.mu.Unlock()
}

// SetBody serves raw instead of the published keys. Nil restores normal responses.
func (i *Issuer) SetBody(raw []byte) {
	i.mu.Lock()
	i.body = raw
	i.mu.Unlock()
}

// Claims returns a valid claim set for sub holding perms, expiring in one hour.
func (i *Issuer) Claims(sub string, perms ...string) jwt.MapClaims {
	now := time.Now()
	if perms == nil {
		perms = []string{}
	}
	return jwt.MapClaims{
		"iss":         i.URL,
		"sub":         sub,
		"aud":         i.Audience,
		"iat":         now.Unix(),
		"exp":         now.Add(time.Hour).Unix(),
		"permissions": perms,
	}
}

// Sign signs claims with the active key.
func (i *Issuer) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	return SignWith(t, i.ActiveKey(), claims)
}

// Token mints a valid token for "user-123" holding perms.
func (i *Issuer) Token(t testing.TB, perms ...string) string {
	t.Helper()
	return i.Sign(t, i.Claims("user-123", perms...))
}

// SignWith signs claims as RS256 with k, setting the kid header.
func SignWith(t testing.TB, k *Key, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = k.ID
	s, err := tok.SignedString(k.Private)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

// NoneToken forges an unsigned token using the "none" algorithm.
func NoneToken(t testing.TB, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	return s
}
