package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ggoodman/drinkshop/internal/jwks"
	"github.com/golang-jwt/jwt/v5"
)

// Config controls validation behavior for access tokens.
type Config struct {
	Issuer   string
	Audience string
	// AllowedAlgs is the explicit allow-list of JWS algorithms. "none" is
	// never accepted, even if listed.
	AllowedAlgs []string
	// Leeway widens the exp and nbf checks to tolerate clock skew. Zero means
	// a token is expired at exactly its exp second.
	Leeway time.Duration
}

// DefaultConfig returns a Config that accepts RS256 only with no leeway.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
	}
}

// Each rejection path has its own sentinel so callers can tell them apart
// with errors.Is. Key resolution failures surface as the jwks sentinels.
var (
	ErrMalformedToken       = errors.New("jwtauth: malformed token")
	ErrUnsupportedAlgorithm = errors.New("jwtauth: unsupported signing algorithm")
	ErrInvalidSignature     = errors.New("jwtauth: invalid signature")
	ErrMalformedClaims      = errors.New("jwtauth: malformed claims")
	ErrExpired              = errors.New("jwtauth: token expired")
	ErrNotYetValid          = errors.New("jwtauth: token not yet valid")
	ErrWrongAudience        = errors.New("jwtauth: audience mismatch")
	ErrWrongIssuer          = errors.New("jwtauth: issuer mismatch")
)

// KeyResolver looks up verification keys by key identifier, refreshing its
// cache at most once on a miss.
type KeyResolver interface {
	Resolve(ctx context.Context, kid string) (jwks.SigningKey, error)
}

// Claims is the verified payload of an access token.
type Claims struct {
	Issuer    string
	Subject   string
	Audience  []string
	ExpiresAt time.Time
	NotBefore time.Time // zero if the token carries no nbf
	IssuedAt  time.Time // zero if the token carries no iat
	// Permissions is nil when the token has no "permissions" claim at all and
	// non-nil (possibly empty) when the claim is present.
	Permissions []string

	raw jwt.MapClaims
}

// UserID returns the token subject.
func (c *Claims) UserID() string { return c.Subject }

// Decode unmarshals the raw claim set into ref.
func (c *Claims) Decode(ref any) error {
	b, err := json.Marshal(c.raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Verifier validates bearer tokens against a key resolver and a Config.
type Verifier struct {
	cfg    *Config
	keys   KeyResolver
	parser *jwt.Parser
	now    func() time.Time
}

// New constructs a Verifier. Issuer and audience are required and the
// algorithm allow-list may not contain "none" or HMAC algorithms.
func New(cfg *Config, keys KeyResolver) (*Verifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}
	if keys == nil {
		return nil, errors.New("key resolver is required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	for _, alg := range cfg.AllowedAlgs {
		if strings.EqualFold(alg, "none") {
			return nil, errors.New(`the "none" algorithm cannot be allowed`)
		}
		m := jwt.GetSigningMethod(alg)
		if m == nil {
			return nil, fmt.Errorf("unknown signing algorithm %q", alg)
		}
		// Keys come from a public key set; shared-secret algorithms cannot apply.
		if _, ok := m.(*jwt.SigningMethodHMAC); ok {
			return nil, fmt.Errorf("symmetric signing algorithm %q cannot be allowed", alg)
		}
	}
	return &Verifier{
		cfg:    cfg,
		keys:   keys,
		parser: jwt.NewParser(),
		now:    time.Now,
	}, nil
}

// SetTimeFunc overrides the clock used for exp/nbf checks.
func (v *Verifier) SetTimeFunc(fn func() time.Time) {
	v.now = fn
}

// Verify checks the token's structure, algorithm, signature and standard
// claims, in that order, and returns the verified claims. The signature is
// checked before the payload is decoded so that any payload tampering is
// reported as ErrInvalidSignature.
func (v *Verifier) Verify(ctx context.Context, tok string) (*Claims, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformedToken)
	}
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: token has %d segments, want 3", ErrMalformedToken, len(parts))
	}

	headerBytes, err := v.parser.DecodeSegment(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: could not decode header: %v", ErrMalformedToken, err)
	}
	var header map[string]any
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("%w: could not parse header: %v", ErrMalformedToken, err)
	}

	alg, _ := header["alg"].(string)
	if alg == "" {
		return nil, fmt.Errorf("%w: header has no alg", ErrMalformedToken)
	}
	if !v.algAllowed(alg) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}

	kid, _ := header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: header has no kid", ErrMalformedToken)
	}
	sig, err := v.parser.DecodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: could not decode signature: %v", ErrMalformedToken, err)
	}

	key, err := v.keys.Resolve(ctx, kid)
	if err != nil {
		return nil, err
	}
	if key.Algorithm != "" && key.Algorithm != alg {
		return nil, fmt.Errorf("%w: key %q is for %s, token uses %s", ErrInvalidSignature, kid, key.Algorithm, alg)
	}
	if err := method.Verify(parts[0]+"."+parts[1], sig, key.Key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	payload, err := v.parser.DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: could not decode payload: %v", ErrMalformedToken, err)
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: could not parse payload: %v", ErrMalformedToken, err)
	}
	return v.validate(claims)
}

func (v *Verifier) algAllowed(alg string) bool {
	if strings.EqualFold(alg, "none") {
		return false
	}
	return slices.Contains(v.cfg.AllowedAlgs, alg)
}

func (v *Verifier) validate(claims jwt.MapClaims) (*Claims, error) {
	iss, err := claims.GetIssuer()
	if err != nil || iss == "" {
		return nil, fmt.Errorf("%w: iss missing or not a string", ErrMalformedClaims)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: sub missing or not a string", ErrMalformedClaims)
	}
	aud, err := claims.GetAudience()
	if err != nil || len(aud) == 0 {
		return nil, fmt.Errorf("%w: aud missing or not a string/array of strings", ErrMalformedClaims)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: exp missing or not numeric", ErrMalformedClaims)
	}
	nbf, err := claims.GetNotBefore()
	if err != nil {
		return nil, fmt.Errorf("%w: nbf not numeric", ErrMalformedClaims)
	}
	iat, err := claims.GetIssuedAt()
	if err != nil {
		return nil, fmt.Errorf("%w: iat not numeric", ErrMalformedClaims)
	}
	perms, err := permissionsClaim(claims)
	if err != nil {
		return nil, err
	}

	now := v.now()
	if !now.Before(exp.Time.Add(v.cfg.Leeway)) {
		return nil, fmt.Errorf("%w: expired at %s", ErrExpired, exp.Time.UTC().Format(time.RFC3339))
	}
	if nbf != nil && now.Add(v.cfg.Leeway).Before(nbf.Time) {
		return nil, fmt.Errorf("%w: valid from %s", ErrNotYetValid, nbf.Time.UTC().Format(time.RFC3339))
	}
	if !slices.Contains(aud, v.cfg.Audience) {
		return nil, fmt.Errorf("%w: want %q", ErrWrongAudience, v.cfg.Audience)
	}
	if iss != v.cfg.Issuer {
		return nil, fmt.Errorf("%w: want %q, got %q", ErrWrongIssuer, v.cfg.Issuer, iss)
	}

	c := &Claims{
		Issuer:      iss,
		Subject:     sub,
		Audience:    []string(aud),
		ExpiresAt:   exp.Time,
		Permissions: perms,
		raw:         claims,
	}
	if nbf != nil {
		c.NotBefore = nbf.Time
	}
	if iat != nil {
		c.IssuedAt = iat.Time
	}
	return c, nil
}

// permissionsClaim extracts the "permissions" array. An absent or null claim
// yields nil; a present claim always yields a non-nil slice.
func permissionsClaim(claims jwt.MapClaims) ([]string, error) {
	raw, ok := claims["permissions"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: permissions is not an array", ErrMalformedClaims)
	}
	perms := make([]string, 0, len(list))
	for _, e := range list {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("%w: permissions contains a non-string entry", ErrMalformedClaims)
		}
		perms = append(perms, s)
	}
	return perms, nil
}
