package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/ggoodman/drinkshop/internal/jwks"
	"github.com/ggoodman/drinkshop/internal/jwtauth"
)

// Option configures optional aspects of a Provider (algorithms, leeway, key
// fetching, etc.). Issuer and audience are formal arguments.
type Option func(*settings)

type settings struct {
	sec    *SecurityConfig
	client *http.Client
	log    *slog.Logger
}

// WithAllowedAlgs restricts allowed JWS algorithms. "none" is never allowed.
// Defaults to ["RS256"].
func WithAllowedAlgs(algs ...string) Option {
	return func(s *settings) { s.sec.AllowedAlgs = append([]string(nil), algs...) }
}

// WithLeeway sets clock skew tolerance for exp and nbf.
func WithLeeway(d time.Duration) Option {
	return func(s *settings) { s.sec.Leeway = d }
}

// WithFetchTimeout bounds each key set fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *settings) { s.sec.FetchTimeout = d }
}

// WithRefreshInterval enables a periodic key set refresh while Run is active.
func WithRefreshInterval(d time.Duration) Option {
	return func(s *settings) { s.sec.RefreshInterval = d }
}

// WithJWKSFile loads signing keys from a local file instead of the issuer.
func WithJWKSFile(path string) Option {
	return func(s *settings) { s.sec.JWKSFile = path }
}

// WithHTTPClient sets the client used for discovery and key set fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.client = c }
}

// WithLogger sets the logger used for key refresh events.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.log = l }
}

// Provider verifies access tokens issued by a single authorization server.
// It owns the process-wide signing key cache.
type Provider struct {
	sec      SecurityConfig
	resolver *jwks.Resolver
	verifier *jwtauth.Verifier
}

var _ Verifier = (*Provider)(nil)

// NewFromDiscovery returns a Provider whose key set location is discovered
// from the issuer's OpenID Connect metadata. Discovery is skipped when a
// JWKS file is configured.
func NewFromDiscovery(ctx context.Context, issuer string, audience string, opts ...Option) (*Provider, error) {
	sec := SecurityConfig{Issuer: issuer, Audience: audience}
	s := apply(&sec, opts)
	if sec.JWKSFile == "" && sec.JWKSURL == "" {
		if issuer == "" {
			return nil, errors.New("issuer is required")
		}
		if s.client != nil {
			ctx = oidc.ClientContext(ctx, s.client)
		}
		p, err := oidc.NewProvider(ctx, issuer)
		if err != nil {
			return nil, fmt.Errorf("oidc discovery: %w", err)
		}
		var meta struct {
			JWKSURI string `json:"jwks_uri"`
		}
		if err := p.Claims(&meta); err != nil {
			return nil, fmt.Errorf("oidc discovery: %w", err)
		}
		if meta.JWKSURI == "" {
			return nil, errors.New("oidc discovery: metadata has no jwks_uri")
		}
		sec.JWKSURL = meta.JWKSURI
	}
	return newProvider(sec, s)
}

// NewProvider builds a Provider from an explicit configuration without
// performing discovery.
func (c SecurityConfig) NewProvider(opts ...Option) (*Provider, error) {
	sec := c.Copy()
	s := apply(&sec, opts)
	return newProvider(sec, s)
}

func apply(sec *SecurityConfig, opts []Option) settings {
	s := settings{sec: sec, log: slog.Default()}
	for _, opt := range opts {
		opt(&s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

func newProvider(sec SecurityConfig, s settings) (*Provider, error) {
	sec.Normalize()
	if err := sec.Validate(); err != nil {
		return nil, err
	}

	var fetcher jwks.Fetcher
	if sec.JWKSFile != "" {
		fetcher = &jwks.FileFetcher{Path: sec.JWKSFile}
	} else {
		fetcher = jwks.NewHTTPFetcher(sec.JWKSURL, s.client)
	}
	resolver := jwks.New(fetcher,
		jwks.WithFetchTimeout(sec.FetchTimeout),
		jwks.WithRefreshInterval(sec.RefreshInterval),
		jwks.WithLogger(s.log),
	)
	v, err := jwtauth.New(&jwtauth.Config{
		Issuer:      sec.Issuer,
		Audience:    sec.Audience,
		AllowedAlgs: append([]string(nil), sec.AllowedAlgs...),
		Leeway:      sec.Leeway,
	}, resolver)
	if err != nil {
		return nil, err
	}
	return &Provider{sec: sec, resolver: resolver, verifier: v}, nil
}

// Verify validates tok and returns its claims.
func (p *Provider) Verify(ctx context.Context, tok string) (*Claims, error) {
	return p.verifier.Verify(ctx, tok)
}

// Refresh eagerly loads the signing keys.
func (p *Provider) Refresh(ctx context.Context) error {
	return p.resolver.Refresh(ctx)
}

// Run keeps the key set fresh until ctx is done: it refreshes periodically
// when a refresh interval is set and reloads on change when keys come from a
// file.
func (p *Provider) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.resolver.Run(ctx)
	}()

	var err error
	if p.sec.JWKSFile != "" {
		err = jwks.WatchFile(ctx, p.resolver, p.sec.JWKSFile)
		cancel()
	}
	wg.Wait()
	return err
}

// SecurityConfig returns a copy of the effective configuration.
func (p *Provider) SecurityConfig() SecurityConfig { return p.sec.Copy() }
