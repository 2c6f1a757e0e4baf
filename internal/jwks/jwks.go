// Package jwks resolves token signing keys published by an identity provider
// as a JSON Web Key Set. The key set is cached process-wide and replaced
// wholesale whenever it is refreshed.
package jwks

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MicahParks/jwkset"
	keyfunc "github.com/MicahParks/keyfunc/v3"
	"golang.org/x/sync/singleflight"
)

const defaultFetchTimeout = 5 * time.Second

var (
	// ErrKeyNotFound indicates the key identifier is absent from the key set,
	// even after a refresh.
	ErrKeyNotFound = errors.New("jwks: key not found")

	// ErrKeyFetch indicates the key set could not be retrieved or parsed.
	ErrKeyFetch = errors.New("jwks: key set fetch failed")

	// ErrKeyFetchTimeout indicates the key set fetch did not complete within
	// the configured timeout.
	ErrKeyFetchTimeout = errors.New("jwks: key set fetch timed out")
)

// SigningKey is a single public verification key from the key set.
type SigningKey struct {
	KeyID string
	// Algorithm is the JWK "alg" parameter. It may be empty when the provider
	// does not pin keys to an algorithm.
	Algorithm string
	Key       crypto.PublicKey
}

// Fetcher retrieves the raw JWKS document.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFetchTimeout bounds every key set fetch. Defaults to 5s.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.fetchTimeout = d
		}
	}
}

// WithRefreshInterval enables periodic background refreshes when Run is
// called. Zero (the default) disables them.
func WithRefreshInterval(d time.Duration) Option {
	return func(r *Resolver) { r.refreshInterval = d }
}

// WithLogger sets the logger used for refresh events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

type keySet struct {
	keys      map[string]SigningKey
	fetchedAt time.Time
}

// Resolver caches the provider's key set and refreshes it on a miss.
// It is safe for concurrent use. Readers always observe a complete key set;
// concurrent refreshes share a single in-flight fetch.
type Resolver struct {
	fetcher         Fetcher
	fetchTimeout    time.Duration
	refreshInterval time.Duration
	log             *slog.Logger

	current atomic.Pointer[keySet]
	group   singleflight.Group
}

// New constructs a Resolver with an empty cache. Nothing is fetched until the
// first Resolve or an explicit Refresh.
func New(fetcher Fetcher, opts ...Option) *Resolver {
	r := &Resolver{
		fetcher:      fetcher,
		fetchTimeout: defaultFetchTimeout,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup returns the cached key for kid without fetching.
func (r *Resolver) Lookup(kid string) (SigningKey, bool) {
	ks := r.current.Load()
	if ks == nil {
		return SigningKey{}, false
	}
	k, ok := ks.keys[kid]
	return k, ok
}

// Resolve returns the key for kid. On a cache miss the key set is refreshed
// once; if the key is still absent ErrKeyNotFound is returned. Fetch failures
// are reported as ErrKeyFetch or ErrKeyFetchTimeout.
func (r *Resolver) Resolve(ctx context.Context, kid string) (SigningKey, error) {
	if k, ok := r.Lookup(kid); ok {
		return k, nil
	}
	if err := r.Refresh(ctx); err != nil {
		return SigningKey{}, err
	}
	if k, ok := r.Lookup(kid); ok {
		return k, nil
	}
	return SigningKey{}, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

// Refresh fetches the key set and atomically replaces the cached one. Callers
// that arrive while a refresh is in flight wait for and share its result.
func (r *Resolver) Refresh(ctx context.Context) error {
	ch := r.group.DoChan("refresh", func() (any, error) {
		// The shared fetch must not fail for every waiter just because the
		// caller that started it went away.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
		defer cancel()
		return nil, r.refresh(fctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrKeyFetchTimeout, ctx.Err())
		}
		return fmt.Errorf("%w: %v", ErrKeyFetch, ctx.Err())
	}
}

func (r *Resolver) refresh(ctx context.Context) error {
	start := time.Now()
	raw, err := r.fetcher.Fetch(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			r.log.WarnContext(ctx, "jwks.refresh.timeout", slog.Duration("timeout", r.fetchTimeout))
			return fmt.Errorf("%w: %v", ErrKeyFetchTimeout, err)
		}
		r.log.WarnContext(ctx, "jwks.refresh.fail", slog.String("err", err.Error()))
		return fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}
	keys, err := r.parseKeySet(ctx, raw)
	if err != nil {
		r.log.WarnContext(ctx, "jwks.refresh.invalid", slog.String("err", err.Error()))
		return fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}
	r.current.Store(&keySet{keys: keys, fetchedAt: time.Now()})
	r.log.InfoContext(ctx, "jwks.refresh.ok", slog.Int("keys", len(keys)), slog.Duration("dur", time.Since(start)))
	return nil
}

// FetchedAt reports when the cached key set was last replaced. The zero time
// means nothing has been fetched yet.
func (r *Resolver) FetchedAt() time.Time {
	if ks := r.current.Load(); ks != nil {
		return ks.fetchedAt
	}
	return time.Time{}
}

// Run refreshes the key set every refresh interval until ctx is done. It
// returns immediately when no interval is configured.
func (r *Resolver) Run(ctx context.Context) {
	if r.refreshInterval <= 0 {
		return
	}
	t := time.NewTicker(r.refreshInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			// Failures keep the previous key set; they are logged by refresh.
			_ = r.Refresh(ctx)
		}
	}
}

type publicKeyer interface {
	Public() crypto.PublicKey
}

// parseKeySet decodes a JWKS document. Keys without an identifier, marked
// for encryption, or of a type or curve that cannot be decoded are skipped
// since they can never verify a token. Only a document that is not a JSON
// key set is an error.
func (r *Resolver) parseKeySet(ctx context.Context, raw []byte) (map[string]SigningKey, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode key set: %w", err)
	}
	if doc.Keys == nil {
		return nil, errors.New(`key set has no "keys" member`)
	}

	var all []jwkset.JWK
	kf, err := keyfunc.NewJWKSetJSON(raw)
	if err == nil {
		all, err = kf.Storage().KeyReadAll(ctx)
	}
	if err != nil {
		// A single unsupported entry rejects the whole set; decode the keys
		// one at a time instead.
		r.log.DebugContext(ctx, "jwks.parse.fallback", slog.String("err", err.Error()))
		all = r.decodeEach(ctx, doc.Keys)
	}

	keys := make(map[string]SigningKey, len(all))
	for _, jwk := range all {
		m := jwk.Marshal()
		if m.KID == "" {
			continue
		}
		if m.USE != "" && m.USE != jwkset.UseSig {
			continue
		}
		key := jwk.Key()
		if pk, ok := key.(publicKeyer); ok {
			key = pk.Public()
		}
		keys[m.KID] = SigningKey{KeyID: m.KID, Algorithm: string(m.ALG), Key: key}
	}
	return keys, nil
}

func (r *Resolver) decodeEach(ctx context.Context, entries []json.RawMessage) []jwkset.JWK {
	out := make([]jwkset.JWK, 0, len(entries))
	for i, e := range entries {
		jwk, err := jwkset.NewJWKFromRawJSON(e, jwkset.JWKMarshalOptions{}, jwkset.JWKValidateOptions{})
		if err != nil {
			r.log.DebugContext(ctx, "jwks.parse.skip", slog.Int("index", i), slog.String("err", err.Error()))
			continue
		}
		out = append(out, jwk)
	}
	return out
}
