package auth

import (
	"errors"
	"time"
)

const defaultFetchTimeout = 5 * time.Second

// SecurityConfig describes how this resource validates bearer tokens and
// where it obtains the issuer's signing keys.
//
// A zero value is invalid; populate Issuer, Audience and one key source then
// call Validate.
type SecurityConfig struct {
	Issuer      string
	Audience    string
	AllowedAlgs []string // default: ["RS256"] if empty

	// Exactly one key source is used. JWKSURL is filled by discovery when
	// neither is set.
	JWKSURL  string
	JWKSFile string

	Leeway          time.Duration // clock skew tolerance (default 0)
	FetchTimeout    time.Duration // default 5s
	RefreshInterval time.Duration // default 0: refresh on miss only
}

// Normalize fills defaults.
func (c *SecurityConfig) Normalize() {
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
}

// Validate returns an error if required invariants are not met.
func (c SecurityConfig) Validate() error {
	if c.Issuer == "" {
		return errors.New("security: issuer required")
	}
	if c.Audience == "" {
		return errors.New("security: audience required")
	}
	if c.JWKSURL == "" && c.JWKSFile == "" {
		return errors.New("security: a JWKS URL or file is required")
	}
	if c.JWKSURL != "" && c.JWKSFile != "" {
		return errors.New("security: JWKS URL and file are mutually exclusive")
	}
	if c.Leeway < 0 {
		return errors.New("security: leeway must not be negative")
	}
	for _, alg := range c.AllowedAlgs {
		if alg == "" {
			return errors.New("security: empty algorithm entry")
		}
	}
	return nil
}

// Copy returns a deep copy safe for mutation by the caller.
func (c SecurityConfig) Copy() SecurityConfig {
	dup := c
	dup.AllowedAlgs = append([]string(nil), c.AllowedAlgs...)
	return dup
}
