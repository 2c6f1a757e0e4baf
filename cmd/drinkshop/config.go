package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ggoodman/drinkshop/auth"
	drinksredis "github.com/ggoodman/drinkshop/drinks/redis"
	"github.com/joeshaw/envdecode"
)

// Store backends selectable through DRINKS_STORE.
const (
	storeMemory = "memory"
	storeRedis  = "redis"
	storeSQLite = "sqlite"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Addr      string `env:"DRINKS_ADDR,default=127.0.0.1:8080"`
	PublicURL string `env:"DRINKS_PUBLIC_URL"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	Seed      bool   `env:"DRINKS_SEED,default=false"`

	Issuer          string        `env:"AUTH_ISSUER"`
	Audience        string        `env:"AUTH_AUDIENCE"`
	JWKSURL         string        `env:"AUTH_JWKS_URL"`
	JWKSFile        string        `env:"AUTH_JWKS_FILE"`
	AllowedAlgs     []string      `env:"AUTH_ALLOWED_ALGS,default=RS256"`
	FetchTimeout    time.Duration `env:"AUTH_JWKS_FETCH_TIMEOUT,default=5s"`
	RefreshInterval time.Duration `env:"AUTH_JWKS_REFRESH_INTERVAL"`
	Leeway          time.Duration `env:"AUTH_LEEWAY"`

	Store      string `env:"DRINKS_STORE,default=memory"`
	SQLitePath string `env:"DRINKS_SQLITE_PATH,default=drinks.db"`
	Redis      drinksredis.Config
}

// loadConfig decodes Config from the environment and validates it.
func loadConfig() (Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store {
	case storeMemory, storeRedis, storeSQLite:
	default:
		return fmt.Errorf("DRINKS_STORE must be one of %s, %s or %s, got %q", storeMemory, storeRedis, storeSQLite, c.Store)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Issuer == "" {
		return fmt.Errorf("AUTH_ISSUER is required")
	}
	if c.Audience == "" {
		return fmt.Errorf("AUTH_AUDIENCE is required")
	}
	if c.JWKSURL != "" && c.JWKSFile != "" {
		return fmt.Errorf("AUTH_JWKS_URL and AUTH_JWKS_FILE are mutually exclusive")
	}
	return nil
}

// security maps the auth settings onto auth.SecurityConfig. JWKSURL is left
// empty when neither a URL nor a file is configured so the caller can run
// discovery against the issuer.
func (c Config) security() auth.SecurityConfig {
	sec := auth.SecurityConfig{
		Issuer:          c.Issuer,
		Audience:        c.Audience,
		AllowedAlgs:     c.AllowedAlgs,
		JWKSURL:         c.JWKSURL,
		JWKSFile:        c.JWKSFile,
		Leeway:          c.Leeway,
		FetchTimeout:    c.FetchTimeout,
		RefreshInterval: c.RefreshInterval,
	}
	sec.Normalize()
	return sec
}

// authOptions renders the tunables as provider options for discovery.
func (c Config) authOptions() []auth.Option {
	opts := []auth.Option{
		auth.WithAllowedAlgs(c.AllowedAlgs...),
		auth.WithLeeway(c.Leeway),
		auth.WithFetchTimeout(c.FetchTimeout),
		auth.WithRefreshInterval(c.RefreshInterval),
	}
	if c.JWKSFile != "" {
		opts = append(opts, auth.WithJWKSFile(c.JWKSFile))
	}
	return opts
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", s)
	}
}
