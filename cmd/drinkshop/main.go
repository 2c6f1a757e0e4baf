// Command drinkshop serves the drinks API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggoodman/drinkshop/auth"
	"github.com/ggoodman/drinkshop/drinks"
	"github.com/ggoodman/drinkshop/drinks/memory"
	drinksredis "github.com/ggoodman/drinkshop/drinks/redis"
	"github.com/ggoodman/drinkshop/drinks/sqlite"
	"github.com/ggoodman/drinkshop/httpapi"
	"github.com/ggoodman/drinkshop/internal/logctx"
	"github.com/ggoodman/drinkshop/internal/wellknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	level, _ := parseLevel(cfg.LogLevel)
	log := slog.New(logctx.Wrap(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Seed {
		if err := drinks.Seed(ctx, store); err != nil {
			return fmt.Errorf("seeding store: %w", err)
		}
	}

	provider, err := newProvider(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := provider.Refresh(ctx); err != nil {
		// Keys are fetched again on the first request.
		log.WarnContext(ctx, "auth.keys.prefetch.fail", slog.String("err", err.Error()))
	}
	go func() {
		if err := provider.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.ErrorContext(ctx, "auth.keys.watch.fail", slog.String("err", err.Error()))
		}
	}()

	opts := []httpapi.Option{httpapi.WithLogger(log)}
	if cfg.PublicURL != "" {
		sec := provider.SecurityConfig()
		md := wellknown.NewProtectedResourceMetadata(cfg.PublicURL, sec.Issuer, sec.JWKSURL, httpapi.Permissions())
		opts = append(opts, httpapi.WithProtectedResourceMetadata(md))
	}
	h, err := httpapi.New(store, auth.NewAuthorizer(provider, auth.WithRealm("drinks"), auth.WithAuthorizerLogger(log)), opts...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "http.listen", slog.String("addr", cfg.Addr), slog.String("store", cfg.Store))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("http.shutdown")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg Config) (drinks.Store, error) {
	switch cfg.Store {
	case storeRedis:
		s, err := drinksredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("opening redis store: %w", err)
		}
		return s, nil
	case storeSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return s, nil
	default:
		return memory.New(), nil
	}
}

// newProvider uses the configured key set location, falling back to OpenID
// Connect discovery against the issuer.
func newProvider(ctx context.Context, cfg Config, log *slog.Logger) (*auth.Provider, error) {
	if cfg.JWKSURL != "" {
		return cfg.security().NewProvider(auth.WithLogger(log))
	}
	opts := append(cfg.authOptions(), auth.WithLogger(log))
	return auth.NewFromDiscovery(ctx, cfg.Issuer, cfg.Audience, opts...)
}
