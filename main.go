package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	cfg "github.com/example/oauth2core/internal/config"
	"github.com/example/oauth2core/internal/grant"
	"github.com/example/oauth2core/internal/httpapi"
	"github.com/example/oauth2core/internal/idtoken"
	"github.com/example/oauth2core/internal/issuer"
	"github.com/example/oauth2core/internal/logging"
	"github.com/example/oauth2core/internal/scope"
	"github.com/example/oauth2core/internal/storage"
	"github.com/example/oauth2core/internal/tokengen"
)

func openStore(ctx context.Context, c *cfg.Config) (storage.Store, error) {
	switch c.DBAdapter {
	case "sqlite":
		return storage.NewSQLiteStore(ctx, c.SQLiteFile)
	case "postgres":
		log.Info().Msg("applying database migrations")
		if err := storage.ApplyMigrations(ctx, c.PostgresDSN); err != nil {
			return nil, err
		}
		return storage.NewPostgresStore(ctx, c.PostgresDSN)
	default:
		log.Warn().Msg("using in-memory storage, data is lost on restart")
		return storage.NewMemoryStore(), nil
	}
}

func newController(c *cfg.Config, store storage.Store) (*grant.Controller, error) {
	gen, err := tokengen.New()
	if err != nil {
		return nil, err
	}
	iss := issuer.New(issuer.Config{
		TokenType:            c.TokenType,
		AccessLifetime:       c.AccessLifetime,
		RefreshTokenLifetime: c.RefreshTokenLifetime,
	}, gen, store, store)

	signer := idtoken.NewSigner(store, store, c.Issuer,
		idtoken.WithLifetime(time.Duration(c.IDTokenLifetime)*time.Second))

	return grant.NewController(iss, store, scope.NewValidator(store),
		grant.NewUserLogin(store),
		grant.NewPassword(store),
		grant.NewClientCredentials(store),
		grant.NewAuthorizationCode(store, grant.WithIDTokenSigner(signer)),
		grant.NewRefreshToken(store, grant.RefreshOptions{
			AlwaysIssueNewRefreshToken: c.AlwaysIssueNewRefreshToken,
			UnsetRefreshTokenAfterUse:  c.UnsetRefreshTokenAfterUse,
		}),
		grant.NewJWTBearer(store, c.JWTBearerAudience),
	), nil
}

func main() {
	c, err := cfg.New()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logging.Init(c.LogLevel, c.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := openStore(ctx, c)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Str("adapter", c.DBAdapter).Msg("storage init")
	}

	controller, err := newController(c, store)
	if err != nil {
		log.Fatal().Err(err).Msg("token endpoint init")
	}
	api := httpapi.New(controller, store, httpapi.WithRateLimit(c.RateLimitPerMinute))

	srv := &http.Server{Handler: api.Handler(), Addr: ":" + c.Port, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		log.Info().Str("port", c.Port).Str("adapter", c.DBAdapter).Strs("grant_types", controller.GrantTypes()).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("closing storage")
	}
	log.Info().Msg("server exited properly")
}
