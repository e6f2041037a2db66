package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wheelhousehq/wheelhouse/internal/api"
	"github.com/wheelhousehq/wheelhouse/internal/auth"
	"github.com/wheelhousehq/wheelhouse/internal/config"
	"github.com/wheelhousehq/wheelhouse/internal/engine"
	"github.com/wheelhousehq/wheelhouse/internal/engine/dockerpool"
	"github.com/wheelhousehq/wheelhouse/internal/engine/local"
	"github.com/wheelhousehq/wheelhouse/internal/ratelimit"
	"github.com/wheelhousehq/wheelhouse/internal/registry"
	"github.com/wheelhousehq/wheelhouse/internal/session"
	"github.com/wheelhousehq/wheelhouse/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("LOG_PRETTY") == "true" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	st, err := newStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to open datastore")
	}
	defer st.Close()
	log.Info().Str("backend", cfg.StoreBackend).Msg("datastore ready")

	backend, logs, err := newBackend(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to set up engine backend")
	}
	defer backend.Close()
	log.Info().Str("backend", cfg.EngineBackend).Msg("engine backend ready")

	engineCfg := engine.Config{
		Model:      cfg.Model,
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.APIBaseURL,
		Headless:   cfg.Headless,
		NavTimeout: float64(cfg.NavTimeout.Milliseconds()),
		ActTimeout: float64(cfg.ActTimeout.Milliseconds()),
	}
	reg := registry.New(registry.Launcher(backend, engineCfg))

	coord := session.NewCoordinator(st, reg, session.Options{
		InitTimeout:        cfg.InitTimeout,
		ActTimeout:         cfg.ActTimeout,
		SessionsPerProject: cfg.SessionsPerProject,
		MaxLaunches:        cfg.MaxLaunches,
	})

	handler := api.NewHandler(coord, st, newAuthProvider(cfg, st), logs)
	router := handler.Router(ratelimit.New(cfg.RequestsPerHour, cfg.RequestBurst))

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	coord.Shutdown(ctx)
	log.Info().Msg("shutdown complete")
}

func newStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return store.NewPostgres(ctx, cfg.PostgresDSN)
	default:
		return store.NewMemory(), nil
	}
}

func newBackend(cfg *config.Config) (engine.Backend, api.LogsFunc, error) {
	switch cfg.EngineBackend {
	case config.EngineDocker:
		pool, err := dockerpool.New()
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := pool.EnsureImage(ctx); err != nil {
			return nil, nil, err
		}
		return pool, pool.Logs, nil
	default:
		return local.New(cfg.Headless), nil, nil
	}
}

func newAuthProvider(cfg *config.Config, st store.Store) auth.Provider {
	var chain auth.Chain
	if cfg.JWTSecret != "" {
		chain = append(chain, auth.NewJWT(cfg.JWTSecret, st))
	}
	if cfg.DevToken != "" {
		chain = append(chain, auth.NewDevToken(cfg.DevToken, st))
	}
	return chain
}
