package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/snapstash/snapstash/internal/api"
	"github.com/snapstash/snapstash/internal/auth"
	"github.com/snapstash/snapstash/internal/browser"
	"github.com/snapstash/snapstash/internal/capture"
	"github.com/snapstash/snapstash/internal/config"
	"github.com/snapstash/snapstash/internal/index"
	"github.com/snapstash/snapstash/internal/proxy"
	"github.com/snapstash/snapstash/internal/ratelimit"
	"github.com/snapstash/snapstash/internal/storage"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	store, err := storage.NewDiskStore(cfg.StorageDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize artifact store")
	}
	log.Info().Str("dir", cfg.StorageDir).Msg("artifact store ready")

	if err := os.MkdirAll(filepath.Dir(cfg.IndexPath), 0755); err != nil {
		log.Fatal().Err(err).Msg("failed to create index directory")
	}
	idx, err := index.Open(cfg.IndexPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open capture index")
	}
	defer idx.Close()
	log.Info().Str("path", cfg.IndexPath).Msg("capture index ready")

	var launcher browser.Launcher
	switch cfg.Launcher {
	case config.LauncherDocker:
		dockerLauncher, err := browser.NewDockerLauncher()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create docker launcher")
		}
		defer dockerLauncher.Close()

		pullCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		if err := dockerLauncher.EnsureImage(pullCtx); err != nil {
			cancel()
			log.Fatal().Err(err).Msg("failed to ensure chrome image")
		}
		cancel()
		log.Info().Msg("chrome image ready")
		launcher = dockerLauncher
	case config.LauncherLocal:
		launcher = browser.NewLocalLauncher()
		log.Info().Msg("using local chrome launcher")
	}

	registry := capture.NewRegistry(launcher, store, idx, capture.RegistryConfig{
		Session: capture.Config{
			TickPeriod:        cfg.TickPeriod,
			KeepAlive:         cfg.KeepAlive,
			DefaultViewport:   cfg.DefaultViewport,
			NavigationTimeout: cfg.NavigationTimeout,
		},
		MaxBrowsers: cfg.MaxBrowsers,
	}, log)
	defer registry.Close()
	log.Info().
		Dur("tickPeriod", cfg.TickPeriod).
		Dur("keepAlive", cfg.KeepAlive).
		Int64("maxBrowsers", cfg.MaxBrowsers).
		Msg("capture registry initialized")

	var authn *auth.Authenticator
	if len(cfg.AuthTokens) > 0 {
		authn = auth.New(cfg.AuthTokens)
		log.Info().Int("tokens", len(cfg.AuthTokens)).Msg("token auth enabled")
	} else {
		log.Warn().Msg("AUTH_TOKENS not set, identity taken from X-User-ID header")
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	proxyServer := proxy.NewServer(registry, log)

	handler := api.NewHandler(registry, idx, log)
	router := handler.SetupRoutes(authn, proxyServer, limiter, cfg.RateLimitPerMinute, log)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}

	log.Info().Msg("server stopped")
}
