package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bcnelson/membership-manager/internal/api"
	"github.com/bcnelson/membership-manager/internal/auth"
	"github.com/bcnelson/membership-manager/internal/config"
	"github.com/bcnelson/membership-manager/internal/notify"
	"github.com/bcnelson/membership-manager/internal/storage/sql"
	"github.com/bcnelson/membership-manager/internal/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracing")
	}

	// Create data directory if needed (for SQLite)
	if cfg.Database.Driver == "sqlite3" {
		if dir := sqliteDir(cfg.Database.DSN); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				log.Fatal().Err(err).Str("dir", dir).Msg("failed to create data directory")
			}
		}
	}

	// Initialize storage
	store, err := sql.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	notifier, err := newNotifier(cfg.Notify)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize notifier")
	}

	opts := api.Options{BatchSize: cfg.Notify.BatchSize}
	if cfg.OIDC.Enabled {
		verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDC.IssuerURL, cfg.OIDC.ClientID, cfg.OIDC.GetAllowedDomains())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize OIDC verifier")
		}
		opts.Verifier = verifier
		log.Info().Str("issuer", cfg.OIDC.IssuerURL).Msg("bearer token authentication enabled")
	}

	// Create HTTP server
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewRouter(store, notifier, opts),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr()).Msg("starting membership manager")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("flushing traces")
	}

	log.Info().Msg("server stopped")
}

func setupLogging(cfg config.LogConfig) {
	level, _ := zerolog.ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// newNotifier returns the webhook notifier when a URL is configured, a
// logging notifier otherwise, bounded by the configured timeout either way.
func newNotifier(cfg config.NotifyConfig) (notify.Notifier, error) {
	var base notify.Notifier = notify.LogNotifier{}
	if cfg.WebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:      cfg.WebhookURL,
			MaxTries: cfg.MaxTries,
		})
		if err != nil {
			return nil, err
		}
		base = webhook
		log.Info().Str("url", cfg.WebhookURL).Msg("notifications sent by webhook")
	}
	return notify.WithTimeout(base, cfg.Timeout)
}

// sqliteDir returns the directory holding a file-backed SQLite DSN.
func sqliteDir(dsn string) string {
	path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	if path == "" || path == ":memory:" {
		return ""
	}
	if dir := filepath.Dir(path); dir != "." {
		return dir
	}
	return ""
}
