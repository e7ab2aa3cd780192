package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/qaops/reportpipe/pkg/archive"
	"github.com/qaops/reportpipe/pkg/backoff"
	"github.com/qaops/reportpipe/pkg/config"
	"github.com/qaops/reportpipe/pkg/notify"
	"github.com/qaops/reportpipe/pkg/rtm"
	"github.com/qaops/reportpipe/pkg/tracker"
	"github.com/qaops/reportpipe/pkg/upload"
	versionpkg "github.com/qaops/reportpipe/pkg/version"
	"github.com/qaops/reportpipe/pkg/wiki"
)

// setup loads the environment, configuration and a JSON logger. Every
// subcommand starts here.
func setup() (*config.Config, *slog.Logger, error) {
	// Only attempt to load a .env file if APP_ENV is not 'production'.
	// This keeps CI logs clean.
	if os.Getenv("APP_ENV") != "production" {
		godotenv.Load()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// signalContext cancels on SIGINT/SIGTERM so in-flight waits unwind cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newHTTPClient(cfg *config.Config) *http.Client {
	return &http.Client{Timeout: cfg.RequestTimeout}
}

func newEngine(cfg *config.Config, logger *slog.Logger) *upload.Engine {
	return upload.NewEngine(newHTTPClient(cfg), backoff.NewPolicy(cfg.BackoffSchedule), nil, logger)
}

// newVersionStore picks the backend from configuration: the shared Postgres
// counter when a DSN is configured, the flock-guarded file otherwise.
func newVersionStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (versionpkg.Store, error) {
	if cfg.VersionBackend == "postgres" {
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("VERSION_BACKEND is postgres but POSTGRES_DSN is empty")
		}
		return versionpkg.NewPostgresStore(ctx, cfg.PostgresDSN, cfg.BaseName, logger)
	}
	return versionpkg.NewFileStore(cfg.VersionFile, logger)
}

func newRTMClient(cfg *config.Config, logger *slog.Logger) (*rtm.Client, error) {
	if cfg.RTMBase == "" {
		return nil, fmt.Errorf("RTM_BASE is not configured")
	}
	return rtm.NewClient(cfg.RTMBase, cfg.RTMToken, newHTTPClient(cfg), logger), nil
}

func newTrackerClient(cfg *config.Config, logger *slog.Logger) (*tracker.Client, error) {
	if cfg.TrackerBase == "" {
		return nil, fmt.Errorf("JIRA_URL is not configured")
	}
	return tracker.NewClient(cfg.TrackerBase, cfg.TrackerUser, cfg.TrackerToken, newHTTPClient(cfg), logger), nil
}

func newWikiClient(cfg *config.Config, logger *slog.Logger) (*wiki.Client, error) {
	if cfg.WikiBase == "" {
		return nil, fmt.Errorf("CONFLUENCE_BASE is not configured")
	}
	return wiki.NewClient(cfg.WikiBase, cfg.WikiUser, cfg.WikiToken, newHTTPClient(cfg), logger), nil
}

// optionalClients builds the tracker and wiki clients, leaving either nil
// when its base URL is not configured so the pipeline skips that stage.
func optionalClients(cfg *config.Config, logger *slog.Logger) (*tracker.Client, *wiki.Client) {
	var trackerClient *tracker.Client
	var wikiClient *wiki.Client
	if cfg.TrackerBase != "" {
		trackerClient = tracker.NewClient(cfg.TrackerBase, cfg.TrackerUser, cfg.TrackerToken, newHTTPClient(cfg), logger)
	}
	if cfg.WikiBase != "" {
		wikiClient = wiki.NewClient(cfg.WikiBase, cfg.WikiUser, cfg.WikiToken, newHTTPClient(cfg), logger)
	}
	return trackerClient, wikiClient
}

// newArchiver returns nil when MinIO is not configured; archival is optional.
func newArchiver(cfg *config.Config, logger *slog.Logger) (*archive.Archiver, error) {
	if cfg.MinIOEndpoint == "" {
		return nil, nil
	}
	return archive.NewArchiver(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey,
		cfg.MinIOBucketName, cfg.MinIOUseSSL, logger)
}

// newNotifier returns nil when the broker is not configured.
func newNotifier(cfg *config.Config, logger *slog.Logger) (*notify.Notifier, error) {
	if cfg.AMQPURL == "" {
		return nil, nil
	}
	return notify.NewNotifier(cfg.AMQPURL, cfg.AMQPExchange, logger)
}
