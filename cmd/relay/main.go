package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ericvolp12/bsky-experiments/pkg/tracing"
	"github.com/ericvolp12/track-relay/pkg/bq"
	"github.com/ericvolp12/track-relay/pkg/event"
	"github.com/ericvolp12/track-relay/pkg/notify"
	"github.com/ericvolp12/track-relay/pkg/parq"
	"github.com/ericvolp12/track-relay/pkg/relay"
	"github.com/ericvolp12/track-relay/pkg/store"
	"github.com/joho/godotenv"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	echopprof "github.com/sevenNt/echo-pprof"
	"github.com/urfave/cli/v2"
)

func main() {
	// Values in .env never override the real environment.
	_ = godotenv.Load()

	app := cli.App{
		Name:    "track-relay",
		Usage:   "telemetry ingestion and telegram relay",
		Version: "0.0.1",
	}

	app.Flags = []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Usage:   "port to serve the http server on",
			Value:   3000,
			EnvVars: []string{"PORT"},
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "enable debug logging",
			Value:   false,
			EnvVars: []string{"RELAY_DEBUG"},
		},
		&cli.StringFlag{
			Name:    "store",
			Usage:   "storage backend: file, sqlite or redis",
			Value:   "file",
			EnvVars: []string{"RELAY_STORE"},
		},
		&cli.StringFlag{
			Name:    "db-file",
			Usage:   "path to the json database file (file store)",
			Value:   "database.json",
			EnvVars: []string{"DB_FILE"},
		},
		&cli.StringFlag{
			Name:    "sqlite-path",
			Usage:   "path to the sqlite database (sqlite store)",
			Value:   "./data/track-relay.db",
			EnvVars: []string{"RELAY_SQLITE_PATH"},
		},
		&cli.BoolFlag{
			Name:    "migrate-db",
			Usage:   "run database migrations (sqlite store)",
			Value:   true,
			EnvVars: []string{"RELAY_MIGRATE_DB"},
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "redis address (redis store)",
			Value:   "localhost:6379",
			EnvVars: []string{"REDIS_ADDR"},
		},
		&cli.StringFlag{
			Name:    "redis-password",
			Usage:   "redis password (redis store)",
			EnvVars: []string{"REDIS_PASSWORD"},
		},
		&cli.IntFlag{
			Name:    "redis-db",
			Usage:   "redis database number (redis store)",
			EnvVars: []string{"REDIS_DB"},
		},
		&cli.StringFlag{
			Name:    "redis-key",
			Usage:   "redis key holding the document (redis store)",
			Value:   "track-relay:document",
			EnvVars: []string{"REDIS_KEY"},
		},
		&cli.StringFlag{
			Name:    "telegram-bot-token",
			Usage:   "telegram bot token, relay is disabled when empty",
			EnvVars: []string{"TELEGRAM_BOT_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "telegram-chat-id",
			Usage:   "telegram chat id to relay to, relay is disabled when empty",
			EnvVars: []string{"TELEGRAM_CHAT_ID"},
		},
		&cli.StringFlag{
			Name:    "telegram-api-base",
			Usage:   "base url of the telegram bot api",
			Value:   notify.DefaultAPIBase,
			EnvVars: []string{"TELEGRAM_API_BASE"},
		},
		&cli.DurationFlag{
			Name:    "telegram-timeout",
			Usage:   "timeout for a single telegram api call",
			Value:   30 * time.Second,
			EnvVars: []string{"TELEGRAM_TIMEOUT"},
		},
		&cli.Float64Flag{
			Name:    "telegram-rate-limit",
			Usage:   "max telegram api calls per second (0 for unlimited)",
			EnvVars: []string{"TELEGRAM_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "display-timezone",
			Usage:   "IANA timezone used for timestamps in notifications",
			Value:   "America/Sao_Paulo",
			EnvVars: []string{"DISPLAY_TIMEZONE"},
		},
		&cli.StringFlag{
			Name:    "public-dir",
			Usage:   "directory of static dashboard files",
			Value:   "public",
			EnvVars: []string{"RELAY_PUBLIC_DIR"},
		},
		&cli.StringFlag{
			Name:    "parquet-dir",
			Usage:   "directory to archive events as parquet files (disabled when empty)",
			EnvVars: []string{"RELAY_PARQUET_DIR"},
		},
		&cli.IntFlag{
			Name:    "parquet-batch-size",
			Usage:   "number of events per parquet file",
			Value:   10_000,
			EnvVars: []string{"RELAY_PARQUET_BATCH_SIZE"},
		},
		&cli.DurationFlag{
			Name:    "parquet-max-wait",
			Usage:   "max time to wait before writing a partial parquet file",
			Value:   5 * time.Minute,
			EnvVars: []string{"RELAY_PARQUET_MAX_WAIT"},
		},
		&cli.StringFlag{
			Name:    "bigquery-project-id",
			Usage:   "Google Cloud project ID for BigQuery",
			EnvVars: []string{"RELAY_BIGQUERY_PROJECT_ID"},
		},
		&cli.StringFlag{
			Name:    "bigquery-dataset",
			Usage:   "BigQuery dataset name",
			EnvVars: []string{"RELAY_BIGQUERY_DATASET"},
		},
		&cli.StringFlag{
			Name:    "bigquery-table-prefix",
			Usage:   "BigQuery table name prefix",
			EnvVars: []string{"RELAY_BIGQUERY_TABLE_PREFIX"},
			Value:   "events",
		},
	}

	app.Action = Relay

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

// Relay is the main function for the ingestion server
func Relay(cctx *cli.Context) error {
	ctx, cancel := context.WithCancel(cctx.Context)
	defer cancel()

	// Logging
	logLevel := slog.LevelInfo
	if cctx.Bool("debug") {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel, AddSource: true}))
	slog.SetDefault(slog.New(logger.Handler()))

	logger.Info("starting up")

	// Registers a tracer Provider globally if the exporter endpoint is set
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		logger.Info("registering global tracer provider")
		shutdown, err := tracing.InstallExportPipeline(ctx, "track-relay", 1)
		if err != nil {
			logger.Error("failed to install export pipeline", "error", err)
			return err
		}
		defer func() {
			if err := shutdown(ctx); err != nil {
				logger.Error("failed to shutdown export pipeline", "error", err)
			}
		}()
	}

	st, closeStore, err := openStore(ctx, cctx, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return err
	}
	defer closeStore()

	loc, err := time.LoadLocation(cctx.String("display-timezone"))
	if err != nil {
		logger.Error("failed to load display timezone", "error", err)
		return err
	}

	notifyConfig := notify.Config{
		BotToken:  cctx.String("telegram-bot-token"),
		ChatID:    cctx.String("telegram-chat-id"),
		APIBase:   cctx.String("telegram-api-base"),
		Timeout:   cctx.Duration("telegram-timeout"),
		RateLimit: cctx.Float64("telegram-rate-limit"),
	}
	if !notifyConfig.Configured() {
		logger.Warn("telegram bot token or chat id not set, notifications are disabled")
	}
	notifier := notify.New(logger, notifyConfig, nil)

	var archivers []relay.Archiver

	if dir := cctx.String("parquet-dir"); dir != "" {
		logger.Info("parquet dir set, archiving events to parquet", "dir", dir)
		p, err := parq.NewParq(logger, dir, "events", cctx.Int("parquet-batch-size"), cctx.Duration("parquet-max-wait"))
		if err != nil {
			logger.Error("failed to create parquet archive", "error", err)
			return err
		}
		p.StartWriter()
		defer p.Shutdown()
		archivers = append(archivers, p)
	}

	if cctx.String("bigquery-project-id") != "" {
		logger.Info("bigquery project id set, starting bigquery client")
		bqInstance, err := bq.NewBQ(
			ctx,
			cctx.String("bigquery-project-id"),
			cctx.String("bigquery-dataset"),
			cctx.String("bigquery-table-prefix"),
			logger,
		)
		if err != nil {
			logger.Error("failed to create bigquery client", "error", err)
			return err
		}
		defer func() {
			if err := bqInstance.Close(); err != nil {
				logger.Error("failed to close bigquery client", "error", err)
			}
		}()
		archivers = append(archivers, bqInstance)
	}

	r := relay.NewRelay(logger, st, notifier, event.NewFormatter(loc), archivers...)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))
	e.Use(middleware.BodyLimit("50M"))
	e.Use(slogecho.New(logger))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace: "track_relay",
		HistogramOptsFunc: func(opts prometheus.HistogramOpts) prometheus.HistogramOpts {
			opts.Buckets = prometheus.ExponentialBuckets(0.0001, 2, 18)
			return opts
		},
	}))
	e.Use(middleware.Recover())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	r.RegisterRoutes(e)

	publicDir := cctx.String("public-dir")
	e.File("/dashboard", filepath.Join(publicDir, "dashboard.html"))
	e.Static("/", publicDir)
	echopprof.Wrap(e)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cctx.Int("port")),
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Startup HTTP server
	serverErr := make(chan error, 1)
	go func() {
		logger := logger.With("source", "http_server")
		logger.Info("http server listening on port", "port", cctx.Int("port"))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("failed to start http server", "error", err)
			serverErr <- err
		}
	}()

	// Trap SIGINT to trigger a shutdown.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-signals:
		logger.Info("received signal, shutting down")
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	case err := <-serverErr:
		logger.Info("shutting down due to http server error")
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down http server", "error", err)
	}
	logger.Info("http server shut down")

	return nil
}

func openStore(ctx context.Context, cctx *cli.Context, logger *slog.Logger) (store.Store, func(), error) {
	switch backend := cctx.String("store"); backend {
	case "file":
		path := cctx.String("db-file")
		logger.Info("using file store", "path", path)
		return store.NewFileStore(logger, path), func() {}, nil
	case "sqlite":
		path := cctx.String("sqlite-path")
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
		logger.Info("using sqlite store", "path", path)
		s, err := store.NewSQLiteStore(logger, path, cctx.Bool("migrate-db"))
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Error("failed to close sqlite store", "error", err)
			}
		}, nil
	case "redis":
		logger.Info("using redis store", "addr", cctx.String("redis-addr"), "key", cctx.String("redis-key"))
		s, err := store.NewRedisStore(ctx, logger, cctx.String("redis-addr"), cctx.String("redis-password"), cctx.Int("redis-db"), cctx.String("redis-key"))
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Error("failed to close redis store", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
