package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fetchd/fetchd/internal/cleanup"
	"github.com/fetchd/fetchd/internal/config"
	"github.com/fetchd/fetchd/internal/downloader"
	"github.com/fetchd/fetchd/internal/fetch"
	"github.com/fetchd/fetchd/internal/fsx"
	"github.com/fetchd/fetchd/internal/http/rest"
	"github.com/fetchd/fetchd/internal/logctx"
	"github.com/fetchd/fetchd/internal/notifier"
	"github.com/fetchd/fetchd/internal/storage/sqlite"
	"github.com/fetchd/fetchd/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const serviceName = "fetchd"

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("fetchd starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.TelemetryEnabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	history := sqlite.NewHistoryRepository(database)

	// =========================================================================
	// Start Download Engine
	overwrite, err := cfg.Overwrite()
	if err != nil {
		return err
	}

	engine := downloader.New(ctx,
		fsx.NewOS(),
		fetch.NewInstrumentedFetcher(fetch.NewHTTPFetcher(), tel),
		downloader.Config{
			Dir:                 cfg.DownloadDir,
			MaxConcurrent:       cfg.MaxConcurrent,
			Overwrite:           overwrite,
			SpeedSampleInterval: cfg.SpeedSampleInterval,
			ResponseTimeout:     cfg.ResponseTimeout,
			DisableKeepAlives:   cfg.DisableKeepAlives,
		},
		downloader.WithTelemetry(tel),
		downloader.WithHistory(history),
	)

	logger.Info("waiting for downloads...",
		"download_dir", cfg.DownloadDir,
		"max_concurrent", cfg.MaxConcurrent,
		"retention", cfg.PartialRetention.String(),
	)

	group, ctx := errgroup.WithContext(ctx)

	// =========================================================================
	// Start Notification
	if cfg.WebhookURL != "" {
		group.Go(func() error {
			return notifyTerminalOutcomes(ctx, engine, &notifier.WebhookNotifier{WebhookURL: cfg.WebhookURL})
		})
	}

	// =========================================================================
	// Start Cleanup
	group.Go(func() error {
		return runCleanup(ctx, engine, cfg)
	})

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, engine, history, tel, cfg)

	group.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	return group.Wait()
}

// notifyTerminalOutcomes forwards complete and fail events to the notifier.
func notifyTerminalOutcomes(ctx context.Context, engine *downloader.Downloader, notif notifier.Notifier) error {
	logger := logctx.LoggerFromContext(ctx)

	sub := engine.Subscribe("", 64)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-sub.Events():
			switch event.Kind {
			case downloader.EventComplete:
				logger.Info("download finished", "download_id", event.Download.ID(), "path", event.Download.Path())

				if err := notif.Notify(event.Kind.String(), event.Download.Snapshot()); err != nil {
					logger.Error("failed to send notification", "download_id", event.Download.ID(), "err", err)
				}
			case downloader.EventFail:
				logger.Error("download failed", "download_id", event.Download.ID(), "err", event.Err)

				if err := notif.Notify(event.Kind.String(), event.Download.Snapshot()); err != nil {
					logger.Error("failed to send notification", "download_id", event.Download.ID(), "err", err)
				}
			}
		}
	}
}

// runCleanup periodically removes stale partial files the engine no longer
// tracks.
func runCleanup(ctx context.Context, engine *downloader.Downloader, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return ctx.Err()
		case <-ticker.C:
			if err := cleanup.DeleteStalePartials(ctx, cfg.DownloadDir, cfg.PartialRetention, engine.TrackedPartial); err != nil {
				logger.Error("failed to delete stale partials", "err", err)
			}
		}
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, engine *downloader.Downloader, history *sqlite.HistoryRepository, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	handler := rest.NewDownloadHandler(cfg.Web.Username, cfg.Web.Password, engine, history)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(tel.HTTPMetrics)
	r.Mount("/", handler.Routes())
	r.Handle("/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "api"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
