// Command server starts the table-enricher control-plane HTTP server.
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

	"github.com/fairyhunter13/ai-table-enricher/internal/adapter/blob/redisblob"
	"github.com/fairyhunter13/ai-table-enricher/internal/adapter/credentials"
	httpserver "github.com/fairyhunter13/ai-table-enricher/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-table-enricher/internal/adapter/observability"
	"github.com/fairyhunter13/ai-table-enricher/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/ai-table-enricher/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-table-enricher/internal/app"
	"github.com/fairyhunter13/ai-table-enricher/internal/config"
	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
	"github.com/fairyhunter13/ai-table-enricher/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema ensure failed", slog.Any("error", err))
		os.Exit(1)
	}

	blobs, err := redisblob.NewFromURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	jobRepo := postgres.NewJobRepo(pool)
	fileRepo := postgres.NewFileRepo(pool)
	credStore, err := credentials.New(pool, cfg.CredentialsSecret)
	if err != nil {
		slog.Error("credentials store init failed", slog.Any("error", err))
		os.Exit(1)
	}

	var events domain.EventPublisher
	if cfg.KafkaEventsEnabled {
		producer, err := redpanda.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			slog.Error("redpanda producer connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = producer.Close() }()
		events = producer
	}

	submitSvc := usecase.NewSubmitService(jobRepo, fileRepo, blobs, events)
	controlSvc := usecase.NewControlService(jobRepo, events)
	statusSvc := usecase.NewStatusService(jobRepo)
	downloadSvc := usecase.NewDownloadService(jobRepo, blobs)
	optionsSvc := usecase.NewOptionsService(jobRepo, blobs)
	keysSvc := usecase.NewKeysService(credStore)

	dbCheck := func(ctx context.Context) error { return pool.Ping(ctx) }
	redisCheck := func(ctx context.Context) error { return blobs.Ping(ctx) }

	srv := httpserver.NewServer(cfg, submitSvc, controlSvc, statusSvc, downloadSvc, optionsSvc, keysSvc, dbCheck, redisCheck)
	handler := app.BuildRouter(cfg, srv)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go app.NewLeaseSweeper(jobRepo, time.Minute, cfg.LeaseDuration).Run(sweepCtx)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
