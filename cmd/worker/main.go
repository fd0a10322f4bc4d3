// Command worker runs the enrichment job dispatcher: it claims queued and
// lease-expired jobs and drives the per-row prompt loop for each.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/ai-table-enricher/internal/adapter/ai"
	"github.com/fairyhunter13/ai-table-enricher/internal/adapter/blob/redisblob"
	"github.com/fairyhunter13/ai-table-enricher/internal/adapter/credentials"
	"github.com/fairyhunter13/ai-table-enricher/internal/adapter/observability"
	"github.com/fairyhunter13/ai-table-enricher/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/ai-table-enricher/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-table-enricher/internal/app"
	"github.com/fairyhunter13/ai-table-enricher/internal/config"
	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
	"github.com/fairyhunter13/ai-table-enricher/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema ensure failed", slog.Any("error", err))
		os.Exit(1)
	}

	blobs, err := redisblob.NewFromURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis connection failed", slog.Any("error", err))
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

	pacing, err := config.LoadProvidersConfig(cfg.ProvidersConfigPath)
	if err != nil {
		slog.Warn("providers config overlay failed, using defaults", slog.Any("error", err))
	}

	runner := worker.NewRunner(jobRepo, fileRepo, blobs, credStore, events,
		func(keys map[string]string) domain.ProviderClient { return ai.New(cfg, keys) },
		worker.Config{
			Lease:         cfg.LeaseDuration,
			PartialStride: cfg.PartialSaveInterval,
			DedupeEnabled: cfg.DedupeEnabled,
			DedupeSecret:  cfg.DedupeSecret,
			Pacing:        pacing,
		})
	dispatcher := worker.NewDispatcher(jobRepo, runner, cfg.PollInterval, cfg.LeaseDuration)

	go app.NewLeaseSweeper(jobRepo, time.Minute, cfg.LeaseDuration).Run(ctx)

	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("dispatcher exited", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker stopped")
}
