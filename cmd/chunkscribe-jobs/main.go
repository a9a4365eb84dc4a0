package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sjawhar/chunkscribe/internal/config"
	"github.com/sjawhar/chunkscribe/internal/jobserver"
	"github.com/sjawhar/chunkscribe/internal/llm"
	"github.com/sjawhar/chunkscribe/internal/logging"
	"github.com/sjawhar/chunkscribe/internal/metrics"
	"github.com/sjawhar/chunkscribe/internal/objectstore"
	"github.com/sjawhar/chunkscribe/internal/server"
	"github.com/sjawhar/chunkscribe/internal/storage"
	"github.com/sjawhar/chunkscribe/internal/summary"
	"github.com/sjawhar/chunkscribe/internal/transcribe"
)

const purgeInterval = 5 * time.Minute

func main() {
	configPath := flag.String("config", envOrDefault(config.EnvPrefix+"CONFIG", "config.yaml"), "path to YAML config file")
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chunkscribe-jobs: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chunkscribe-jobs: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	for _, w := range warnings {
		logger.Warn(w)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("chunkscribe-jobs stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, purger, err := openResults(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = results.Close() }()

	objects, err := openObjects(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var transcriber transcribe.Transcriber
	if w, err := transcribe.NewWhisper(cfg.OpenAIAPIKey, transcribe.WithModel(cfg.STTModel), transcribe.WithLanguage(cfg.STTLanguage)); err != nil {
		logger.Warn("transcription disabled", zap.Error(err))
	} else {
		transcriber = w
	}

	var summarizer jobserver.Summarizer
	if client, err := llm.NewClientForModel(cfg.SummaryModel, cfg.APIKeys(), llm.WithTemperature(summary.DefaultTemperature)); err != nil {
		logger.Warn("summaries disabled", zap.Error(err))
	} else {
		summarizer = summary.New(client, cfg.SummaryPrompt, logger)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	proc := jobserver.NewProcessor(results, objects, transcriber, summarizer, logger, m)
	queue := jobserver.NewQueue(proc, logger,
		jobserver.WithWorkers(cfg.Workers),
		jobserver.WithQueueMetrics(m),
	)

	handler := jobserver.Handler(objects, results, queue,
		jobserver.WithLogger(logger),
		jobserver.WithAllowedOrigins(cfg.AllowedOrigins),
		jobserver.WithMetricsHandler(metrics.Handler(reg)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, cfg.JobsListenAddr, handler, logger)
	})
	if purger != nil {
		g.Go(func() error {
			purgeExpired(gctx, purger, logger)
			return nil
		})
	}

	logger.Info("job server ready",
		zap.String("addr", cfg.JobsListenAddr),
		zap.String("results_backend", cfg.ResultsBackend),
		zap.Bool("gcs", cfg.GCSBucket != ""),
		zap.Int("workers", cfg.Workers),
	)
	serveErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return errors.Join(serveErr, queue.Shutdown(shutdownCtx))
}

type expiringStore interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

func openResults(ctx context.Context, cfg config.Config) (storage.ResultStore, expiringStore, error) {
	ttl := cfg.ParsedResultsTTL()
	if cfg.ResultsBackend == config.ResultsBackendRedis {
		client, err := storage.DialRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, nil, fmt.Errorf("results store: %w", err)
		}
		return storage.NewRedisStore(client, ttl), nil, nil
	}

	store, err := storage.NewSQLiteStore(cfg.ResultsDBPath, storage.WithResultTTL(ttl))
	if err != nil {
		return nil, nil, fmt.Errorf("results store: %w", err)
	}
	return store, store, nil
}

func openObjects(ctx context.Context, cfg config.Config, logger *zap.Logger) (objectstore.Store, error) {
	if cfg.GCSBucket != "" {
		gcs, err := objectstore.NewGCS(ctx, cfg.GoogleCredentialsFile, cfg.GCSBucket)
		if err != nil {
			return nil, fmt.Errorf("gcs staging: %w", err)
		}
		return gcs, nil
	}
	logger.Info("staging uploads on local disk", zap.String("dir", cfg.UploadDir))
	local, err := objectstore.NewLocal(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("local staging: %w", err)
	}
	return local, nil
}

// purgeExpired drops unread results past their TTL. Redis expires keys
// itself.
func purgeExpired(ctx context.Context, store expiringStore, logger *zap.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("purge expired results", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("purged expired results", zap.Int64("count", n))
			}
		}
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
