package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sjawhar/chunkscribe/internal/audio"
	"github.com/sjawhar/chunkscribe/internal/blob"
	"github.com/sjawhar/chunkscribe/internal/capture"
	"github.com/sjawhar/chunkscribe/internal/config"
	"github.com/sjawhar/chunkscribe/internal/jobapi"
	"github.com/sjawhar/chunkscribe/internal/jobs"
	"github.com/sjawhar/chunkscribe/internal/logging"
	"github.com/sjawhar/chunkscribe/internal/metrics"
	"github.com/sjawhar/chunkscribe/internal/recorder"
	"github.com/sjawhar/chunkscribe/internal/server"
	"github.com/sjawhar/chunkscribe/internal/storage"
)

func main() {
	configPath := flag.String("config", envOrDefault(config.EnvPrefix+"CONFIG", "config.yaml"), "path to YAML config file")
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chunkscribe: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chunkscribe: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	for _, w := range warnings {
		logger.Warn(w)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("chunkscribe stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	open, teardown, err := deviceOpener(cfg.CaptureBackend)
	if err != nil {
		return err
	}
	defer teardown()
	devices := audio.FallbackFactory(open, cfg.SampleRateCandidates(), logger)

	arena, err := blob.NewArena(cfg.BlobDir)
	if err != nil {
		return fmt.Errorf("blob arena: %w", err)
	}
	defer func() { _ = arena.Close() }()

	// Job history lives only as long as the process.
	history, err := storage.NewSQLiteStore(storage.MemoryDSN)
	if err != nil {
		return fmt.Errorf("history store: %w", err)
	}
	defer func() { _ = history.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := server.NewHub(logger)
	events := server.NewRecorderEvents(hub, m, logger)

	rec := recorder.New(func() recorder.Source {
		return capture.NewSource(devices, logger)
	}, arena, recorder.WithBroadcaster(events), recorder.WithLogger(logger))

	client := jobapi.NewClient(cfg.JobAPIURL, jobapi.WithTimeout(cfg.ParsedRequestTimeout()))
	orch := jobs.New(client,
		jobs.WithPollInterval(cfg.ParsedPollInterval()),
		jobs.WithLogger(logger),
		jobs.WithBroadcaster(hub),
		jobs.WithHistory(history),
		jobs.WithMetrics(m),
	)
	if cfg.AutoUpload {
		events.EnableAutoUpload(ctx, rec, orch)
	}

	handler, err := server.Handler(server.Deps{
		Hub:             hub,
		Recorder:        rec,
		Jobs:            orch,
		History:         history,
		Metrics:         metrics.Handler(reg),
		StaticFS:        cfg.StaticFS(),
		SegmentDuration: cfg.ParsedSegmentDuration(),
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("build http handler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, cfg.ListenAddr, handler, logger)
	})
	g.Go(func() error {
		if err := client.Health(gctx); err != nil {
			logger.Warn("job API unreachable; uploads will fail until it is up", zap.String("url", cfg.JobAPIURL), zap.Error(err))
		}
		return nil
	})

	logger.Info("chunkscribe ready",
		zap.String("ui", "http://"+cfg.ListenAddr),
		zap.String("job_api", cfg.JobAPIURL),
		zap.String("capture_backend", cfg.CaptureBackend),
		zap.Bool("auto_upload", cfg.AutoUpload),
	)
	serveErr := g.Wait()

	logger.Info("shutting down")
	closeErr := rec.Close()
	events.Wait()
	orch.Close()
	return errors.Join(serveErr, closeErr)
}

func deviceOpener(backend string) (audio.Opener, func(), error) {
	switch backend {
	case config.CaptureBackendDeepgram:
		audio.InitDeepgram()
		return audio.OpenDeepgram, audio.TeardownDeepgram, nil
	default:
		if err := audio.InitPortAudio(); err != nil {
			return nil, nil, fmt.Errorf("portaudio init: %w", err)
		}
		return audio.OpenPortAudio, func() { _ = audio.TerminatePortAudio() }, nil
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
