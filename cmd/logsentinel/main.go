// Package main is the entry point for the LogSentinel log monitoring service.
// It wires storage, the streaming pipeline and the HTTP API, then runs until
// a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"logsentinel/internal/alerting"
	"logsentinel/internal/api"
	"logsentinel/internal/banner"
	"logsentinel/internal/config"
	"logsentinel/internal/dimension"
	"logsentinel/internal/enrich"
	"logsentinel/internal/ingest"
	"logsentinel/internal/notification"
	"logsentinel/internal/pipeline"
	"logsentinel/internal/queue"
	kafkaqueue "logsentinel/internal/queue/kafka"
	memoryqueue "logsentinel/internal/queue/memory"
	"logsentinel/internal/retry"
	"logsentinel/internal/sink"
	"logsentinel/internal/store"
	badgerstor "logsentinel/internal/store/badger"
	memorystor "logsentinel/internal/store/memory"
	postgresstor "logsentinel/internal/store/postgres"
	redisstor "logsentinel/internal/store/redis"
	"logsentinel/internal/validator"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	quiet := flag.Bool("quiet", false, "do not print the startup banner")
	flag.Parse()

	if !*quiet {
		banner.Print()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err, "path", *configPath)
		os.Exit(1)
	}

	logger := initLogger(&cfg.Logger)
	logger.Info("configuration loaded",
		"path", *configPath,
		"storage_mode", cfg.Storage.Mode,
		"checkpoint_backend", cfg.Pipeline.CheckpointBackend,
		"rules", len(cfg.Rules),
	)

	// Create context that listens for shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	deps, cleanup, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	pipelineDone := make(chan error, 1)
	go func() {
		pipelineDone <- deps.pipeline.Start(ctx)
	}()

	go func() {
		if err := deps.server.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	logger.Info("LogSentinel started",
		"version", banner.Version,
		"address", cfg.Server.Address(),
		"storage_mode", cfg.Storage.Mode,
	)

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		if err := <-pipelineDone; err != nil {
			logger.Error("pipeline stopped with error", "error", err)
			exitCode = 1
		}
	case err := <-pipelineDone:
		if errors.Is(err, pipeline.ErrPaused) {
			// Keep serving so operators can inspect /v1/status and the stores.
			logger.Error("pipeline paused, waiting for shutdown signal", "error", err)
			<-ctx.Done()
		} else if err != nil {
			logger.Error("pipeline stopped with error", "error", err)
		}
		exitCode = 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := deps.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("LogSentinel stopped")
	if exitCode != 0 {
		cleanup()
		os.Exit(exitCode)
	}
}

// dependencies holds all initialized service dependencies.
type dependencies struct {
	server   *api.Server
	pipeline *pipeline.Pipeline
}

// initDependencies creates and wires all service dependencies based on config.
// Returns the dependencies and an idempotent cleanup function.
func initDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*dependencies, func(), error) {
	var (
		dimensionRepo  store.DimensionRepository
		alertRepo      store.AlertRepository
		quarantineRepo store.QuarantineRepository
		windowRepo     store.WindowMetricsRepository
		checkpoints    store.CheckpointStore
		producer       queue.Producer
		consumer       queue.Consumer
		cleanupFuncs   []func()
	)

	cleanedUp := false
	cleanup := func() {
		if cleanedUp {
			return
		}
		cleanedUp = true
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			cleanupFuncs[i]()
		}
	}
	fail := func(err error) (*dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	if cfg.Storage.UseMemory() {
		logger.Info("initializing in-memory storage")

		dimensionRepo = memorystor.NewDimensionRepository()
		alertRepo = memorystor.NewAlertRepository()
		quarantineRepo = memorystor.NewQuarantineRepository()
		windowRepo = memorystor.NewWindowMetricsRepository()

		memQueue := memoryqueue.NewQueue(cfg.Pipeline.MemoryQueueSize)
		producer = memQueue
		consumer = memQueue
		cleanupFuncs = append(cleanupFuncs, func() { _ = memQueue.Close() })
	} else {
		logger.Info("initializing production storage (Kafka, PostgreSQL)")

		db, err := postgresstor.NewDB(ctx, &cfg.Postgres)
		if err != nil {
			return fail(err)
		}
		cleanupFuncs = append(cleanupFuncs, db.Close)

		if err := db.RunMigrations(ctx); err != nil {
			return fail(err)
		}
		logger.Info("database migrations completed")

		dimensionRepo = postgresstor.NewDimensionRepository(db)
		alertRepo = postgresstor.NewAlertRepository(db)
		quarantineRepo = postgresstor.NewQuarantineRepository(db)
		windowRepo = postgresstor.NewWindowMetricsRepository(db)

		kafkaProducer := kafkaqueue.NewProducer(&cfg.Kafka)
		producer = kafkaProducer
		cleanupFuncs = append(cleanupFuncs, func() { _ = kafkaProducer.Close() })

		kafkaConsumer := kafkaqueue.NewConsumer(&cfg.Kafka, logger)
		consumer = kafkaConsumer
		cleanupFuncs = append(cleanupFuncs, func() { _ = kafkaConsumer.Close() })
	}

	checkpoints, err := openCheckpointStore(&cfg.Pipeline, &cfg.Redis, logger)
	if err != nil {
		return fail(err)
	}
	cleanupFuncs = append(cleanupFuncs, func() { _ = checkpoints.Close() })

	// Dimensions are served from memory and rebuilt from the repository.
	dimensions := dimension.NewStore(dimensionRepo, logger)
	if err := dimensions.Load(ctx); err != nil {
		return fail(fmt.Errorf("failed to load dimensions: %w", err))
	}

	sinkPolicy := retry.DefaultPolicy()

	var validLog sink.ValidLogSink = sink.NewMemoryValidLog(10000)
	if cfg.S3.Enabled() {
		putter, err := sink.NewS3Putter(ctx, &cfg.S3, cfg.Pipeline.SinkTimeout)
		if err != nil {
			return fail(err)
		}
		archivePolicy := sinkPolicy
		archivePolicy.MaxAttempts = uint(cfg.S3.MaxRetries)
		archive := sink.NewArchive(putter, sink.ArchiveConfig{
			Prefix:        cfg.S3.Prefix,
			InstanceID:    instanceID(),
			BatchSize:     cfg.S3.BatchSize,
			FlushInterval: cfg.S3.FlushInterval,
			QueueSize:     cfg.S3.QueueSize,
			Retry:         archivePolicy,
		}, logger)
		// Registered after the pipeline's dependencies so it flushes first.
		cleanupFuncs = append(cleanupFuncs, func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownTimeout)
			defer closeCancel()
			if err := archive.Close(closeCtx); err != nil {
				logger.Error("archive close error", "error", err)
			}
		})
		validLog = archive
		logger.Info("valid log archive enabled", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix)
	}

	notifiers := []notification.Notifier{notification.NewStubNotifier(logger)}
	if cfg.Notification.WebhookURL != "" {
		notifyPolicy := sinkPolicy
		notifyPolicy.MaxAttempts = uint(cfg.Notification.MaxRetries)
		notifiers = []notification.Notifier{
			notification.NewWebhookNotifier(cfg.Notification.WebhookURL, cfg.Notification.Timeout, notifyPolicy, logger),
		}
	}

	p, err := pipeline.New(cfg.Pipeline, pipeline.Components{
		Consumer:    consumer,
		Validator:   validator.New(),
		Enricher:    enrich.New(dimensions, cfg.Pipeline.DimensionLookupTimeout, logger),
		Evaluator:   alerting.NewEvaluator(alerting.RulesFromConfig(cfg.Rules)),
		Checkpoints: checkpoints,
		Quarantine:  sink.NewQuarantine(quarantineRepo, sinkPolicy, logger),
		ValidLog:    validLog,
		Windows:     sink.NewWindows(windowRepo, sinkPolicy, logger),
		Alerts:      sink.NewAlerts(alertRepo, notifiers, sinkPolicy, logger),
	}, logger)
	if err != nil {
		return fail(err)
	}

	ingestService := ingest.NewService(producer, logger)

	server := api.NewServer(api.ServerDeps{
		Config:            &cfg.Server,
		Logger:            logger,
		IngestHandler:     api.NewIngestHandler(ingestService, logger),
		DimensionHandler:  api.NewDimensionHandler(dimensions, logger),
		AlertHandler:      api.NewAlertHandler(alertRepo, logger),
		QuarantineHandler: api.NewQuarantineHandler(quarantineRepo, logger),
		WindowHandler:     api.NewWindowHandler(windowRepo, logger),
		StatusHandler:     api.NewStatusHandler(p),
	})

	return &dependencies{
		server:   server,
		pipeline: p,
	}, cleanup, nil
}

// openCheckpointStore selects the checkpoint backend.
func openCheckpointStore(p *config.PipelineConfig, r *config.RedisConfig, logger *slog.Logger) (store.CheckpointStore, error) {
	switch p.CheckpointBackend {
	case config.CheckpointBackendRedis:
		cs, err := redisstor.NewCheckpointStore(r)
		if err != nil {
			return nil, err
		}
		logger.Info("checkpoint store ready", "backend", "redis", "key", r.CheckpointKey)
		return cs, nil
	case config.CheckpointBackendBadger:
		cs, err := badgerstor.Open(badgerstor.Config{
			Path:       p.BadgerPath,
			SyncWrites: true,
			GCInterval: 10 * time.Minute,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("checkpoint store ready", "backend", "badger", "path", p.BadgerPath)
		return cs, nil
	default:
		logger.Info("checkpoint store ready", "backend", "memory")
		return memorystor.NewCheckpointStore(), nil
	}
}

// instanceID names this process in archive object keys.
func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()[:8]
}

// initLogger creates and configures the application logger.
func initLogger(cfg *config.LoggerConfig) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
