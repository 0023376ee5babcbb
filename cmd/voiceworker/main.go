// voiceworker drains the voice message queue: it claims batches of inbound
// messages and runs each through audio storage, transcription, analysis,
// documentation and the completion callback. Multiple instances can run
// against the same database.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/carelane/voiceworker/pkg/config"
	"github.com/carelane/voiceworker/pkg/health"
	"github.com/carelane/voiceworker/pkg/pipeline"
	"github.com/carelane/voiceworker/pkg/services"
	"github.com/carelane/voiceworker/pkg/stages"
	"github.com/carelane/voiceworker/pkg/storage"
	"github.com/carelane/voiceworker/pkg/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		return 1
	}
	logger = logger.With("worker_id", cfg.WorkerID)
	logger.Info("starting voiceworker",
		"version", cfg.Version,
		"mode", cfg.Mode,
		"batch_size", cfg.BatchSize,
		"database_driver", cfg.DatabaseDriver())

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		return 1
	}
	if err := storage.ConfigurePool(db); err != nil {
		logger.Error("connection pool setup failed", "error", err)
		return 1
	}

	store := storage.New(db, storage.Config{
		WorkerID:      cfg.WorkerID,
		MaxAttempts:   cfg.MaxAttempts,
		LeaseDuration: cfg.LeaseTime,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		logger.Error("schema migration failed", "error", err)
		return 1
	}
	if err := store.Ping(ctx); err != nil {
		logger.Error("database ping failed", "error", err)
		return 1
	}

	blobs, err := services.NewBlobStore(services.BlobConfig{
		Endpoint:  cfg.BlobEndpoint,
		AccessKey: cfg.BlobAccessKey,
		SecretKey: cfg.BlobSecretKey,
		Bucket:    cfg.BlobBucket,
		UseSSL:    cfg.BlobUseSSL,
	}, logger)
	if err != nil {
		logger.Error("blob store setup failed", "error", err)
		return 1
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		logger.Error("blob bucket check failed", "error", err)
		return 1
	}

	media := services.NewMediaClient(cfg.MediaAccountSid, cfg.MediaAuthToken)
	ai := services.NewAIClient(cfg.OpenAIKey)
	docAPI := services.NewDocAPIClient(cfg.CallbackURL, cfg.CallbackKey, cfg.CallbackSecret)

	runner := pipeline.New(store, pipeline.Processors{
		AudioStore: stages.NewAudioStore(media, blobs, logger),
		Transcribe: stages.NewTranscribe(blobs, media, ai, logger),
		Analyze:    stages.NewAnalyze(ai, logger),
		CreateDoc:  stages.NewCreateDoc(store, logger),
		Notify:     stages.NewNotify(docAPI, cfg.WorkerID, logger),
	}, logger)

	window := worker.NewFailureWindow(cfg.FailureWindow, cfg.FailureThreshold)
	loop := worker.NewLoop(worker.Config{
		Store:        store,
		Processor:    runner,
		Window:       window,
		BatchSize:    cfg.BatchSize,
		PollInterval: cfg.PollInterval,
		Active:       cfg.Active(),
		Logger:       logger,
	})

	hostname, _ := os.Hostname()
	reporter := health.New(health.Config{
		Store:    store,
		WorkerID: cfg.WorkerID,
		Hostname: hostname,
		Version:  cfg.Version,
		Interval: cfg.HeartbeatInterval,
		Stats:    loop,
		Failures: window,
		Logger:   logger,
	})
	reporter.Start(ctx)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.ReclaimSchedule, func() {
		if n, err := store.ReclaimExpired(ctx, cfg.ReclaimGrace); err != nil {
			logger.Error("expired lease sweep failed", "error", err)
		} else if n > 0 {
			logger.Info("reclaimed expired leases", "count", n)
		}
	}); err != nil {
		logger.Error("invalid reclaim schedule", "schedule", cfg.ReclaimSchedule, "error", err)
		return 1
	}
	scheduler.Start()

	coord := worker.NewCoordinator(worker.CoordinatorConfig{
		Loop:          loop,
		Store:         store,
		Cancel:        cancel,
		StopHeartbeat: reporter.Stop,
		StopScheduler: func() { scheduler.Stop() },
		CloseDB: func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
		Logger: logger,
	})

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Info("signal received", "signal", sig.String())
		coord.Shutdown(context.Background())
	}()

	loop.Run(ctx)
	coord.Shutdown(context.Background())
	return 0
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	switch cfg.DatabaseDriver() {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DatabaseURL), gormCfg)
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.DatabaseURL), gormCfg)
	}
	return nil, fmt.Errorf("unsupported database url")
}
