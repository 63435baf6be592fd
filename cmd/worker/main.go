package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/cache"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/config"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/database"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/dubbing"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/queue"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/storage"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/webhook"
)

const sweepBatchSize = 100

func main() {
	_ = godotenv.Load()

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateWorker(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid worker config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.WithField("component", "dubbing-poller")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)

	// Initialize storage
	objects, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	redisCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatalf("Failed to connect to redis: %v", err)
	}
	defer redisCache.Close()

	var q *queue.Queue
	var events pipeline.Fanout
	if cfg.Queue.Enabled {
		q, err = queue.New(cfg.Queue, cfg.Worker.PollInterval)
		if err != nil {
			logger.Fatalf("Failed to connect to queue: %v", err)
		}
		defer q.Close()
		events = append(events, q)
	}
	if notifier := webhook.FromConfig(cfg.Webhooks, logger); notifier != nil {
		defer notifier.Close()
		events = append(events, notifier)
	}

	svc := pipeline.NewService(pipeline.Deps{
		Repo:   repo,
		Store:  storage.WithURLCache(objects, redisCache, cfg.Storage.URLExpiry),
		Dubber: dubbing.NewClient(cfg.Dubbing.BaseURL, cfg.Dubbing.APIKey, cfg.Dubbing.Timeout),
		Events: events,
		Locker: cache.NewRedisLocker(redisCache, cfg.Lock.TTL),
		Logger: logger,
	}, pipeline.Settings{TempDir: cfg.Media.TempDir})

	poller := NewPoller(svc, logger, cfg.Worker.MaxPollDuration)

	var backlog monitoring.QueueProvider
	if q != nil {
		backlog = q
	}
	monitoring.NewMonitor(repo, backlog, logger).Start(ctx, time.Minute)

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.ErrorWithErr("Metrics server stopped", err)
			}
		}()
		defer metricsServer.Shutdown(context.Background())
	}

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully...")
		cancel()
	}()

	if q != nil {
		logger.Info("Worker started, waiting for dubbing polls...")
		if err := q.ConsumePolls(ctx, cfg.Worker.Concurrency, poller.HandleEvent); err != nil {
			logger.Fatalf("Failed to consume polls: %v", err)
		}
		<-ctx.Done()
	} else {
		logger.Infof("Queue disabled, sweeping pending dubbing jobs every %s", cfg.Worker.PollInterval)
		runSweeps(ctx, poller, repo, cfg.Worker.PollInterval, logger)
	}

	logger.Info("Worker stopped")
}

func runSweeps(ctx context.Context, poller *Poller, lister PendingLister, interval time.Duration, logger *logging.Logger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			polled, err := poller.Sweep(ctx, lister, sweepBatchSize)
			if err != nil {
				logger.ErrorWithErr("Failed to list pending dubbing jobs", err)
				continue
			}
			if polled > 0 {
				logger.Debugf("Polled %d dubbing jobs", polled)
			}
		}
	}
}
