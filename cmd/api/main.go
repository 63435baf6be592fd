package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/asr"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/cache"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/config"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/database"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/dubbing"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/ledger"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/media"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/middleware"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/queue"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/storage"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/tracing"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/webhook"
)

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

	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer(cfg.Tracing.ServiceName,
			fmt.Sprintf("%s:%d", cfg.Tracing.AgentHost, cfg.Tracing.AgentPort))
		if err != nil {
			logger.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer closer.Close()
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.ErrorWithErr("Metrics server stopped", err)
			}
		}()
	}

	middleware.SetJWTSecret(cfg.Auth.JWTSecret)

	ctx := context.Background()

	// Initialize database
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	applied, err := db.Migrate(ctx)
	if err != nil {
		logger.Fatalf("Failed to apply migrations: %v", err)
	}
	for _, name := range applied {
		logger.Infof("Applied migration %s", name)
	}

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

	var locker pipeline.Locker = pipeline.NewLocalLocker()
	if cfg.Lock.Backend == "redis" {
		locker = cache.NewRedisLocker(redisCache, cfg.Lock.TTL)
	}

	var events pipeline.Fanout
	if cfg.Queue.Enabled {
		q, err := queue.New(cfg.Queue, cfg.Worker.PollInterval)
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

	costPerMinute, _ := cfg.Billing.CostPerMinuteDecimal()
	defaultAllowed, _ := cfg.Billing.DefaultAllowedDecimal()

	ffmpeg := media.NewFFmpeg(cfg.Media.FFmpegPath, cfg.Media.FFprobePath)
	ffmpeg.SetEncoding(cfg.Media.CRF, cfg.Media.Preset)

	svc := pipeline.NewService(pipeline.Deps{
		Repo:   repo,
		Store:  storage.WithURLCache(objects, redisCache, cfg.Storage.URLExpiry),
		Ledger: ledger.NewService(repo, costPerMinute, cfg.Billing.MaxReserveAttempts, cfg.Billing.ReserveTimeout),
		ASR:    asr.NewClient(cfg.ASR.BaseURL, cfg.ASR.APIKey, cfg.ASR.Model, cfg.ASR.Timeout),
		Dubber: dubbing.NewClient(cfg.Dubbing.BaseURL, cfg.Dubbing.APIKey, cfg.Dubbing.Timeout),
		Media:  ffmpeg,
		Events: events,
		Locker: locker,
		Logger: logger,
	}, pipeline.Settings{
		MaxUploadBytes:     cfg.Limits.MaxUploadBytes,
		MaxDurationMinutes: decimal.NewFromInt(int64(cfg.Limits.MaxDurationMinutes)),
		AllowedFormats:     cfg.Limits.AllowedFormats,
		TempDir:            cfg.Media.TempDir,
		StaleAfter:         cfg.Lock.TTL,
	})

	api := &API{
		videos:         svc,
		users:          repo,
		health:         db,
		logger:         logger,
		costPerMinute:  costPerMinute,
		defaultAllowed: defaultAllowed,
		tokenTTL:       cfg.Auth.TokenTTL,
		maxUploadBytes: cfg.Limits.MaxUploadBytes,
	}

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go limiter.Cleanup(cleanupCtx, time.Minute)

	gin.SetMode(gin.ReleaseMode)
	router := setupRouter(api, logger, limiter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Server forced to shutdown", err)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info("Server stopped")
}

func setupRouter(api *API, logger *logging.Logger, limiter *middleware.RateLimiter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(logger))

	router.GET("/health", api.healthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/register", api.register)
		v1.POST("/auth/token", api.issueToken)

		authed := v1.Group("")
		authed.Use(middleware.JWTAuth(), middleware.RateLimit(limiter))
		{
			authed.GET("/users/me", api.getUsage)
			authed.GET("/users/me/charges", api.listCharges)

			// Videos
			authed.POST("/videos", api.uploadVideo)
			authed.GET("/videos", api.listVideos)
			authed.GET("/videos/:id", api.getVideo)
			authed.DELETE("/videos/:id", api.deleteVideo)

			// Subtitles
			authed.POST("/videos/:id/subtitles", api.generateSubtitles)
			authed.GET("/videos/:id/subtitles", api.listSubtitles)
			authed.GET("/subtitles/:id/download", api.downloadSubtitle)

			// Dubbing
			authed.POST("/videos/:id/dubbing", api.requestDubbing)
			authed.GET("/videos/:id/dubbing/:dubbing_id", api.dubbingStatus)

			// Burn-in
			authed.POST("/videos/:id/burn", api.burnSubtitles)
			authed.POST("/videos/:id/rerender", api.rerender)
		}
	}

	return router
}
