package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/antiprophet/studio/internal/backend"
	"github.com/antiprophet/studio/internal/blobstore"
	"github.com/antiprophet/studio/internal/cache"
	"github.com/antiprophet/studio/internal/config"
	"github.com/antiprophet/studio/internal/events"
	"github.com/antiprophet/studio/internal/logging"
	"github.com/antiprophet/studio/internal/metrics"
	"github.com/antiprophet/studio/internal/middleware"
	"github.com/antiprophet/studio/internal/playback"
	"github.com/antiprophet/studio/internal/queue"
	"github.com/antiprophet/studio/internal/session"
	"github.com/antiprophet/studio/internal/studio"
	"github.com/antiprophet/studio/internal/tracing"
	"github.com/antiprophet/studio/internal/videos"
	"github.com/antiprophet/studio/internal/webhook"
)

const (
	snapshotTTL     = 24 * time.Hour
	webhookRetryGap = time.Minute
	limiterIdle     = 10 * time.Minute
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configPath = ""
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	tracer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer tracer.Close()

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.ErrorWithErr("Metrics server stopped", err)
			}
		}()
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store, err := blobstore.New(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize blob store: %v", err)
	}

	var rc *cache.Cache
	if cfg.Redis.Enabled {
		rc, err = cache.New(cfg.Redis)
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rc.Close()
	}

	notifier := events.NewMulti(events.Sink{Name: "log", Notifier: events.NewLogNotifier(logger)})

	if cfg.Queue.Enabled {
		pub, err := queue.New(cfg.Queue, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to queue: %v", err)
		}
		defer pub.Close()
		notifier.Add("queue", pub)
	}

	var hooks *webhook.Service
	if len(cfg.Webhook.Endpoints) > 0 {
		hooks = webhook.NewService(cfg.Webhook, webhook.NewMemoryRepository(), logger)
		notifier.Add("webhook", hooks)
		go hooks.RetryWorker(ctx, webhookRetryGap)
	}

	prober, err := playback.NewProber(cfg.Playback)
	if err != nil {
		logger.Fatalf("Failed to configure CORS probe: %v", err)
	}

	manager := studio.NewManager(newManagerOptions(cfg, store, prober, rc, notifier, logger))
	if cfg.Server.SessionIdle > 0 {
		go manager.Cleanup(ctx, time.Minute, cfg.Server.SessionIdle)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go limiter.Cleanup(ctx, time.Minute, limiterIdle)

	api := &API{
		manager: manager,
		cache:   rc,
		log:     logger.WithComponent("api"),
	}
	if mem, ok := store.(*blobstore.Memory); ok {
		api.blobs = mem
	}

	router := setupRouter(api, authOptions(cfg, rc), limiter, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("Starting studio server on %s", addr)
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

	manager.Close()
	stop()
	if hooks != nil {
		hooks.Wait()
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.WarnWithErr("Failed to stop metrics server", err)
		}
	}

	logger.Info("Server stopped")
}

func newManagerOptions(cfg *config.Config, store blobstore.Store, prober *playback.Prober, rc *cache.Cache, notifier events.Notifier, logger *logging.Logger) studio.Options {
	var snapshots videos.SnapshotStore
	if rc != nil {
		snapshots = rc
	}
	return studio.Options{
		Poller:      cfg.Poller,
		Backend:     backend.New(cfg.Backend, logger),
		Store:       store,
		Prober:      prober,
		FetchClient: &http.Client{Timeout: cfg.Playback.FetchTimeout},
		Notifier:    notifier,
		Snapshots:   snapshots,
		SnapshotTTL: snapshotTTL,
		Logger:      logger,
	}
}

func authOptions(cfg *config.Config, rc *cache.Cache) middleware.AuthOptions {
	opts := middleware.AuthOptions{JWTSecret: cfg.Auth.JWTSecret}
	if rc != nil {
		opts.Sessions = func(scope string) session.Provider { return rc.Scoped(scope) }
	}
	return opts
}

func setupRouter(api *API, auth middleware.AuthOptions, limiter *middleware.RateLimiter, logger *logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(logger))

	// Health check
	router.GET("/health", api.healthCheck)
	router.GET(blobstore.PathPrefix+":id", api.serveBlob)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.SessionAuth(auth), middleware.RateLimit(limiter))
	{
		// Session
		v1.POST("/session", api.openSession)
		v1.DELETE("/session", api.closeSession)

		// Jobs
		v1.GET("/jobs", api.listJobs)
		v1.POST("/jobs", api.observeJobs)
		v1.POST("/jobs/:id/poll", api.pollJob)
		v1.DELETE("/jobs/:id", api.dismissJob)

		// Videos
		v1.POST("/videos/generate", api.generateVideo)
		v1.GET("/videos", api.listVideos)
		v1.POST("/videos/refresh", api.refreshVideos)
		v1.DELETE("/videos/:id", api.deleteVideo)

		// Playback
		v1.GET("/videos/:id/playback", api.getPlayback)
		v1.POST("/videos/:id/playback/events", api.playbackEvent)
		v1.PUT("/videos/:id/playback", api.selectPlayback)
		v1.DELETE("/videos/:id/playback", api.closePlayback)
	}

	return router
}
