package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relaycast/internal/core/ports"
	"relaycast/internal/core/services"
	httphandlers "relaycast/internal/handlers/http"
	"relaycast/internal/infrastructure/middleware"
	"relaycast/internal/infrastructure/monitoring"
	"relaycast/internal/infrastructure/realtime"
	repositories "relaycast/internal/infrastructure/repositories"
	"relaycast/internal/infrastructure/storage"
	"relaycast/internal/infrastructure/transmitter"
	"relaycast/pkg/config"
	"relaycast/pkg/logger"
	"relaycast/pkg/retry"
	"relaycast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/relaycast/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}
	defer tracerProvider.Shutdown(context.Background())

	// Initialize registry backend
	repoFactory, err := repositories.NewRegistryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create registry factory", "error", err)
	}
	defer repoFactory.Close()

	registry := repoFactory.CreateRegistry()

	// Initialize file store
	httpClient := &http.Client{Timeout: cfg.Storage.RequestTimeout}
	fileStore, err := storage.NewLocalStore(cfg.Storage.DownloadDir, httpClient, log)
	if err != nil {
		log.Fatalw("failed to create file store", "error", err)
	}

	// Initialize monitoring
	var metrics ports.Metrics = monitoring.NoopMetrics{}
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector()
	}

	// Initialize realtime hub before the command service; the service
	// broadcasts through it.
	hub := realtime.NewHub(metrics, realtime.Options{
		SnapshotInterval: cfg.Realtime.SnapshotInterval,
		PingInterval:     cfg.Realtime.PingInterval,
		WriteTimeout:     cfg.Realtime.WriteTimeout,
		PongTimeout:      cfg.Realtime.PongTimeout,
	}, log)

	// Initialize transmitter
	ffmpeg := transmitter.NewFFmpegTransmitter(
		cfg.Transmitter.FFmpegPath,
		cfg.Transmitter.IngestURL,
		fileStore,
		log,
	)

	// Initialize services
	commandService := services.NewCommandService(
		registry,
		fileStore,
		ffmpeg,
		hub,
		metrics,
		cfg.Transmitter.StopTimeout,
		log,
	)
	ffmpeg.SetExitHandler(commandService.HandleTransmitterExit)
	hub.BindSource(commandService)

	downloadService := services.NewDownloadService(fileStore, hub, commandService, retry.DefaultConfig(), log)
	statsService := services.NewStatsService(registry, fileStore, cfg.Storage.DownloadDir, log)

	scheduler := services.NewScheduler(commandService, cfg.Scheduler.SweepInterval, cfg.Scheduler.MaxPromoteAttempts, log)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	go scheduler.Start(rootCtx)
	go hub.Run(rootCtx)

	// Initialize HTTP handlers
	streamHandler := httphandlers.NewStreamHandler(commandService, statsService)
	fileHandler := httphandlers.NewFileHandler(downloadService)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	streamHandler.SetupRoutes(router)
	fileHandler.SetupRoutes(router)

	// Realtime push channel
	router.GET("/ws", func(c *gin.Context) {
		hub.HandleWebSocket(c.Writer, c.Request)
	})

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	// Readiness endpoint
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := repoFactory.HealthCheck(ctx); err != nil {
			c.JSON(503, gin.H{
				"status":       "not_ready",
				"timestamp":    time.Now(),
				"dependencies": "unhealthy",
				"error":        err.Error(),
			})
			return
		}

		c.JSON(200, gin.H{
			"status":       "ready",
			"timestamp":    time.Now(),
			"dependencies": "ok",
		})
	})

	// Prometheus metrics endpoint
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting RelayCast server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down RelayCast server...")

	scheduler.Stop()
	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	// Stop running transmissions before exit so ffmpeg processes are not
	// orphaned.
	if streams, err := commandService.ListStreams(shutdownCtx); err == nil {
		for _, stream := range streams {
			if stream.Active {
				if err := ffmpeg.Stop(shutdownCtx, stream.ID); err != nil {
					log.Warnw("failed to stop transmission during shutdown", "stream_id", stream.ID, "error", err)
				}
			}
		}
	}

	log.Info("Shutdown complete")
}
