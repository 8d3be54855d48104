package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/firewatch/dashboard/internal/api"
	"github.com/firewatch/dashboard/internal/app"
	"github.com/firewatch/dashboard/internal/collector"
	"github.com/firewatch/dashboard/internal/config"
	"github.com/firewatch/dashboard/internal/logger"
	"github.com/firewatch/dashboard/internal/metrics"
	"github.com/firewatch/dashboard/internal/notification"
	"github.com/firewatch/dashboard/internal/processor"
	"github.com/firewatch/dashboard/internal/repository"
	"github.com/firewatch/dashboard/internal/service"
	"github.com/firewatch/dashboard/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Package-level variables for application components
var (
	cfg          *config.Config
	appCtx       context.Context
	appCancel    context.CancelFunc
	postgresDB   *gorm.DB
	redisClient  *redis.Client
	alertService service.AlertService
	eventBus     *processor.EventBus
	wsHub        *websocket.Hub
	alertEngine  *processor.EvaluatorEngine
	poller       *collector.TelemetryPoller
	deps         *app.Dependencies
)

func init() {
	// 1. Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger and metrics
	logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	metrics.Register()
	logger.Info().Msg("Starting Firewatch Dashboard...")

	// 3. Create application context for graceful shutdown
	appCtx, appCancel = context.WithCancel(context.Background())

	// 4. Initialize infrastructure
	postgresDB, err = initDatabase(cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize PostgreSQL")
	}
	redisClient, err = initRedis(cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize Redis")
	}

	alertRepo := repository.NewPostgresAlertRepo(postgresDB)
	locationRepo := repository.NewPostgresLocationRepo(postgresDB)
	names := notification.NewRepoNameResolver(locationRepo)

	// 5. Alert pipeline: telemetry → evaluator → lifecycle → change feed
	eventBus = initEventBus(appCtx)
	alertEngine = initAlertEngine(appCtx, cfg.AlertRules, alertRepo, eventBus, initLocker(cfg.Redis, redisClient))
	alertService = initAlertService(cfg.ThingSpeak, alertRepo, locationRepo, alertEngine)

	// 6. Change feed consumers
	wsHub = initWebSocketHub(appCtx, cfg.Server, eventBus, alertRepo, names)
	initEmailDispatcher(cfg.Email, eventBus, names)
	initChangeListener(appCtx, cfg.Postgres, eventBus)

	poller = initPoller(appCtx, cfg.AlertRules, locationRepo, alertService, alertEngine)

	// 7. Create dependencies container
	deps, err = initDependencies(postgresDB, redisClient, alertService, eventBus, wsHub, cfg.Auth)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create dependencies container")
	}
}

func main() {
	defer appCancel()

	srv := setupHTTPServer()
	startServer(srv)

	logger.Info().Msg("Firewatch Dashboard is running")

	waitForShutdown()
	shutdown(srv)
}

func setupHTTPServer() *http.Server {
	gin.SetMode(gin.ReleaseMode)
	appEngine := gin.New()
	appEngine.Use(gin.Recovery())

	api.RegisterRoutes(deps, appEngine)

	return &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        appEngine,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}

func startServer(srv *http.Server) {
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
}

func waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Shutting down server...")
}

func shutdown(srv *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Cancel application context to stop all goroutines
	appCancel()

	logger.Info().Msg("Stopping alert components...")
	if poller != nil {
		poller.Stop()
	}
	alertEngine.Stop()
	eventBus.Stop()
	logger.Info().Msg("All alert components stopped")

	if redisClient != nil {
		redisClient.Close()
	}
	closeDatabase(postgresDB)

	logger.Info().Msg("Server exited successfully")
}
