package main

import (
	"context"
	"time"

	"github.com/firewatch/dashboard/internal/app"
	"github.com/firewatch/dashboard/internal/auth"
	"github.com/firewatch/dashboard/internal/collector"
	"github.com/firewatch/dashboard/internal/config"
	"github.com/firewatch/dashboard/internal/lock"
	"github.com/firewatch/dashboard/internal/logger"
	"github.com/firewatch/dashboard/internal/notification"
	"github.com/firewatch/dashboard/internal/notifier"
	"github.com/firewatch/dashboard/internal/processor"
	"github.com/firewatch/dashboard/internal/repository"
	"github.com/firewatch/dashboard/internal/service"
	"github.com/firewatch/dashboard/internal/storage"
	"github.com/firewatch/dashboard/internal/telemetry"
	"github.com/firewatch/dashboard/internal/websocket"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// initDatabase opens PostgreSQL and applies migrations when auto_migrate is set
func initDatabase(cfg config.PostgresConfig) (*gorm.DB, error) {
	postgresDB, err := storage.Open(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("PostgreSQL initialized")

	if cfg.AutoMigrate {
		if err := storage.Migrate(cfg); err != nil {
			logger.Warn().Err(err).Msg("Failed to run migrations automatically")
		}
	}

	return postgresDB, nil
}

// initRedis connects to Redis when the cross-replica lock is enabled
func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		logger.Info().Msg("Redis disabled, using in-process location locks")
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	logger.Info().Str("addr", cfg.Addr).Msg("Redis initialized")
	return client, nil
}

// initLocker picks the per-location lock
func initLocker(cfg config.RedisConfig, client *redis.Client) lock.Locker {
	if client == nil {
		return lock.NewKeyedMutex()
	}
	return lock.NewRedisLocker(client, time.Duration(cfg.LockTTL)*time.Second)
}

// initEventBus initializes the alert change feed
func initEventBus(ctx context.Context) *processor.EventBus {
	eventBus := processor.NewEventBus()
	eventBus.Start(ctx)
	logger.Info().Msg("Alert change feed started")
	return eventBus
}

// initAlertEngine builds the evaluator, the lifecycle manager and the worker pool
func initAlertEngine(
	ctx context.Context,
	rules config.AlertRulesConfig,
	alertRepo repository.AlertRepo,
	eventBus *processor.EventBus,
	locker lock.Locker,
) *processor.EvaluatorEngine {
	evaluator := processor.NewThresholdEvaluator(processor.ThresholdsFromConfig(rules))
	manager := processor.NewLifecycleManager(alertRepo, eventBus,
		processor.WithWindow(rules.Window()),
		processor.WithLocker(locker))

	alertEngine := processor.NewEvaluatorEngine(evaluator, manager, rules.Workers, rules.QueueSize)
	alertEngine.Start(ctx)
	logger.Info().
		Float64("gas_threshold", rules.GasThreshold).
		Float64("temperature_threshold", rules.TemperatureThreshold).
		Dur("window", rules.Window()).
		Msg("Alert evaluator engine started")
	return alertEngine
}

// initAlertService wires the service over the repositories and the engine
func initAlertService(
	cfg config.ThingSpeakConfig,
	alertRepo repository.AlertRepo,
	locationRepo repository.LocationRepo,
	alertEngine *processor.EvaluatorEngine,
) service.AlertService {
	client := telemetry.NewClient(cfg.BaseURL, time.Duration(cfg.Timeout)*time.Second)
	alertService := service.NewAlertService(alertRepo, locationRepo, client, alertEngine)
	logger.Info().Str("thingspeak", cfg.BaseURL).Msg("Alert service initialized")
	return alertService
}

// initWebSocketHub starts the hub; every connection gets its own
// notification session fed by the change feed
func initWebSocketHub(
	ctx context.Context,
	cfg config.ServerConfig,
	eventBus *processor.EventBus,
	alertRepo repository.AlertRepo,
	names notification.NameResolver,
) *websocket.Hub {
	wsHub := websocket.NewHub(cfg.AllowedOrigins, &websocket.NotificationSources{
		Feed:     eventBus,
		Snapshot: alertRepo,
		Names:    names,
	})
	eventBus.Subscribe(wsHub)
	go wsHub.Run(ctx)
	logger.Info().Msg("WebSocket hub started (alert stream + notifications)")
	return wsHub
}

// initEmailDispatcher subscribes the email dispatcher if configured
func initEmailDispatcher(cfg config.EmailConfig, eventBus *processor.EventBus, names notification.NameResolver) {
	if !cfg.Enabled {
		logger.Info().Msg("Email notifications disabled in configuration")
		return
	}

	if cfg.SMTPHost != "" && cfg.Username != "" {
		eventBus.Subscribe(notifier.NewEmailDispatcher(cfg, names))
		logger.Info().
			Str("smtp_host", cfg.SMTPHost).
			Strs("to", cfg.To).
			Msg("Email dispatcher enabled")
	} else {
		logger.Warn().Msg("Email configuration incomplete - notifications disabled")
	}
}

// initChangeListener forwards database notifications to the change feed
func initChangeListener(ctx context.Context, cfg config.PostgresConfig, eventBus *processor.EventBus) {
	if !cfg.ListenChanges {
		return
	}
	listener := storage.NewChangeListener(storage.PgxDialer(cfg.MigrationDatabaseURL()), eventBus)
	go listener.Run(ctx)
}

// initPoller starts background polling when an interval is configured
func initPoller(
	ctx context.Context,
	rules config.AlertRulesConfig,
	locationRepo repository.LocationRepo,
	alertService service.AlertService,
	alertEngine *processor.EvaluatorEngine,
) *collector.TelemetryPoller {
	if rules.PollEvery() <= 0 {
		logger.Info().Msg("Telemetry polling disabled, evaluations run on request")
		return nil
	}
	poller := collector.NewTelemetryPoller(locationRepo, alertService, alertEngine.GetWorkerPool(), rules.PollEvery())
	poller.Start(ctx)
	return poller
}

// initDependencies creates and validates the dependencies container
func initDependencies(
	postgresDB *gorm.DB,
	redisClient *redis.Client,
	alertService service.AlertService,
	eventBus *processor.EventBus,
	wsHub *websocket.Hub,
	cfg config.AuthConfig,
) (*app.Dependencies, error) {
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.Audience)
	if verifier == nil {
		logger.Warn().Msg("JWT secret not set, status updates will be rejected")
	}

	deps, err := app.NewDependencies(postgresDB, redisClient, alertService, eventBus, wsHub, verifier)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("Dependencies container initialized")
	return deps, nil
}

// closeDatabase closes the database connection
func closeDatabase(postgresDB *gorm.DB) {
	storage.Close(postgresDB)
	logger.Info().Msg("Database connection closed")
}
