package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"caphe/internal/config"
	"caphe/internal/database"
	"caphe/internal/domain"
	"caphe/internal/events"
	"caphe/internal/logging"
	"caphe/internal/models"
	"caphe/internal/notify"
	"caphe/internal/orders"
	"caphe/internal/payment"
	"caphe/internal/repository"
	"caphe/internal/service"
	"caphe/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Отдельный процесс опроса банковских переводов. Делит базу и redis с
// API-процессом; движок тот же, поэтому подтверждения из опроса идут по
// тем же правилам, что и ручные.
func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	stateRepo := initStateRepository(redisClient, logger)
	gateway := payment.NewGateway(cfg.Payment, logger)
	ordersClient := orders.NewClient(cfg.Orders, logger)

	notifier := initNotifier(cfg, logger)
	bus := events.NewEventBus()
	notify.SubscribeEvents(bus, notifier, logger)

	engine := service.NewEngine(db, gateway, ordersClient, stateRepo, bus, cfg.Booking, logger)

	pollWorker := worker.NewPollWorker(db, engine, redisClient, worker.RetryPolicy{
		MaxRetries:   cfg.Settlement.PollMaxAttempts,
		InitialDelay: cfg.Settlement.PollInitialDelay,
		MaxDelay:     cfg.Settlement.PollMaxDelay,
	}, logger)
	engine.SetPollEnqueuer(pollWorker)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Msg("Воркер опроса запущен")
	pollWorker.Start(ctx)
	logger.Info().Msg("Воркер опроса остановлен")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "poller-main").Logger()

	return cfg, &logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}
	return redisClient
}

func initStateRepository(redisClient *redis.Client, logger *zerolog.Logger) domain.StateRepository {
	ttl := time.Duration(models.DefaultPollStateTTL) * time.Second
	memory := repository.NewMemoryStateRepository(ttl)
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverStateRepository(
		repository.NewRedisStateRepository(redisClient, ttl),
		memory,
		logger,
	)
}

func initNotifier(cfg *config.Config, logger *zerolog.Logger) domain.Notifier {
	if !cfg.Notifications.Enabled {
		return notify.NewNopNotifier(logger)
	}

	notifier, err := notify.NewTelegramNotifier(cfg.Notifications, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without notifications")
		return notify.NewNopNotifier(logger)
	}
	return notifier
}
