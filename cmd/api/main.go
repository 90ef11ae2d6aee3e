package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coachbook/internal/api"
	"coachbook/internal/chat"
	"coachbook/internal/config"
	"coachbook/internal/database"
	"coachbook/internal/domain"
	"coachbook/internal/events"
	"coachbook/internal/gateway"
	"coachbook/internal/logging"
	"coachbook/internal/metrics"
	"coachbook/internal/pricing"
	"coachbook/internal/repository"
	"coachbook/internal/service"
	"coachbook/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

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

	db, err := initDatabase(cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	calc, err := pricing.NewCalculator(cfg.Pricing)
	if err != nil {
		return fmt.Errorf("init pricing: %w", err)
	}

	checkout, err := initGateway(cfg, &logger)
	if err != nil {
		return err
	}

	channelWorker, err := initChannelWorker(cfg, db, redisClient, &logger)
	if err != nil {
		return err
	}

	bus := initEventBus(&logger)

	deps := service.Dependencies{
		Store:    db,
		Identity: db,
		Pricing:  calc,
		Events:   bus,
		Limiter:  initAttemptLimiter(redisClient, &logger),
	}
	if checkout != nil {
		deps.Gateway = checkout
	}
	if channelWorker != nil {
		deps.Channels = channelWorker
	}
	svc := service.NewBookingService(deps, cfg.Booking, &logger)

	httpServer := api.NewHTTPServer(cfg.API, svc, db, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)

	go svc.Sweeper().Start(ctx)
	if channelWorker != nil {
		go channelWorker.Start(ctx)
	}
	snapshotLogger := logger.With().Str("component", "snapshot").Logger()
	go database.NewSnapshotService(db, cfg.Backup, &snapshotLogger).Start(ctx)

	return startServer(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func initDatabase(cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger, database.WithBusyTimeout(cfg.Database.BusyTimeout))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	catalogPath := cfg.CatalogPath
	if env := os.Getenv("CATALOG_PATH"); env != "" {
		catalogPath = env
	}
	if catalogPath == "" {
		return db, nil
	}

	catalog, err := config.LoadCatalog(catalogPath)
	if err != nil {
		db.Close()
		logger.Error().Err(err).Str("catalog_path", catalogPath).Msg("load catalog")
		return nil, err
	}
	if err := db.SeedCatalog(context.Background(), catalog.Providers, catalog.Offerings, catalog.Accounts); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed catalog: %w", err)
	}
	return db, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initAttemptLimiter prefers redis and falls back to process memory while it is down.
func initAttemptLimiter(redisClient *redis.Client, logger *zerolog.Logger) domain.AttemptLimiter {
	memory := repository.NewMemoryAttemptLimiter()
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverAttemptLimiter(repository.NewRedisAttemptLimiter(redisClient), memory, logger)
}

func initGateway(cfg *config.Config, logger *zerolog.Logger) (*gateway.StripeGateway, error) {
	if !cfg.Gateway.Enabled {
		logger.Warn().Msg("payment gateway disabled, gateway-mediated bookings will be rejected")
		return nil, nil
	}
	gw, err := gateway.NewStripeGateway(gateway.StripeConfig{
		SecretKey:  cfg.Gateway.SecretKey,
		Currency:   cfg.Pricing.Currency,
		SuccessURL: cfg.Gateway.SuccessURL,
		CancelURL:  cfg.Gateway.CancelURL,
		APIBase:    cfg.Gateway.APIBase,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init gateway: %w", err)
	}
	return gw, nil
}

func initChannelWorker(cfg *config.Config, db *database.DB, redisClient *redis.Client, logger *zerolog.Logger) (*worker.ChannelWorker, error) {
	if !cfg.Chat.Enabled {
		return nil, nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Chat.BotToken)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	bot.Debug = cfg.Chat.Debug
	logger.Info().Str("bot", bot.Self.UserName).Int64("chat_id", cfg.Chat.ChatID).Msg("telegram chat provisioning enabled")

	provisioner := chat.NewTelegramProvisioner(bot, cfg.Chat.ChatID, cfg.Chat.MemberLimit, logger)
	retry := worker.RetryPolicy{
		MaxRetries:    cfg.Worker.MaxRetries,
		InitialDelay:  cfg.Worker.InitialDelay,
		MaxDelay:      cfg.Worker.MaxDelay,
		BackoffFactor: cfg.Worker.BackoffMult,
		Jitter:        cfg.Worker.Jitter,
	}
	return worker.NewChannelWorker(db, provisioner, redisClient, retry, cfg.Worker.RedisQueue, cfg.Worker.QueueSize, logger), nil
}

func initEventBus(logger *zerolog.Logger) *events.EventBus {
	eventLogger := logger.With().Str("component", "events").Logger()
	bus := events.NewEventBus()
	bus.OnError(func(event *events.Event, err error) {
		eventLogger.Error().Err(err).Str("event_type", event.Type).Msg("event handler failed")
	})
	bus.Subscribe(events.AllEvents, func(event *events.Event) error {
		eventLogger.Debug().Str("event_type", event.Type).RawJSON("payload", event.Payload).Msg("event published")
		return nil
	})
	return bus
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServer(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
