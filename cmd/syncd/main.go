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

	"splitsync/internal/api"
	"splitsync/internal/auth"
	"splitsync/internal/config"
	"splitsync/internal/connectivity"
	"splitsync/internal/database"
	"splitsync/internal/domain"
	"splitsync/internal/events"
	"splitsync/internal/logging"
	"splitsync/internal/metrics"
	"splitsync/internal/repository"
	"splitsync/internal/service"
	"splitsync/internal/transport/bulk"
	"splitsync/internal/worker"

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

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Backup.Enabled {
		go database.NewBackupService(db, cfg.Backup, logger).Start(ctx)
	}

	redisClient := initRedis(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	deadLetters := initDeadLetters(cfg, redisClient, logger)

	tokens := auth.NewSource(cfg.Auth)
	entities := api.NewClient(cfg.Server, cfg.Sync.RateLimit, tokens, logger)
	if redisClient != nil {
		entities.UseRedisCache(redisClient, cfg.Redis.CacheTTL)
	}

	bus := events.NewEventBus()
	subscribeNotifications(bus, logger)

	monitor := connectivity.NewMonitor()
	prober := connectivity.NewProber(monitor, cfg.Server.HealthURL, cfg.Sync.ProbeInterval, cfg.Server.HTTPTimeout, logger)
	go prober.Run(ctx)

	deps := worker.Deps{
		Queue:       db,
		Cache:       db,
		Entities:    entities,
		Monitor:     monitor,
		DeadLetters: deadLetters,
		Events:      bus,
	}
	if cfg.Server.BulkURL != "" {
		deps.Bulk = bulk.NewClient(cfg.Server.BulkURL, tokens, logger)
	} else {
		logger.Warn().Msg("bulk_url not configured, every drain uses per-item requests")
	}

	orchestrator := worker.NewOrchestrator(deps, worker.Config{
		Debounce:    cfg.Sync.Debounce,
		ReadTimeout: cfg.Sync.ReadTimeout,
		BulkTimeout: cfg.Sync.BulkTimeout,
		Retry:       worker.RetryPolicyFromConfig(cfg.Sync.Retry),
	}, logger)
	if err := orchestrator.Start(ctx); err != nil {
		return err
	}
	defer orchestrator.Stop()

	serviceDeps := service.Deps{
		Queue:    db,
		Cache:    db,
		Entities: entities,
		Monitor:  monitor,
		Events:   bus,
		Trigger:  orchestrator,
	}

	startMetrics(ctx, cfg, logger)

	httpServer := api.NewHTTPServer(cfg.Status, api.StatusDeps{
		Sync:        orchestrator,
		Queue:       db,
		Monitor:     monitor,
		DeadLetters: deadLetters,
		Expenses:    service.NewExpenseService(serviceDeps, logger),
		Groups:      service.NewGroupService(serviceDeps, logger),
		Profile:     service.NewProfileService(serviceDeps, cfg.Auth.UserID, logger),
	}, logger)

	return serve(ctx, httpServer, cfg, logger)
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
	logger := baseLogger.With().Str("component", "syncd").Logger()

	return cfg, &logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initDeadLetters prefers Redis so dropped mutations survive a restart, with
// an in-memory list taking over while Redis is down.
func initDeadLetters(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.DeadLetterRepository {
	memory := repository.NewMemoryDeadLetterRepository(int(cfg.Redis.DeadLetterMax))
	if redisClient == nil {
		return memory
	}
	primary := repository.NewRedisDeadLetterRepository(redisClient, cfg.Redis.DeadLetterMax)
	return repository.NewFailoverDeadLetterRepository(primary, memory, logger)
}

func subscribeNotifications(bus *events.EventBus, logger *zerolog.Logger) {
	l := logging.Component(logger, "notifications")
	for _, eventType := range []string{events.EventSyncFallback, events.EventItemDropped, events.EventItemRetry} {
		bus.Subscribe(eventType, func(e *events.Event) error {
			var n events.Notification
			if err := e.Decode(&n); err != nil {
				return err
			}
			l.Info().
				Str("event", e.Type).
				Str("level", string(n.Level)).
				Str("entity_type", n.EntityType).
				Str("entity_id", n.EntityID).
				Str("error", n.Error).
				Msg(n.Message)
			return nil
		})
	}
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

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if !cfg.Status.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("status API stopped")
		}
	}()

	logger.Info().Bool("status_api", cfg.Status.Enabled).Str("addr", cfg.Status.Address).Msg("sync daemon started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("sync daemon stopped")
	return nil
}
