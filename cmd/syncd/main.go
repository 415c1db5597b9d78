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
	"strings"
	"syscall"
	"time"

	"bookingsync/internal/adapters"
	"bookingsync/internal/adapters/providers"
	"bookingsync/internal/api"
	"bookingsync/internal/config"
	"bookingsync/internal/credentials"
	"bookingsync/internal/database"
	"bookingsync/internal/domain"
	"bookingsync/internal/events"
	"bookingsync/internal/logging"
	"bookingsync/internal/metrics"
	"bookingsync/internal/models"
	"bookingsync/internal/repository"
	"bookingsync/internal/service"
	"bookingsync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const usage = "usage: syncd [serve | once <outbound|inbound|fullsync>]"

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run(args []string) error {
	mode, target, err := parseArgs(args)
	if err != nil {
		return err
	}

	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.Open(cfg.Database, &logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}
	state := initSyncState(redisClient, &logger)

	factory, err := initFactory(cfg, &logger)
	if err != nil {
		return err
	}
	vault, err := credentials.NewVaultFromBase64(cfg.Credentials.Key)
	if err != nil {
		return fmt.Errorf("init credentials: %w", err)
	}

	bus := events.NewEventBus()
	subscribeNotifications(bus, &logger)

	deps := worker.Deps{
		DB:          db,
		Factory:     factory,
		Credentials: vault,
		State:       state,
		Events:      bus,
		Settings:    worker.SettingsFromConfig(cfg.Sync),
		Logger:      &logger,
	}
	runners := map[string]api.Runner{
		"outbound": worker.NewOutboundProcessor(deps),
		"inbound":  worker.NewInboundProcessor(deps),
		"fullsync": worker.NewFullSync(deps),
	}

	if mode == "once" {
		return runOnce(ctx, runners[target], target, &logger)
	}

	handlers := api.Handlers{
		DB:       db,
		Outbound: runners["outbound"],
		Inbound:  runners["inbound"],
		FullSync: runners["fullsync"],
		Calendar: service.NewCalendarService(db, logging.Component(&logger, "calendar")),
		Webhooks: service.NewWebhookService(db, factory, vault, logging.Component(&logger, "webhooks")),
		State:    state,
	}
	return serve(ctx, cfg, db, handlers, runners, &logger)
}

func parseArgs(args []string) (mode, target string, err error) {
	if len(args) == 0 || args[0] == "serve" {
		return "serve", "", nil
	}
	if args[0] == "once" && len(args) == 2 {
		switch args[1] {
		case "outbound", "inbound", "fullsync":
			return "once", args[1], nil
		}
	}
	return "", "", errors.New(usage)
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
	return cfg, *baseLogger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		// the failover repository keeps retrying, so the client is kept
		logger.Warn().Err(err).Msg("redis connection failed, starting on in-memory sync state")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}
	return client
}

func initSyncState(client *redis.Client, logger *zerolog.Logger) domain.SyncStateRepository {
	memory := repository.NewMemorySyncStateRepository()
	if client == nil {
		logger.Warn().Msg("redis is not configured, event locks are process-local")
		return memory
	}
	return repository.NewFailoverSyncStateRepository(
		repository.NewRedisSyncStateRepository(client),
		memory,
		logging.Component(logger, "sync-state"),
	)
}

func initFactory(cfg *config.Config, logger *zerolog.Logger) (*adapters.Factory, error) {
	anchor, err := models.NewAnchorZone(cfg.Sync.AnchorTimezone)
	if err != nil {
		return nil, err
	}
	return providers.NewFactory(adapters.Options{
		Timeout: cfg.Sync.HTTPTimeout,
		RPS:     cfg.Sync.ProviderRPS,
		Burst:   cfg.Sync.ProviderBurst,
		Anchor:  anchor,
		BaseURLs: map[string]string{
			models.ProviderBookeo:     cfg.Providers.BookeoBaseURL,
			models.ProviderSimplyBook: cfg.Providers.SimplyBookBaseURL,
			models.ProviderGoogle:     cfg.Providers.GoogleBaseURL,
		},
		Logger: logging.Component(logger, "adapters"),
	}), nil
}

// subscribeNotifications turns lifecycle events into operator-facing log lines.
func subscribeNotifications(bus *events.EventBus, logger *zerolog.Logger) {
	l := logging.Component(logger, "notifications")

	bus.Subscribe(events.EventSyncDeadLettered, func(e *events.Event) error {
		var p events.JobEventPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		l.Error().
			Str("job_id", p.JobID).
			Str("integration_id", p.IntegrationID).
			Str("event_id", p.EventID).
			Str("provider", p.Provider).
			Int("retry_count", p.RetryCount).
			Str("error", p.Error).
			Msg("Sync job dead-lettered, manual intervention required")
		return nil
	})

	bus.Subscribe(events.EventFullSyncFinished, func(e *events.Event) error {
		var p events.FullSyncPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		evt := l.Info()
		if !p.Success {
			evt = l.Warn().Str("error", p.Error)
		}
		evt.Str("integration_id", p.IntegrationID).
			Str("provider", p.Provider).
			Int("synced", p.Synced).
			Int("failed", p.Failed).
			Msg("Full sync finished")
		return nil
	})
}

func runOnce(ctx context.Context, runner api.Runner, name string, logger *zerolog.Logger) error {
	res, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	logger.Info().
		Str("processor", name).
		Int("processed", res.Processed).
		Int("failed", res.Failed).
		Int("deferred", res.Deferred).
		Int("skipped", res.Skipped).
		Int("total", res.Total).
		Msg(res.Message)
	return nil
}

func serve(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	handlers api.Handlers,
	runners map[string]api.Runner,
	logger *zerolog.Logger,
) error {
	grpcServer, err := api.NewGRPCServer(cfg.API, logger)
	if err != nil {
		logger.Error().Err(err).Msg("create grpc server")
		return err
	}
	httpServer := api.NewHTTPServer(cfg.API, handlers, logger)

	startMetrics(ctx, cfg, logger)
	go grpcServer.Watch(ctx, db, 30*time.Second)
	go database.NewBackupService(db, cfg.Database.Backup, logging.Component(logger, "backup")).Start(ctx)

	sched, err := startScheduler(ctx, cfg.Scheduler, runners, logger)
	if err != nil {
		return err
	}

	go func() {
		if err := grpcServer.Serve(); err != nil {
			logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Str("grpc_addr", grpcServer.Addr()).Int("http_port", cfg.API.HTTP.Port).Msg("sync daemon started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sched != nil {
		// waits for running batches
		select {
		case <-sched.Stop().Done():
		case <-shutdownCtx.Done():
			logger.Warn().Msg("scheduled batches still running at shutdown")
		}
	}
	grpcServer.Shutdown(shutdownCtx)
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("sync daemon stopped")
	return nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}
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

func scheduleSpecs(cfg config.SchedulerConfig) map[string]string {
	return map[string]string{
		"outbound": strings.TrimSpace(cfg.Outbound),
		"inbound":  strings.TrimSpace(cfg.Inbound),
		"fullsync": strings.TrimSpace(cfg.FullSync),
	}
}
