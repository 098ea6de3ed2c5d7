package main

import (
	"context"
	"embed"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/hibiken/asynq"
	rdb "github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"honeyguard/internal/app"
	"honeyguard/internal/config"
	"honeyguard/internal/logger"
	"honeyguard/internal/service"
	"honeyguard/internal/tasks"
)

//go:embed migrations/*
var migrationsFS embed.FS

func runMigrations(databaseURL string) {
	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to create iofs source")
	}
	m, err := migrate.NewWithSourceInstance("iofs", d, databaseURL)
	if err != nil {
		zlog.Error().Err(err).Msg("Failed to initialize migrations")
		return
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		zlog.Error().Err(err).Msg("Failed to get migration version")
	} else {
		zlog.Info().Uint("version", version).Bool("dirty", dirty).Msg("Current database version")
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		zlog.Error().Err(err).Msg("Migration error")
	} else if err == migrate.ErrNoChange {
		zlog.Info().Msg("Database is up to date (no migrations needed)")
	} else {
		zlog.Info().Msg("Database migrations applied successfully")
	}
}

// newFeedLimiter rate limits the dashboard feed per client IP. Limits are
// shared through Redis when it is available.
func newFeedLimiter(cfg *config.Config, redisUp bool) gin.HandlerFunc {
	rate := limiter.Rate{
		Period: time.Duration(cfg.RatePeriod) * time.Second,
		Limit:  int64(cfg.RateLimit),
	}
	if !redisUp {
		zlog.Warn().Msg("Using in-memory rate limiter store")
		return mgin.NewMiddleware(limiter.New(memory.NewStore(), rate))
	}

	limiterClient := rdb.NewClient(&rdb.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisLimDB,
	})
	limitStore, err := sredis.NewStoreWithOptions(limiterClient, limiter.StoreOptions{
		Prefix: "limiter_feed",
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to create limiter store")
	}
	return mgin.NewMiddleware(limiter.New(limitStore, rate))
}

func startWorkers(a *app.App) (*asynq.Server, *asynq.Scheduler) {
	cfg := a.Config
	asynqServer := asynq.NewServer(
		a.RedisOpts,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 5,
				"low":     2,
			},
		},
	)

	asynqMux := asynq.NewServeMux()
	asynqMux.Handle(tasks.TypeAlertDelivery, tasks.NewAlertTaskHandler(cfg.AlertWebhookURL, cfg.AlertWebhookSecret))
	asynqMux.Handle(tasks.TypeGeoIPUpdate, tasks.NewGeoIPTaskHandler(cfg, a.GeoIP))

	go func() {
		if err := asynqServer.Run(asynqMux); err != nil {
			zlog.Fatal().Err(err).Msg("Failed to run asynq server")
		}
	}()

	asynqScheduler := asynq.NewScheduler(a.RedisOpts, &asynq.SchedulerOpts{})
	for _, edition := range []string{service.CityEdition, service.ASNEdition} {
		task, err := tasks.NewGeoIPUpdateTask(edition)
		if err != nil {
			zlog.Error().Err(err).Str("edition", edition).Msg("Failed to create GeoIP task")
			continue
		}
		if _, err := asynqScheduler.Register("@every 72h", task); err != nil {
			zlog.Error().Err(err).Str("edition", edition).Msg("Failed to schedule GeoIP update")
		}
	}

	go func() {
		if err := asynqScheduler.Run(); err != nil {
			zlog.Fatal().Err(err).Msg("Failed to run asynq scheduler")
		}
	}()
	return asynqServer, asynqScheduler
}

func main() {
	cfg := config.Load()
	logger.Init(cfg)

	zlog.Info().Str("port", cfg.Port).Str("request_log", cfg.RequestLogPath).Msg("Starting HoneyGuard")

	if cfg.PostgresURL != "" {
		runMigrations(cfg.PostgresURL)
	}

	a, err := app.Bootstrap(cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to bootstrap app")
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Replay the request log so a restarted server keeps its history.
	a.Scheduler.Start(ctx)

	var asynqServer *asynq.Server
	var asynqScheduler *asynq.Scheduler
	switch {
	case a.RedisRepo == nil:
		zlog.Warn().Msg("Background worker disabled (Redis unavailable)")
	case cfg.RunWorkerInProcess:
		zlog.Info().Msg("Starting background worker in-process")
		asynqServer, asynqScheduler = startWorkers(a)
	default:
		zlog.Info().Msg("Background worker disabled (external worker expected)")
	}

	go a.Hub.Run()

	if strings.ToLower(cfg.LogLevel) != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	trustedProxies := []string{}
	for _, p := range strings.Split(cfg.TrustedProxies, ",") {
		if p = strings.TrimSpace(p); p != "" {
			trustedProxies = append(trustedProxies, p)
		}
	}
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		zlog.Error().Err(err).Msg("Failed to set trusted proxies")
	}

	handler := a.Handler()
	handler.SetLimiters(newFeedLimiter(cfg, a.RedisRepo != nil))
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info().Str("port", cfg.Port).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	cancel()
	if asynqScheduler != nil {
		asynqScheduler.Shutdown()
	}
	if asynqServer != nil {
		asynqServer.Shutdown()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}
