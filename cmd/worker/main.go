package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	zlog "github.com/rs/zerolog/log"

	"honeyguard/internal/app"
	"honeyguard/internal/config"
	"honeyguard/internal/logger"
	"honeyguard/internal/tasks"
)

func main() {
	cfg := config.Load()
	cfg.ServiceName += "-worker"
	logger.Init(cfg)

	zlog.Info().Msg("Starting HoneyGuard standalone worker")

	a, err := app.Bootstrap(cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to bootstrap app")
	}
	defer a.Close()

	if a.RedisRepo == nil {
		zlog.Fatal().Str("addr", a.RedisOpts.Addr).Msg("Worker requires Redis")
	}

	asynqServer := asynq.NewServer(
		a.RedisOpts,
		asynq.Config{
			Concurrency: 20,
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

	zlog.Info().Msg("Worker running. Press Ctrl+C to exit.")
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info().Msg("Shutting down worker...")
	asynqServer.Shutdown()
	zlog.Info().Msg("Worker exited")
}
