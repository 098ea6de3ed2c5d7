package app

import (
	"fmt"

	"github.com/hibiken/asynq"
	zlog "github.com/rs/zerolog/log"

	"honeyguard/internal/api"
	"honeyguard/internal/config"
	"honeyguard/internal/detection"
	"honeyguard/internal/repository"
	"honeyguard/internal/service"
	"honeyguard/internal/telemetry"
)

// App holds the shared state of the server and worker binaries. RedisRepo
// and PgRepo are nil when the backing store is not configured or reachable.
type App struct {
	Config     *config.Config
	RedisRepo  *repository.RedisRepository
	PgRepo     *repository.PostgresRepository
	Engine     *detection.Engine
	RequestLog *telemetry.Writer
	Tailer     *telemetry.Tailer
	GeoIP      *service.GeoIPService
	Alerts     *service.AlertService
	Recorder   *service.AttackRecorder
	Scheduler  *service.SchedulerService
	Hub        *api.Hub
	RedisOpts  asynq.RedisClientOpt
}

// Bootstrap wires every component. The honeypot keeps running without Redis;
// a Postgres URL that is set but unreachable is an error.
func Bootstrap(cfg *config.Config) (*App, error) {
	a := &App{
		Config: cfg,
		RedisOpts: asynq.RedisClientOpt{
			Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
	}

	redisRepo := repository.NewRedisRepository(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword, cfg.RedisDB)
	if err := redisRepo.Ping(); err != nil {
		zlog.Warn().Err(err).Str("addr", a.RedisOpts.Addr).Msg("Redis unavailable, counters, cache and alerts disabled")
		_ = redisRepo.Close()
	} else {
		a.RedisRepo = redisRepo
	}

	if cfg.PostgresURL != "" {
		pgRepo, err := repository.NewPostgresRepository(cfg.PostgresURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		a.PgRepo = pgRepo
	}

	a.GeoIP = service.NewGeoIPService(cfg.GeoIPDir)
	a.Engine = detection.New(cfg.EventBufferSize, detection.WithEnricher(a.GeoIP))
	a.RequestLog = telemetry.NewWriter(cfg.RequestLogPath)
	a.Tailer = telemetry.NewTailer(cfg.RequestLogPath)
	a.Scheduler = service.NewSchedulerService(a.Tailer, a.Engine, cfg.TailInterval)
	a.Scheduler.EnableRotation(a.RequestLog, cfg.RequestLogMaxBytes)

	// Sinks are only set when present so the recorder never sees a typed nil.
	var (
		counters service.CounterStore
		archive  service.AttackArchive
		alerts   service.AlertNotifier
	)
	if a.RedisRepo != nil {
		counters = a.RedisRepo
		a.Hub = api.NewHub(a.RedisRepo.GetClient())
		if cfg.EnableAlerts {
			a.Alerts = service.NewAlertService(cfg, a.RedisOpts)
			alerts = a.Alerts
		}
	} else {
		a.Hub = api.NewHub(nil)
	}
	if a.PgRepo != nil {
		archive = a.PgRepo
	}
	a.Recorder = service.NewAttackRecorder(counters, archive, a.Hub, alerts)
	a.Engine.OnAttack(a.Recorder.Record)

	return a, nil
}

// Handler builds the HTTP handler over the wired components.
func (a *App) Handler() *api.APIHandler {
	var (
		r  api.RedisRepositoryProvider
		pg api.PostgresRepositoryProvider
	)
	if a.RedisRepo != nil {
		r = a.RedisRepo
	}
	if a.PgRepo != nil {
		pg = a.PgRepo
	}
	return api.NewAPIHandler(a.Config, a.Engine, a.RequestLog, r, pg, a.Hub)
}

func (a *App) Close() {
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if a.Alerts != nil {
		a.Alerts.Close()
		a.Alerts = nil
	}
	if a.GeoIP != nil {
		a.GeoIP.Close()
	}
	if a.PgRepo != nil {
		_ = a.PgRepo.Close()
	}
	if a.RedisRepo != nil {
		_ = a.RedisRepo.Close()
	}
}
