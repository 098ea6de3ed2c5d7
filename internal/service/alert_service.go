package service

import (
	"errors"

	"github.com/hibiken/asynq"
	zlog "github.com/rs/zerolog/log"

	"honeyguard/internal/config"
	"honeyguard/internal/models"
	"honeyguard/internal/tasks"
)

// TaskEnqueuer is the part of *asynq.Client the alert service uses.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// AlertService queues a webhook delivery for every HIGH risk attack.
type AlertService struct {
	cfg    *config.Config
	client TaskEnqueuer
}

func NewAlertService(cfg *config.Config, redisOpts asynq.RedisClientOpt) *AlertService {
	return &AlertService{
		cfg:    cfg,
		client: asynq.NewClient(redisOpts),
	}
}

func NewAlertServiceWithClient(cfg *config.Config, client TaskEnqueuer) *AlertService {
	return &AlertService{cfg: cfg, client: client}
}

func (s *AlertService) Enabled() bool {
	return s != nil && s.cfg != nil && s.cfg.EnableAlerts && s.client != nil
}

func (s *AlertService) Notify(attack models.Attack) {
	if !s.Enabled() || attack.RiskLevel != models.RiskHigh {
		return
	}

	task, err := tasks.NewAlertDeliveryTask(tasks.EventHighRiskAttack, attack)
	if err != nil {
		zlog.Error().Err(err).Str("attack_id", attack.ID).Msg("Error creating alert task")
		return
	}

	if _, err := s.client.Enqueue(task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			zlog.Debug().Str("attack_id", attack.ID).Msg("Alert already queued")
			return
		}
		zlog.Error().Err(err).Str("attack_id", attack.ID).Msg("Error enqueuing alert task")
	}
}

func (s *AlertService) Close() {
	if s != nil && s.client != nil {
		s.client.Close()
	}
}
