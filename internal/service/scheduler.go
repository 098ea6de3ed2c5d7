package service

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"

	"honeyguard/internal/models"
)

// LogTailer reads new request events from the request log.
type LogTailer interface {
	TailOnce(fn func(models.RequestEvent)) (int, error)
	Reset()
}

// LogRotator archives the request log once it reaches maxBytes.
type LogRotator interface {
	Rotate(maxBytes int64) (string, error)
}

// EventProcessor consumes request events.
type EventProcessor interface {
	Process(ev models.RequestEvent) (models.Attack, bool)
}

// SchedulerService periodically replays the request log into the detection
// engine. Events already seen live are deduplicated by the engine.
type SchedulerService struct {
	tailer   LogTailer
	engine   EventProcessor
	interval time.Duration
	rotator  LogRotator
	maxBytes int64
}

func NewSchedulerService(tailer LogTailer, engine EventProcessor, interval time.Duration) *SchedulerService {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &SchedulerService{tailer: tailer, engine: engine, interval: interval}
}

// EnableRotation archives the log after a tail once it has grown to maxBytes.
func (s *SchedulerService) EnableRotation(r LogRotator, maxBytes int64) {
	s.rotator = r
	s.maxBytes = maxBytes
}

// TailOnce processes any new log lines and returns how many were read.
func (s *SchedulerService) TailOnce() int {
	n, err := s.tailer.TailOnce(func(ev models.RequestEvent) {
		s.engine.Process(ev)
	})
	if err != nil {
		zlog.Error().Err(err).Msg("Scheduler: failed to tail request log")
	}
	if n > 0 {
		zlog.Debug().Int("events", n).Msg("Scheduler: request log tailed")
	}
	if err == nil {
		s.rotate()
	}
	return n
}

func (s *SchedulerService) rotate() {
	if s.rotator == nil || s.maxBytes <= 0 {
		return
	}
	archive, err := s.rotator.Rotate(s.maxBytes)
	if err != nil {
		zlog.Error().Err(err).Msg("Scheduler: failed to rotate request log")
	}
	if archive != "" {
		s.tailer.Reset()
		zlog.Info().Str("archive", archive).Msg("Scheduler: request log rotated")
	}
}

// Start backfills from the log once and then tails it until ctx is done.
func (s *SchedulerService) Start(ctx context.Context) {
	s.TailOnce()
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.TailOnce()
			}
		}
	}()
}
