package service

import (
	"errors"

	zlog "github.com/rs/zerolog/log"

	"honeyguard/internal/models"
	"honeyguard/internal/repository"
)

type CounterStore interface {
	RecordAttack(a models.Attack) error
}

type AttackArchive interface {
	SaveAttack(a models.Attack) error
}

type AttackBroadcaster interface {
	BroadcastAttack(a models.Attack)
}

type AlertNotifier interface {
	Notify(a models.Attack)
}

// AttackRecorder fans every detected attack out to the optional sinks. A
// failing sink is logged and never affects the others. An attack the counter
// store has already seen is not passed on.
type AttackRecorder struct {
	counters CounterStore
	archive  AttackArchive
	hub      AttackBroadcaster
	alerts   AlertNotifier
}

func NewAttackRecorder(counters CounterStore, archive AttackArchive, hub AttackBroadcaster, alerts AlertNotifier) *AttackRecorder {
	return &AttackRecorder{counters: counters, archive: archive, hub: hub, alerts: alerts}
}

func (r *AttackRecorder) Record(a models.Attack) {
	if r.counters != nil {
		err := r.counters.RecordAttack(a)
		if errors.Is(err, repository.ErrAttackSeen) {
			zlog.Debug().Str("attack_id", a.ID).Msg("Attack already recorded, skipping sinks")
			return
		}
		if err != nil {
			zlog.Error().Err(err).Str("attack_id", a.ID).Msg("Failed to update attack counters")
		}
	}
	if r.archive != nil {
		if err := r.archive.SaveAttack(a); err != nil {
			zlog.Error().Err(err).Str("attack_id", a.ID).Msg("Failed to archive attack")
		}
	}
	if r.hub != nil {
		r.hub.BroadcastAttack(a)
	}
	if r.alerts != nil {
		r.alerts.Notify(a)
	}
}
