package api

import (
	"time"

	"github.com/redis/go-redis/v9"

	"honeyguard/internal/models"
)

// DetectionEngine is the in-memory behaviour detector the feed is served from.
type DetectionEngine interface {
	Process(ev models.RequestEvent) (models.Attack, bool)
	RecentAttacks(limit int) []models.Attack
	AttackerProfile(ip string) models.AttackerProfile
	Analytics() models.Analytics
	Attackers() int
}

// RequestLog persists request telemetry and returns the stamped event.
type RequestLog interface {
	Append(ev models.RequestEvent) (models.RequestEvent, error)
}

// RedisRepositoryProvider defines the Redis operations the handlers need.
type RedisRepositoryProvider interface {
	Ping() error
	LifetimeStats(now time.Time) (*models.LifetimeStats, error)
	RecentAttackers(limit int, cursor string) ([]redis.Z, string, error)
	GetCache(key string, target interface{}) error
	SetCache(key string, val interface{}, expiration time.Duration) error
}

// PostgresRepositoryProvider defines the attack archive operations.
type PostgresRepositoryProvider interface {
	Ping() error
	RecentAttacks(limit int) ([]models.Attack, error)
	AttacksByIP(ip string, limit int) ([]models.Attack, error)
}
