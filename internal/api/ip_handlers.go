package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"

	"honeyguard/internal/models"
)

const (
	analyticsCacheKey = "cache:analytics"
	analyticsCacheTTL = 2 * time.Second

	defaultAttackLimit  = 50
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
	maxAttackersLimit   = 500
)

// queryLimit reads the limit parameter, clamped to 1..max. ok is false when
// the value is not an integer.
func queryLimit(c *gin.Context, fallback, maxLimit int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	if n < 1 {
		n = 1
	}
	if maxLimit > 0 && n > maxLimit {
		n = maxLimit
	}
	return n, true
}

func (h *APIHandler) Attacks(c *gin.Context) {
	limit, ok := queryLimit(c, defaultAttackLimit, 0)
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "limit must be an integer"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attacks": h.engine.RecentAttacks(limit)})
}

func (h *APIHandler) AttackerProfile(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.AttackerProfile(c.Param("ip")))
}

// Analytics is cached briefly in Redis when it is available.
func (h *APIHandler) Analytics(c *gin.Context) {
	if h.redisRepo != nil {
		var cached models.Analytics
		if err := h.redisRepo.GetCache(analyticsCacheKey, &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		} else if err != redis.Nil {
			zlog.Warn().Err(err).Msg("Analytics cache read failed")
		}
	}

	analytics := h.engine.Analytics()
	if h.redisRepo != nil {
		if err := h.redisRepo.SetCache(analyticsCacheKey, analytics, analyticsCacheTTL); err != nil {
			zlog.Warn().Err(err).Msg("Analytics cache write failed")
		}
	}
	c.JSON(http.StatusOK, analytics)
}

// Stats returns the lifetime counters kept in Redis.
func (h *APIHandler) Stats(c *gin.Context) {
	if h.redisRepo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "redis unavailable"})
		return
	}
	stats, err := h.redisRepo.LifetimeStats(time.Now())
	if err != nil {
		zlog.Error().Err(err).Msg("Failed to load lifetime stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"lifetime":          stats,
		"tracked_attackers": h.engine.Attackers(),
	})
}

// History reads the Postgres archive, optionally for a single address.
func (h *APIHandler) History(c *gin.Context) {
	if h.pgRepo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive disabled"})
		return
	}
	limit, ok := queryLimit(c, defaultHistoryLimit, maxHistoryLimit)
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "limit must be an integer"})
		return
	}

	var (
		attacks []models.Attack
		err     error
	)
	if ip := c.Query("ip"); ip != "" {
		attacks, err = h.pgRepo.AttacksByIP(ip, limit)
	} else {
		attacks, err = h.pgRepo.RecentAttacks(limit)
	}
	if err != nil {
		zlog.Error().Err(err).Msg("Failed to read attack archive")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read archive"})
		return
	}
	if attacks == nil {
		attacks = []models.Attack{}
	}
	c.JSON(http.StatusOK, gin.H{"attacks": attacks})
}

type attackerItem struct {
	IP       string    `json:"ip"`
	LastSeen time.Time `json:"last_seen"`
}

// Attackers pages addresses by last attack time, newest first.
func (h *APIHandler) Attackers(c *gin.Context) {
	if h.redisRepo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "redis unavailable"})
		return
	}
	limit, ok := queryLimit(c, defaultAttackLimit, maxAttackersLimit)
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "limit must be an integer"})
		return
	}

	res, next, err := h.redisRepo.RecentAttackers(limit, c.Query("cursor"))
	if err != nil {
		zlog.Error().Err(err).Msg("Failed to page attackers")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list attackers"})
		return
	}

	items := make([]attackerItem, 0, len(res))
	for _, z := range res {
		ip, _ := z.Member.(string)
		items = append(items, attackerItem{IP: ip, LastSeen: time.Unix(int64(z.Score), 0).UTC()})
	}
	c.JSON(http.StatusOK, gin.H{"attackers": items, "next_cursor": next})
}
