package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"honeyguard/internal/metrics"
	"honeyguard/internal/models"
)

const (
	keyTotal        = "stats:total"
	keyTypes        = "stats:type"
	keyEndpoints    = "stats:endpoint"
	keyAttacksByTS  = "attacks_by_ts"
	keyAttackersTS  = "attackers_by_ts"
	keySeenPrefix   = "seen:attack:"
	hourBucketTTL   = 48 * time.Hour
	attackIndexSpan = 24 * time.Hour
	seenAttackTTL   = 30 * 24 * time.Hour
)

// ErrAttackSeen is returned by RecordAttack for an attack id that was already
// counted, typically when the request log is replayed after a restart.
var ErrAttackSeen = errors.New("attack already recorded")

type RedisRepository struct {
	client *redis.Client
	ctx    context.Context
}

func (r *RedisRepository) trackDuration(op string, start time.Time) {
	metrics.MetricRedisDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func NewRedisRepository(host string, port int, password string, db int) *RedisRepository {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})
	return NewRedisRepositoryFromClient(rdb)
}

func NewRedisRepositoryFromClient(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		client: client,
		ctx:    context.Background(),
	}
}

func (r *RedisRepository) GetClient() *redis.Client {
	return r.client
}

func (r *RedisRepository) Ping() error {
	defer r.trackDuration("Ping", time.Now())
	return r.client.Ping(r.ctx).Err()
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// Atomic attack record: lifetime counters, hourly bucket and time indexes in one script
var recordAttackScript = redis.NewScript(`
local id = ARGV[1]
local ip = ARGV[2]
local ts = tonumber(ARGV[3])
local attackType = ARGV[4]
local endpoint = ARGV[5]
local hourKey = ARGV[6]
local hourTTL = tonumber(ARGV[7])
local cutoff = tonumber(ARGV[8])
local seenTTL = tonumber(ARGV[9])
if not redis.call('SET', KEYS[6], 1, 'NX', 'EX', seenTTL) then
  return 0
end
redis.call('INCR', KEYS[1])
redis.call('HINCRBY', KEYS[2], attackType, 1)
redis.call('HINCRBY', KEYS[3], endpoint, 1)
redis.call('INCR', hourKey)
redis.call('EXPIRE', hourKey, hourTTL)
redis.call('ZADD', KEYS[4], ts, id)
redis.call('ZREMRANGEBYSCORE', KEYS[4], '-inf', '(' .. cutoff)
redis.call('ZADD', KEYS[5], ts, ip)
return 1
`)

func hourKey(ts time.Time) string {
	return fmt.Sprintf("stats:hour:%s", ts.UTC().Format("2006010215"))
}

// RecordAttack updates every lifetime counter for one attack atomically. An
// attack id is counted once; later calls return ErrAttackSeen.
func (r *RedisRepository) RecordAttack(a models.Attack) error {
	defer r.trackDuration("RecordAttack", time.Now())
	ts := a.Timestamp.UTC()
	keys := []string{keyTotal, keyTypes, keyEndpoints, keyAttacksByTS, keyAttackersTS, keySeenPrefix + a.ID}
	added, err := recordAttackScript.Run(r.ctx, r.client, keys,
		a.ID,
		a.AttackerIP,
		ts.Unix(),
		string(a.AttackType),
		a.TargetEndpoint,
		hourKey(ts),
		int(hourBucketTTL.Seconds()),
		ts.Add(-attackIndexSpan).Unix(),
		int(seenAttackTTL.Seconds()),
	).Int()
	if err != nil {
		return err
	}
	if added == 0 {
		return ErrAttackSeen
	}
	return nil
}

func (r *RedisRepository) GetTotal() (int, error) {
	v, err := r.client.Get(r.ctx, keyTotal).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// CountSince counts attacks indexed at or after since. The index only spans
// the last 24 hours.
func (r *RedisRepository) CountSince(since time.Time) (int, error) {
	defer r.trackDuration("CountSince", time.Now())
	n, err := r.client.ZCount(r.ctx, keyAttacksByTS, strconv.FormatInt(since.Unix(), 10), "+inf").Result()
	return int(n), err
}

func (r *RedisRepository) HourBucket(ts time.Time) (int, error) {
	v, err := r.client.Get(r.ctx, hourKey(ts)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// TopTypes returns attack type counters, largest first. Equal counts are
// ordered by name.
func (r *RedisRepository) TopTypes(limit int) ([]models.NameValue, error) {
	return r.topHash(keyTypes, limit)
}

func (r *RedisRepository) TopEndpoints(limit int) ([]models.NameValue, error) {
	return r.topHash(keyEndpoints, limit)
}

func (r *RedisRepository) topHash(key string, limit int) ([]models.NameValue, error) {
	defer r.trackDuration("topHash", time.Now())
	res, err := r.client.HGetAll(r.ctx, key).Result()
	if err != nil {
		return nil, err
	}
	arr := make([]models.NameValue, 0, len(res))
	for k, v := range res {
		iv, _ := strconv.Atoi(v)
		arr = append(arr, models.NameValue{Name: k, Value: iv})
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].Value != arr[j].Value {
			return arr[i].Value > arr[j].Value
		}
		return arr[i].Name < arr[j].Name
	})
	if limit > 0 && len(arr) > limit {
		arr = arr[:limit]
	}
	return arr, nil
}

// LifetimeStats gathers the counters kept across restarts.
func (r *RedisRepository) LifetimeStats(now time.Time) (*models.LifetimeStats, error) {
	total, err := r.GetTotal()
	if err != nil {
		return nil, fmt.Errorf("total: %w", err)
	}
	lastHour, err := r.CountSince(now.Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("last hour: %w", err)
	}
	attackers, err := r.client.ZCard(r.ctx, keyAttackersTS).Result()
	if err != nil {
		return nil, fmt.Errorf("attackers: %w", err)
	}
	top, err := r.TopTypes(5)
	if err != nil {
		return nil, fmt.Errorf("top types: %w", err)
	}
	return &models.LifetimeStats{
		Total:     total,
		LastHour:  lastHour,
		Attackers: int(attackers),
		TopTypes:  top,
	}, nil
}

// RecentAttackers pages attackers_by_ts newest first using a stable tuple
// cursor "<score>:<member>". An empty cursor starts from +inf.
func (r *RedisRepository) RecentAttackers(limit int, cursor string) ([]redis.Z, string, error) {
	defer r.trackDuration("RecentAttackers", time.Now())

	start := "+inf"
	var lastMember string
	if cursor != "" {
		parts := strings.SplitN(cursor, ":", 2)
		start = parts[0]
		if len(parts) > 1 {
			lastMember = parts[1]
		}
	}

	res, err := r.client.ZRangeArgsWithScores(r.ctx, redis.ZRangeArgs{
		Key:     keyAttackersTS,
		Start:   start,
		Stop:    "-inf",
		ByScore: true,
		Rev:     true,
		Count:   int64(limit + 50),
	}).Result()
	if err != nil {
		return nil, "", err
	}

	// Members sharing the cursor score were possibly returned already.
	if lastMember != "" {
		for i, z := range res {
			if z.Member.(string) == lastMember {
				res = res[i+1:]
				break
			}
		}
	}

	if len(res) > limit {
		res = res[:limit]
	}

	next := ""
	if len(res) == limit && limit > 0 {
		last := res[len(res)-1]
		next = fmt.Sprintf("%s:%s", strconv.FormatFloat(last.Score, 'f', -1, 64), last.Member.(string))
	}
	return res, next, nil
}

func (r *RedisRepository) SetCache(key string, val interface{}, expiration time.Duration) error {
	defer r.trackDuration("SetCache", time.Now())
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return r.client.Set(r.ctx, key, data, expiration).Err()
}

// GetCache decodes the cached value into target. A miss returns redis.Nil.
func (r *RedisRepository) GetCache(key string, target interface{}) error {
	defer r.trackDuration("GetCache", time.Now())
	val, err := r.client.Get(r.ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(val, target)
}

func (r *RedisRepository) Publish(channel string, payload []byte) error {
	defer r.trackDuration("Publish", time.Now())
	return r.client.Publish(r.ctx, channel, payload).Err()
}

func (r *RedisRepository) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return r.client.Subscribe(ctx, channel)
}
