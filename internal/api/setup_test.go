package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"honeyguard/internal/config"
	"honeyguard/internal/detection"
	"honeyguard/internal/models"
	"honeyguard/internal/repository"
)

// MockRedisRepo implements RedisRepositoryProvider
type MockRedisRepo struct {
	mock.Mock
}

func (m *MockRedisRepo) Ping() error {
	return m.Called().Error(0)
}

func (m *MockRedisRepo) LifetimeStats(now time.Time) (*models.LifetimeStats, error) {
	args := m.Called(now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LifetimeStats), args.Error(1)
}

func (m *MockRedisRepo) RecentAttackers(limit int, cursor string) ([]redis.Z, string, error) {
	args := m.Called(limit, cursor)
	return args.Get(0).([]redis.Z), args.String(1), args.Error(2)
}

func (m *MockRedisRepo) GetCache(key string, target interface{}) error {
	return m.Called(key).Error(0)
}

func (m *MockRedisRepo) SetCache(key string, val interface{}, expiration time.Duration) error {
	return m.Called(key, expiration).Error(0)
}

// MockPostgresRepo implements PostgresRepositoryProvider
type MockPostgresRepo struct {
	mock.Mock
}

func (m *MockPostgresRepo) Ping() error {
	return m.Called().Error(0)
}

func (m *MockPostgresRepo) RecentAttacks(limit int) ([]models.Attack, error) {
	args := m.Called(limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Attack), args.Error(1)
}

func (m *MockPostgresRepo) AttacksByIP(ip string, limit int) ([]models.Attack, error) {
	args := m.Called(ip, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Attack), args.Error(1)
}

// memoryLog records appended events; fail makes every append error.
type memoryLog struct {
	mu     sync.Mutex
	events []models.RequestEvent
	fail   bool
}

func (l *memoryLog) Append(ev models.RequestEvent) (models.RequestEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return ev, errors.New("disk full")
	}
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	l.events = append(l.events, ev)
	return ev, nil
}

func (l *memoryLog) all() []models.RequestEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.RequestEvent(nil), l.events...)
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		UploadDir:         t.TempDir(),
		MetricsAllowedIPs: "127.0.0.1",
	}
}

type testEnv struct {
	router  *gin.Engine
	handler *APIHandler
	engine  *detection.Engine
	log     *memoryLog
}

// newTestEnv builds a router around a real detection engine. Repositories
// are passed as interfaces so tests can leave them out entirely.
func newTestEnv(t *testing.T, r RedisRepositoryProvider, pg PostgresRepositoryProvider, hub *Hub) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := detection.New(100)
	log := &memoryLog{}
	h := NewAPIHandler(testConfig(t), engine, log, r, pg, hub)

	router := gin.New()
	h.RegisterRoutes(router)
	return &testEnv{router: router, handler: h, engine: engine, log: log}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func newMiniredisRepo(t *testing.T) (*miniredis.Miniredis, *repository.RedisRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	repo := repository.NewRedisRepository(mr.Host(), port, "", 0)
	t.Cleanup(func() { _ = repo.Close() })
	return mr, repo
}

func decode(t *testing.T, w *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), target), w.Body.String())
}
