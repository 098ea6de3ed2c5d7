package service

import (
	"errors"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"honeyguard/internal/detection"
	"honeyguard/internal/models"
	"honeyguard/internal/repository"
	"honeyguard/internal/telemetry"
)

type MockArchive struct {
	mock.Mock
}

func (m *MockArchive) SaveAttack(a models.Attack) error {
	return m.Called(a.ID).Error(0)
}

type recordingHub struct {
	got []models.Attack
}

func (h *recordingHub) BroadcastAttack(a models.Attack) { h.got = append(h.got, a) }

type recordingAlerts struct {
	got []string
}

func (n *recordingAlerts) Notify(a models.Attack) { n.got = append(n.got, a.ID) }

func TestAttackRecorder_FansOut(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	host, port, _ := net.SplitHostPort(mr.Addr())
	p, _ := strconv.Atoi(port)
	redisRepo := repository.NewRedisRepository(host, p, "", 0)

	archive := new(MockArchive)
	archive.On("SaveAttack", "a1").Return(errors.New("db down"))
	hub := &recordingHub{}
	alerts := &recordingAlerts{}

	rec := NewAttackRecorder(redisRepo, archive, hub, alerts)
	rec.Record(models.Attack{ID: "a1", Timestamp: time.Now(), AttackerIP: "1.2.3.4", TargetEndpoint: "/login", AttackType: models.AttackBruteForce, RiskLevel: models.RiskHigh})

	total, err := redisRepo.GetTotal()
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	archive.AssertExpectations(t)
	require.Len(t, hub.got, 1)
	assert.Equal(t, []string{"a1"}, alerts.got)
}

func TestAttackRecorder_NoSinks(t *testing.T) {
	rec := NewAttackRecorder(nil, nil, nil, nil)
	assert.NotPanics(t, func() { rec.Record(models.Attack{ID: "x"}) })
}

func TestAttackRecorder_SkipsAttacksAlreadyCounted(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, _ := net.SplitHostPort(mr.Addr())
	p, _ := strconv.Atoi(port)
	redisRepo := repository.NewRedisRepository(host, p, "", 0)
	defer redisRepo.Close()

	hub := &recordingHub{}
	alerts := &recordingAlerts{}
	rec := NewAttackRecorder(redisRepo, nil, hub, alerts)

	a := models.Attack{ID: "r-1", Timestamp: time.Now(), AttackerIP: "1.2.3.4", TargetEndpoint: "/.env", AttackType: models.AttackPathTraversal, RiskLevel: models.RiskHigh}
	rec.Record(a)
	rec.Record(a)

	total, err := redisRepo.GetTotal()
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, hub.got, 1)
	assert.Equal(t, []string{"r-1"}, alerts.got)
}

func TestAttackRecorder_BackfillAfterRestartCountsOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, _ := net.SplitHostPort(mr.Addr())
	p, _ := strconv.Atoi(port)
	redisRepo := repository.NewRedisRepository(host, p, "", 0)
	defer redisRepo.Close()

	path := filepath.Join(t.TempDir(), "requests.jsonl")
	w := telemetry.NewWriter(path)
	for _, id := range []string{"boot-1", "boot-2", "boot-3"} {
		_, err := w.Append(models.RequestEvent{IP: "45.9.9.9", Endpoint: "/.env", StatusCode: 404, RequestID: id})
		require.NoError(t, err)
	}

	alerts := &recordingAlerts{}
	boot := func() {
		engine := detection.New(100)
		engine.OnAttack(NewAttackRecorder(redisRepo, nil, nil, alerts).Record)
		NewSchedulerService(telemetry.NewTailer(path), engine, time.Second).TailOnce()
	}

	boot()
	total, err := redisRepo.GetTotal()
	require.NoError(t, err)
	require.Equal(t, 3, total)

	boot()
	total, err = redisRepo.GetTotal()
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.ElementsMatch(t, []string{"boot-1", "boot-2", "boot-3"}, alerts.got)
}
