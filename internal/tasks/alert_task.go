package tasks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/hibiken/asynq"
	zlog "github.com/rs/zerolog/log"

	"honeyguard/internal/models"
)

const (
	TypeAlertDelivery = "alert:deliver"

	EventHighRiskAttack = "attack.high_risk"

	HeaderEvent     = "X-HoneyGuard-Event"
	HeaderAttempt   = "X-HoneyGuard-Attempt"
	HeaderSignature = "X-HoneyGuard-Signature"
)

type AlertPayload struct {
	Event  string        `json:"event"`
	Attack models.Attack `json:"attack"`
}

// alertRetention keeps completed alert tasks so their ids still reject a
// replayed attack.
const alertRetention = 7 * 24 * time.Hour

// NewAlertDeliveryTask creates a task delivering one attack alert. The
// attack id is used as the task id so a replayed attack is enqueued once.
func NewAlertDeliveryTask(event string, attack models.Attack) (*asynq.Task, error) {
	payload, err := json.Marshal(AlertPayload{Event: event, Attack: attack})
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.MaxRetry(5), asynq.Timeout(20 * time.Second)}
	if attack.ID != "" {
		opts = append(opts, asynq.TaskID("alert:"+attack.ID), asynq.Retention(alertRetention))
	}
	return asynq.NewTask(TypeAlertDelivery, payload, opts...), nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// AlertTaskHandler posts alerts to the configured webhook.
type AlertTaskHandler struct {
	url    string
	secret string
	client *http.Client
}

func NewAlertTaskHandler(url, secret string) *AlertTaskHandler {
	return &AlertTaskHandler{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *AlertTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p AlertPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if h.url == "" {
		zlog.Warn().Str("attack_id", p.Attack.ID).Msg("Alert dropped: no webhook URL configured")
		return nil
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal alert: %v: %w", err, asynq.SkipRetry)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %v: %w", err, asynq.SkipRetry)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, p.Event)

	retryCount, _ := asynq.GetRetryCount(ctx)
	req.Header.Set(HeaderAttempt, strconv.Itoa(retryCount+1))

	if h.secret != "" {
		req.Header.Set(HeaderSignature, Sign(h.secret, body))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}

	zlog.Info().
		Str("attack_id", p.Attack.ID).
		Str("ip", p.Attack.AttackerIP).
		Int("status", resp.StatusCode).
		Msg("Alert delivered")
	return nil
}
