// Package client is the HTTP adapter the dashboard uses to read the honeypot feed.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"honeyguard/internal/models"
)

const DefaultBaseURL = "http://127.0.0.1:8001"

// TransportError is returned for every failed call: either the request never
// produced a response (Err is set) or the response status was not 2xx.
type TransportError struct {
	Path       string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("API %s failed: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("API %s failed: %d", e.Path, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err carries a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Client reads the HoneyGuard feed over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client and its timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClock overrides the instant substituted for unparseable timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New returns a Client for baseURL, or DefaultBaseURL when it is empty.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type attackDTO struct {
	ID             string `json:"id"`
	Timestamp      string `json:"timestamp"`
	AttackerIP     string `json:"attackerIP"`
	TargetEndpoint string `json:"targetEndpoint"`
	AttackType     string `json:"attackType"`
	RiskLevel      string `json:"riskLevel"`
	UserAgent      string `json:"userAgent"`
	Payload        string `json:"payload"`
}

type attackerProfileDTO struct {
	IP                string                 `json:"ip"`
	RiskScore         int                    `json:"riskScore"`
	Classification    string                 `json:"classification"`
	FirstSeen         string                 `json:"firstSeen"`
	LastSeen          string                 `json:"lastSeen"`
	TotalRequests     int                    `json:"totalRequests"`
	RequestsPerMinute []int                  `json:"requestsPerMinute"`
	AttackTimeline    []attackDTO            `json:"attackTimeline"`
	TargetedEndpoints []models.EndpointCount `json:"targetedEndpoints"`
	Country           string                 `json:"country"`
	ISP               string                 `json:"isp"`
}

// FetchAttacks returns at most limit of the most recent attacks.
func (c *Client) FetchAttacks(ctx context.Context, limit int) ([]models.Attack, error) {
	var body struct {
		Attacks []attackDTO `json:"attacks"`
	}
	if err := c.getJSON(ctx, "/api/attacks?limit="+strconv.Itoa(limit), &body); err != nil {
		return nil, err
	}
	return c.toAttacks(body.Attacks), nil
}

// FetchAttackerProfile returns the profile of a single source address.
func (c *Client) FetchAttackerProfile(ctx context.Context, ip string) (*models.AttackerProfile, error) {
	var dto attackerProfileDTO
	if err := c.getJSON(ctx, "/api/attacker/"+url.PathEscape(ip), &dto); err != nil {
		return nil, err
	}
	targeted := dto.TargetedEndpoints
	if targeted == nil {
		targeted = []models.EndpointCount{}
	}
	return &models.AttackerProfile{
		IP:                dto.IP,
		RiskScore:         dto.RiskScore,
		Classification:    models.Classification(dto.Classification),
		FirstSeen:         c.parseTimestamp(dto.FirstSeen),
		LastSeen:          c.parseTimestamp(dto.LastSeen),
		TotalRequests:     dto.TotalRequests,
		RequestsPerMinute: dto.RequestsPerMinute,
		AttackTimeline:    c.toAttacks(dto.AttackTimeline),
		TargetedEndpoints: targeted,
		Country:           dto.Country,
		ISP:               dto.ISP,
	}, nil
}

// FetchAnalytics returns the server-side aggregates untouched.
func (c *Client) FetchAnalytics(ctx context.Context) (*models.Analytics, error) {
	var a models.Analytics
	if err := c.getJSON(ctx, "/api/analytics", &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) getJSON(ctx context.Context, path string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &TransportError{Path: path, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Path: path, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return &TransportError{Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode body: %w", err)}
	}
	return nil
}

func (c *Client) toAttacks(in []attackDTO) []models.Attack {
	out := make([]models.Attack, 0, len(in))
	for _, a := range in {
		out = append(out, models.Attack{
			ID:             a.ID,
			Timestamp:      c.parseTimestamp(a.Timestamp),
			AttackerIP:     a.AttackerIP,
			TargetEndpoint: a.TargetEndpoint,
			AttackType:     models.AttackType(a.AttackType),
			RiskLevel:      models.RiskLevel(a.RiskLevel),
			UserAgent:      a.UserAgent,
			Payload:        a.Payload,
		})
	}
	return out
}

// Layouts without a zone are read as local time, except the date-only form
// which is UTC midnight.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp never fails: anything that is not a valid instant becomes now.
func (c *Client) parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return c.now()
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return c.now()
}
