package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"

	"honeyguard/internal/config"
	"honeyguard/internal/metrics"
	"honeyguard/internal/models"
)

// Gin context keys set by the trap handlers and read back by the telemetry
// middleware once the handler returns.
const (
	ctxRequestID     = "request_id"
	ctxAuthSuccess   = "auth_success"
	ctxLoginUsername = "login_username"
	ctxUploadName    = "upload_name"
	ctxOperator      = "operator_route"
)

type APIHandler struct {
	cfg         *config.Config
	engine      DetectionEngine
	requestLog  RequestLog
	redisRepo   RedisRepositoryProvider
	pgRepo      PostgresRepositoryProvider
	hub         *Hub
	feedLimiter gin.HandlerFunc
}

// NewAPIHandler wires the handlers. The request log, both repositories and
// the hub are optional and may be nil.
func NewAPIHandler(cfg *config.Config, engine DetectionEngine, requestLog RequestLog, r RedisRepositoryProvider, pg PostgresRepositoryProvider, hub *Hub) *APIHandler {
	return &APIHandler{
		cfg:        cfg,
		engine:     engine,
		requestLog: requestLog,
		redisRepo:  r,
		pgRepo:     pg,
		hub:        hub,
	}
}

func (h *APIHandler) SetLimiters(feed gin.HandlerFunc) {
	h.feedLimiter = feed
}

func (h *APIHandler) limiter() gin.HandlerFunc {
	if h.feedLimiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return h.feedLimiter
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:    1024,
	WriteBufferSize:   1024,
	EnableCompression: true,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WS streams every detected attack to the client until it disconnects.
func (h *APIHandler) WS(c *gin.Context) {
	if h.hub == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "live feed disabled"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	select {
	case h.hub.register <- conn:
	case <-h.hub.stop:
		conn.Close()
		return
	}

	pingTicker := time.NewTicker(30 * time.Second)
	defer func() {
		pingTicker.Stop()
		select {
		case h.hub.unregister <- conn:
		case <-h.hub.stop:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(70 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(70 * time.Second))
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-pingTicker.C:
			// WriteControl may run concurrently with the hub's writes.
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *APIHandler) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		c.Next()
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		metrics.MetricHttpDuration.WithLabelValues(path, c.Request.Method, status).Observe(duration)
	}
}

// TelemetryMiddleware records every request as one structured event: it is
// appended to the request log and fed to the detection engine. Failures are
// logged and never affect the response.
func (h *APIHandler) TelemetryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Set(ctxRequestID, requestID)
		c.Header("X-Request-ID", requestID)
		start := time.Now()

		c.Next()

		ev := models.RequestEvent{
			IP:             clientIP(c),
			Endpoint:       c.Request.URL.Path,
			Method:         c.Request.Method,
			StatusCode:     c.Writer.Status(),
			AuthSuccess:    authSuccess(c),
			ResponseTimeMs: time.Since(start).Milliseconds(),
			PayloadSize:    max(c.Request.ContentLength, 0),
			UserAgent:      c.Request.UserAgent(),
			RequestID:      requestID,
			Query:          c.Request.URL.RawQuery,
			LoginUsername:  c.GetString(ctxLoginUsername),
			UploadName:     c.GetString(ctxUploadName),
			Operator:       c.GetBool(ctxOperator),
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.MetricRequestsTotal.WithLabelValues(route).Inc()

		h.recordEvent(ev)
	}
}

func (h *APIHandler) recordEvent(ev models.RequestEvent) {
	if h.requestLog != nil {
		stamped, err := h.requestLog.Append(ev)
		if err != nil {
			zlog.Warn().Err(err).Str("request_id", ev.RequestID).Msg("Failed to append request event")
		} else {
			ev = stamped
		}
	}
	if h.engine != nil {
		h.engine.Process(ev)
	}
}

func clientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

func authSuccess(c *gin.Context) *bool {
	v, ok := c.Get(ctxAuthSuccess)
	if !ok {
		return nil
	}
	b, ok := v.(bool)
	if !ok {
		return nil
	}
	return &b
}

// operatorRoute tags the ops and feed routes. Their requests are still logged
// but never reach detection, so a throttled dashboard or a refused scraper
// does not show up in its own attack feed.
func operatorRoute(c *gin.Context) {
	c.Set(ctxOperator, true)
	c.Next()
}

func (h *APIHandler) MetricsAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowedIPs := strings.Split(h.cfg.MetricsAllowedIPs, ",")
		clientIP := c.ClientIP()

		isAllowed := false
		for _, ip := range allowedIPs {
			if strings.TrimSpace(ip) == clientIP {
				isAllowed = true
				break
			}
		}

		if !isAllowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied"})
			return
		}
		c.Next()
	}
}

func (h *APIHandler) RegisterRoutes(r *gin.Engine) {
	r.Use(h.PrometheusMiddleware())
	r.Use(h.TelemetryMiddleware())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:   []string{"X-Request-ID"},
		MaxAge:          12 * time.Hour,
	}))

	// Ops
	r.GET("/health", operatorRoute, h.Health)
	r.GET("/ready", operatorRoute, h.Ready)
	r.GET("/openapi.json", operatorRoute, h.OpenAPI)
	r.GET("/metrics", operatorRoute, h.MetricsAuthMiddleware(), gin.WrapH(promhttp.Handler()))

	// Honeypot traps, intentionally unprotected and never rate limited
	r.POST("/login", h.Login)
	r.GET("/api/users/:id", h.GetUser)
	r.POST("/api/upload", h.Upload)
	r.GET("/api/admin/stats", h.AdminStats)

	// Dashboard feed
	feed := r.Group("/")
	feed.Use(operatorRoute, h.limiter())
	{
		feed.GET("/api/attacks", h.Attacks)
		feed.GET("/api/attacker/:ip", h.AttackerProfile)
		feed.GET("/api/analytics", h.Analytics)
		feed.GET("/api/v1/stats", h.Stats)
		feed.GET("/api/v1/history", h.History)
		feed.GET("/api/v1/attackers", h.Attackers)
		feed.GET("/ws", h.WS)
	}
}

func (h *APIHandler) Health(c *gin.Context) {
	status := "UP"
	redisStatus := "DISABLED"
	dbStatus := "DISABLED"
	if h.redisRepo != nil {
		redisStatus = "OK"
		if err := h.redisRepo.Ping(); err != nil {
			redisStatus = "ERROR"
			status = "DEGRADED"
		}
	}
	if h.pgRepo != nil {
		dbStatus = "OK"
		if err := h.pgRepo.Ping(); err != nil {
			dbStatus = "ERROR"
			status = "DEGRADED"
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": status, "redis": redisStatus, "postgres": dbStatus})
}

// Ready fails when a configured dependency is unreachable.
func (h *APIHandler) Ready(c *gin.Context) {
	dep := map[string]interface{}{}
	ready := true
	if h.redisRepo != nil {
		ok := h.redisRepo.Ping() == nil
		dep["redis"] = ok
		ready = ready && ok
	}
	if h.pgRepo != nil {
		ok := h.pgRepo.Ping() == nil
		dep["postgres"] = ok
		ready = ready && ok
	}
	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "NOT_READY", "dependencies": dep})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "READY", "dependencies": dep})
}

// Minimal OpenAPI spec
func (h *APIHandler) OpenAPI(c *gin.Context) {
	attackRef := gin.H{"$ref": "#/components/schemas/Attack"}
	jsonOK := func(desc string, schema gin.H) gin.H {
		return gin.H{"200": gin.H{
			"description": desc,
			"content":     gin.H{"application/json": gin.H{"schema": schema}},
		}}
	}
	limitParam := gin.H{"name": "limit", "in": "query", "schema": gin.H{"type": "integer"}}

	spec := gin.H{
		"openapi": "3.0.1",
		"info": gin.H{
			"title":       "HoneyGuard API",
			"description": "Intentionally vulnerable honeypot endpoints plus the attack telemetry feed.",
			"version":     "1.0.0",
		},
		"servers": []gin.H{{"url": "/"}},
		"components": gin.H{
			"schemas": gin.H{
				"Attack": gin.H{
					"type": "object",
					"properties": gin.H{
						"id":             gin.H{"type": "string"},
						"timestamp":      gin.H{"type": "string", "format": "date-time"},
						"attackerIP":     gin.H{"type": "string"},
						"targetEndpoint": gin.H{"type": "string"},
						"attackType":     gin.H{"type": "string", "enum": models.AttackTypes},
						"riskLevel":      gin.H{"type": "string", "enum": []string{"HIGH", "MEDIUM", "LOW"}},
						"userAgent":      gin.H{"type": "string"},
						"payload":        gin.H{"type": "string"},
					},
				},
				"AttackerProfile": gin.H{
					"type": "object",
					"properties": gin.H{
						"ip":                gin.H{"type": "string"},
						"riskScore":         gin.H{"type": "integer", "minimum": 0, "maximum": 100},
						"classification":    gin.H{"type": "string"},
						"firstSeen":         gin.H{"type": "string", "format": "date-time"},
						"lastSeen":          gin.H{"type": "string", "format": "date-time"},
						"totalRequests":     gin.H{"type": "integer"},
						"requestsPerMinute": gin.H{"type": "array", "items": gin.H{"type": "integer"}},
						"attackTimeline":    gin.H{"type": "array", "items": attackRef},
						"country":           gin.H{"type": "string"},
						"isp":               gin.H{"type": "string"},
					},
				},
			},
		},
		"paths": gin.H{
			"/login": gin.H{"post": gin.H{
				"summary":   "Decoy login form",
				"responses": jsonOK("Login result", gin.H{"type": "object"}),
			}},
			"/api/users/{id}": gin.H{"get": gin.H{
				"summary":    "Fetch a user by id",
				"parameters": []gin.H{{"name": "id", "in": "path", "required": true, "schema": gin.H{"type": "integer"}}},
				"responses":  jsonOK("User", gin.H{"type": "object"}),
			}},
			"/api/upload": gin.H{"post": gin.H{
				"summary":   "Upload a file",
				"responses": jsonOK("Stored file", gin.H{"type": "object"}),
			}},
			"/api/admin/stats": gin.H{"get": gin.H{
				"summary":   "Admin statistics",
				"responses": jsonOK("Stats", gin.H{"type": "object"}),
			}},
			"/api/attacks": gin.H{"get": gin.H{
				"summary":    "Most recent attacks, newest first",
				"parameters": []gin.H{limitParam},
				"responses": jsonOK("Attacks", gin.H{
					"type":       "object",
					"properties": gin.H{"attacks": gin.H{"type": "array", "items": attackRef}},
				}),
			}},
			"/api/attacker/{ip}": gin.H{"get": gin.H{
				"summary":    "Behaviour profile of one source address",
				"parameters": []gin.H{{"name": "ip", "in": "path", "required": true, "schema": gin.H{"type": "string"}}},
				"responses":  jsonOK("Profile", gin.H{"$ref": "#/components/schemas/AttackerProfile"}),
			}},
			"/api/analytics": gin.H{"get": gin.H{
				"summary":   "Attack type distribution, top endpoints and hourly volume",
				"responses": jsonOK("Analytics", gin.H{"type": "object"}),
			}},
			"/api/v1/stats": gin.H{"get": gin.H{
				"summary":   "Lifetime counters",
				"responses": jsonOK("Stats", gin.H{"type": "object"}),
			}},
			"/api/v1/history": gin.H{"get": gin.H{
				"summary": "Archived attacks",
				"parameters": []gin.H{
					{"name": "ip", "in": "query", "schema": gin.H{"type": "string"}},
					limitParam,
				},
				"responses": jsonOK("Attacks", gin.H{"type": "object"}),
			}},
			"/api/v1/attackers": gin.H{"get": gin.H{
				"summary": "Attackers by last activity, newest first",
				"parameters": []gin.H{
					limitParam,
					{"name": "cursor", "in": "query", "schema": gin.H{"type": "string"}},
				},
				"responses": jsonOK("Attackers page", gin.H{"type": "object"}),
			}},
		},
	}
	c.JSON(http.StatusOK, spec)
}
