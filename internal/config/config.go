package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port               string
	APIBase            string
	PollInterval       time.Duration
	PollLimit          int
	DashboardProfileIP string
	LogLevel           string
	LogPretty          bool
	ServiceName        string
	RequestLogPath     string
	RequestLogMaxBytes int64
	UploadDir          string
	EventBufferSize    int
	TailInterval       time.Duration
	RedisHost          string
	RedisPort          int
	RedisPassword      string
	RedisDB            int
	RedisLimDB         int
	PostgresURL        string
	GeoIPDir           string
	GeoIPAccountID     string
	GeoIPLicenseKey    string
	GeoIPDownloadURL   string
	MetricsAllowedIPs  string
	TrustedProxies     string
	RateLimit          int
	RatePeriod         int
	EnableAlerts       bool
	AlertWebhookURL    string
	AlertWebhookSecret string
	RunWorkerInProcess bool
}

func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8001"),
		APIBase:            getEnv("API_BASE", "http://127.0.0.1:8001"),
		PollInterval:       getEnvDuration("POLL_INTERVAL", 5*time.Second),
		PollLimit:          getEnvInt("POLL_LIMIT", 50),
		DashboardProfileIP: getEnv("DASHBOARD_PROFILE_IP", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogPretty:          getEnvBool("LOG_PRETTY", true),
		ServiceName:        getEnv("SERVICE_NAME", "honeyguard"),
		RequestLogPath:     getEnv("REQUEST_LOG_PATH", "logs/requests.jsonl"),
		RequestLogMaxBytes: int64(getEnvInt("REQUEST_LOG_MAX_BYTES", 64<<20)),
		UploadDir:          getEnv("UPLOAD_DIR", "uploads"),
		EventBufferSize:    getEnvInt("EVENT_BUFFER_SIZE", 500),
		TailInterval:       getEnvDuration("TAIL_INTERVAL", 10*time.Second),
		RedisHost:          getEnv("REDIS_HOST", "localhost"),
		RedisPort:          getEnvInt("REDIS_PORT", 6379),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		RedisLimDB:         getEnvInt("REDIS_LIM_DB", 1),
		PostgresURL:        getEnv("POSTGRES_URL", ""),
		GeoIPDir:           getEnv("GEOIP_DIR", "/usr/share/GeoIP"),
		GeoIPAccountID:     getEnv("GEOIPUPDATE_ACCOUNT_ID", ""),
		GeoIPLicenseKey:    getEnv("GEOIPUPDATE_LICENSE_KEY", ""),
		GeoIPDownloadURL:   getEnv("GEOIP_DOWNLOAD_URL", "https://download.maxmind.com/geoip/databases"),
		MetricsAllowedIPs:  getEnv("METRICS_ALLOWED_IPS", "127.0.0.1"),
		TrustedProxies:     getEnv("TRUSTED_PROXIES", "127.0.0.1"),
		RateLimit:          getEnvInt("RATE_LIMIT", 600),
		RatePeriod:         getEnvInt("RATE_PERIOD", 60),
		EnableAlerts:       getEnvBool("ENABLE_ALERTS", false),
		AlertWebhookURL:    getEnv("ALERT_WEBHOOK_URL", ""),
		AlertWebhookSecret: getEnv("ALERT_WEBHOOK_SECRET", ""),
		RunWorkerInProcess: getEnvBool("RUN_WORKER_IN_PROCESS", true),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		return value == "true" || value == "1"
	}
	return fallback
}

// getEnvDuration accepts Go durations ("5s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if s, err := strconv.Atoi(value); err == nil && s > 0 {
		return time.Duration(s) * time.Second
	}
	return fallback
}
