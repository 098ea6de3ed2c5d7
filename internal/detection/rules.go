package detection

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"honeyguard/internal/models"
)

// Rule thresholds.
const (
	failedLoginWindowThreshold = 10
	bruteForceEmitEvery        = 3
	apiAbuseRPM                = 120
	timelineLength             = 20
)

var reconPaths = map[string]struct{}{
	"/.env":                    {},
	"/wp-admin":                {},
	"/wp-admin/admin-ajax.php": {},
	"/wp-login.php":            {},
	"/.git/config":             {},
	"/phpmyadmin":              {},
	"/server-status":           {},
	"/config.json":             {},
	"/actuator/env":            {},
}

var userIDPath = regexp.MustCompile(`^/api/users/(\d+)$`)

type signature struct {
	attack  models.AttackType
	pattern *regexp.Regexp
}

// Checked in order; the first match wins.
var signatures = []signature{
	{models.AttackSQLInjection, regexp.MustCompile(`(?i)(\bunion\b[\s\S]*\bselect\b|'\s*(or|and)\s+'?\d|\bor\s+1\s*=\s*1\b|;\s*(drop|delete|insert|update)\s|\bsleep\s*\(|\bbenchmark\s*\(|--\s*$|/\*.*\*/)`)},
	{models.AttackXSS, regexp.MustCompile(`(?i)(<\s*script|javascript:|\bon(error|load|mouseover|focus)\s*=|<\s*(svg|img|iframe)[^>]*\bon\w+\s*=|document\.cookie)`)},
	{models.AttackCommandInjection, regexp.MustCompile("(?i)((;|\\||&&|\\$\\(|`)\\s*(cat|ls|id|whoami|uname|wget|curl|nc|bash|sh|ping)\\b|/etc/passwd|/bin/(ba)?sh)")},
}

func isRecon(endpoint string) bool {
	if _, ok := reconPaths[endpoint]; ok {
		return true
	}
	return strings.Contains(endpoint, "..") || strings.HasPrefix(endpoint, "/wp-admin/")
}

// matchSignature inspects everything the client controls, after URL decoding.
func matchSignature(ev models.RequestEvent) (models.AttackType, bool) {
	subject := strings.Join([]string{ev.Endpoint, ev.Query, ev.LoginUsername, ev.UploadName}, "\n")
	if decoded, err := url.QueryUnescape(subject); err == nil {
		subject = decoded
	}
	for _, s := range signatures {
		if s.pattern.MatchString(subject) {
			return s.attack, true
		}
	}
	return "", false
}

func parseUserID(endpoint string) (int, bool) {
	m := userIDPath.FindStringSubmatch(endpoint)
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return id, true
}

// payloadPreview is what the dashboard shows as the attack payload.
func payloadPreview(ev models.RequestEvent) string {
	var p string
	switch {
	case ev.LoginUsername != "":
		p = "username=" + ev.LoginUsername
	case ev.UploadName != "":
		p = "file=" + ev.UploadName
	default:
		p = ev.Query
	}
	if len(p) > 256 {
		p = p[:256]
	}
	return p
}

// RiskLevelFor maps a 0..100 score to a level.
func RiskLevelFor(score int) models.RiskLevel {
	switch {
	case score >= 80:
		return models.RiskHigh
	case score >= 50:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}
