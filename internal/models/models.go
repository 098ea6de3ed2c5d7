package models

import "time"

type RiskLevel string

const (
	RiskHigh   RiskLevel = "HIGH"
	RiskMedium RiskLevel = "MEDIUM"
	RiskLow    RiskLevel = "LOW"
)

type AttackType string

const (
	AttackBruteForce         AttackType = "Brute Force"
	AttackSQLInjection       AttackType = "SQL Injection"
	AttackXSS                AttackType = "XSS"
	AttackIDOR               AttackType = "IDOR"
	AttackAPIAbuse           AttackType = "API Abuse"
	AttackPathTraversal      AttackType = "Path Traversal"
	AttackCommandInjection   AttackType = "Command Injection"
	AttackCredentialStuffing AttackType = "Credential Stuffing"
)

// AttackTypes lists every category in display order.
var AttackTypes = []AttackType{
	AttackBruteForce, AttackSQLInjection, AttackXSS, AttackIDOR,
	AttackAPIAbuse, AttackPathTraversal, AttackCommandInjection, AttackCredentialStuffing,
}

type Classification string

const (
	ClassScanner        Classification = "Scanner"
	ClassBruteForcer    Classification = "Brute-forcer"
	ClassManualAttacker Classification = "Manual Attacker"
	ClassBotNetwork     Classification = "Bot Network"
)

// Attack is one recorded malicious or suspicious HTTP interaction.
type Attack struct {
	ID             string     `json:"id" db:"id"`
	Timestamp      time.Time  `json:"timestamp" db:"timestamp"`
	AttackerIP     string     `json:"attackerIP" db:"attacker_ip"`
	TargetEndpoint string     `json:"targetEndpoint" db:"target_endpoint"`
	AttackType     AttackType `json:"attackType" db:"attack_type"`
	RiskLevel      RiskLevel  `json:"riskLevel" db:"risk_level"`
	UserAgent      string     `json:"userAgent,omitempty" db:"user_agent"`
	Payload        string     `json:"payload,omitempty" db:"payload"`
}

type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Count    int    `json:"count"`
}

// AttackerProfile is the aggregated view of all activity from one source address.
type AttackerProfile struct {
	IP                string          `json:"ip"`
	RiskScore         int             `json:"riskScore"`
	Classification    Classification  `json:"classification"`
	FirstSeen         time.Time       `json:"firstSeen"`
	LastSeen          time.Time       `json:"lastSeen"`
	TotalRequests     int             `json:"totalRequests"`
	RequestsPerMinute []int           `json:"requestsPerMinute"`
	AttackTimeline    []Attack        `json:"attackTimeline"`
	TargetedEndpoints []EndpointCount `json:"targetedEndpoints"`
	Country           string          `json:"country,omitempty"`
	ISP               string          `json:"isp,omitempty"`
}

type NameValue struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type EndpointAttacks struct {
	Endpoint string `json:"endpoint"`
	Attacks  int    `json:"attacks"`
}

type HourAttacks struct {
	Hour    string `json:"hour"`
	Attacks int    `json:"attacks"`
}

// Analytics is the precomputed aggregate payload of /api/analytics.
type Analytics struct {
	AttackTypeDistribution []NameValue       `json:"attackTypeDistribution"`
	TopEndpoints           []EndpointAttacks `json:"topEndpoints"`
	HourlyAttackVolume     []HourAttacks     `json:"hourlyAttackVolume"`
}

// RequestEvent is one line of the structured request log.
type RequestEvent struct {
	Timestamp      string `json:"timestamp"`
	IP             string `json:"ip"`
	Endpoint       string `json:"endpoint"`
	Method         string `json:"method"`
	StatusCode     int    `json:"status_code"`
	AuthSuccess    *bool  `json:"auth_success"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	PayloadSize    int64  `json:"payload_size"`
	UserAgent      string `json:"user_agent"`
	RequestID      string `json:"request_id"`
	Query          string `json:"query,omitempty"`
	LoginUsername  string `json:"login_username,omitempty"`
	UploadName     string `json:"upload_name,omitempty"`
	// Operator marks requests to the ops and dashboard feed routes.
	Operator       bool   `json:"operator,omitempty"`
}

// LifetimeStats are the counters kept across restarts.
type LifetimeStats struct {
	Total     int         `json:"total"`
	LastHour  int         `json:"last_hour"`
	Attackers int         `json:"attackers"`
	TopTypes  []NameValue `json:"top_types"`
}
