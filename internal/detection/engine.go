// Package detection turns structured request telemetry into attack events
// and keeps per-source behaviour profiles.
package detection

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	zlog "github.com/rs/zerolog/log"

	"honeyguard/internal/aggregate"
	"honeyguard/internal/metrics"
	"honeyguard/internal/models"
)

const (
	DefaultBufferSize = 500
	unknown           = "Unknown"
	seenIDCapacity    = 100000
)

// Enricher resolves location and network owner of an address.
type Enricher interface {
	Lookup(ip string) (country, isp string)
}

type Engine struct {
	mu        sync.Mutex
	capacity  int
	attacks   []models.Attack
	attackers map[string]*attackerState

	seenFilter *bloom.BloomFilter
	seenIDs    *lru.Cache[string, struct{}]

	enricher  Enricher
	listeners []func(models.Attack)
	now       func() time.Time
}

type Option func(*Engine)

func WithEnricher(en Enricher) Option {
	return func(e *Engine) { e.enricher = en }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(capacity int, opts ...Option) *Engine {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	ids, _ := lru.New[string, struct{}](seenIDCapacity)
	e := &Engine{
		capacity:   capacity,
		attacks:    make([]models.Attack, 0, capacity),
		attackers:  make(map[string]*attackerState),
		seenFilter: bloom.NewWithEstimates(1000000, 0.001),
		seenIDs:    ids,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnAttack registers fn to receive every emitted attack. Callbacks run on the
// caller's goroutine after the engine lock is released.
func (e *Engine) OnAttack(fn func(models.Attack)) {
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

// Process feeds one request event through the rules. It reports the emitted
// attack, if any. Operator events and events whose request id was already
// processed are ignored.
func (e *Engine) Process(ev models.RequestEvent) (models.Attack, bool) {
	if ev.Operator {
		return models.Attack{}, false
	}
	e.mu.Lock()
	if e.alreadySeen(ev.RequestID) {
		e.mu.Unlock()
		return models.Attack{}, false
	}
	attack, ok := e.process(ev)
	listeners := e.listeners
	e.mu.Unlock()

	if !ok {
		return attack, false
	}
	metrics.MetricAttacksTotal.WithLabelValues(string(attack.AttackType), string(attack.RiskLevel)).Inc()
	for _, fn := range listeners {
		fn(attack)
	}
	return attack, true
}

// alreadySeen marks id as processed and reports whether it had been before.
// The bloom filter answers the common case; positives are confirmed against
// the exact recent-id cache.
func (e *Engine) alreadySeen(id string) bool {
	if id == "" {
		return false
	}
	if !e.seenFilter.TestAndAddString(id) {
		e.seenIDs.Add(id, struct{}{})
		return false
	}
	if e.seenIDs.Contains(id) {
		return true
	}
	e.seenIDs.Add(id, struct{}{})
	return false
}

func (e *Engine) process(ev models.RequestEvent) (models.Attack, bool) {
	ip := strings.TrimSpace(ev.IP)
	if ip == "" {
		ip = "unknown"
	}
	ts := e.parseTimestamp(ev.Timestamp)

	st, ok := e.attackers[ip]
	if !ok {
		st = newAttackerState(ip, ts)
		e.attackers[ip] = st
	}
	st.observe(ts, ev.Endpoint)

	if isRecon(ev.Endpoint) {
		st.reconHits++
		st.record(ts, kindRecon)
		st.recomputeRisk(ts)
		return e.emit(st, ev, ts, models.AttackPathTraversal), true
	}

	if attack, hit := matchSignature(ev); hit {
		st.record(ts, kindInjection)
		st.recomputeRisk(ts)
		return e.emit(st, ev, ts, attack), true
	}

	if ev.Endpoint == "/login" && ev.AuthSuccess != nil && !*ev.AuthSuccess {
		st.failedLogins = append(st.failedLogins, ts)
		st.record(ts, kindBrute)
		st.recomputeRisk(ts)
		if len(st.failedLogins) >= failedLoginWindowThreshold {
			st.bruteEmits++
			if st.bruteEmits%bruteForceEmitEvery != 0 {
				return models.Attack{}, false
			}
			return e.emit(st, ev, ts, models.AttackBruteForce), true
		}
		return e.emit(st, ev, ts, models.AttackCredentialStuffing), true
	}

	if id, ok := parseUserID(ev.Endpoint); ok {
		if st.hasLastUser && id == st.lastUserID+1 {
			st.sequentialID++
		} else {
			st.sequentialID = 0
		}
		st.lastUserID = id
		st.hasLastUser = true
		st.recomputeRisk(ts)
		if st.sequentialID >= 1 {
			st.record(ts, kindIDOR)
			return e.emit(st, ev, ts, models.AttackIDOR), true
		}
	}

	st.recomputeRisk(ts)
	if st.requestsSince(ts.Add(-rateWindow)) > apiAbuseRPM {
		st.record(ts, kindAbuse)
		return e.emit(st, ev, ts, models.AttackAPIAbuse), true
	}

	if ev.StatusCode >= 400 {
		st.record(ts, kindRecon)
		return e.emit(st, ev, ts, models.AttackAPIAbuse), true
	}
	return models.Attack{}, false
}

// emit appends an attack to the ring buffer. The caller holds the lock.
func (e *Engine) emit(st *attackerState, ev models.RequestEvent, ts time.Time, attack models.AttackType) models.Attack {
	id := ev.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	a := models.Attack{
		ID:             id,
		Timestamp:      ts,
		AttackerIP:     st.ip,
		TargetEndpoint: ev.Endpoint,
		AttackType:     attack,
		RiskLevel:      RiskLevelFor(st.riskScore),
		UserAgent:      ev.UserAgent,
		Payload:        payloadPreview(ev),
	}

	if len(e.attacks) == e.capacity {
		copy(e.attacks, e.attacks[1:])
		e.attacks[len(e.attacks)-1] = a
	} else {
		e.attacks = append(e.attacks, a)
	}

	zlog.Debug().
		Str("ip", a.AttackerIP).
		Str("endpoint", a.TargetEndpoint).
		Str("type", string(a.AttackType)).
		Str("risk", string(a.RiskLevel)).
		Msg("Attack detected")
	return a
}

func (e *Engine) parseTimestamp(s string) time.Time {
	if s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	return e.now().UTC()
}

// RecentAttacks returns up to limit attacks, newest first.
func (e *Engine) RecentAttacks(limit int) []models.Attack {
	e.mu.Lock()
	defer e.mu.Unlock()

	if limit < 1 {
		limit = 1
	}
	n := min(limit, len(e.attacks))
	out := make([]models.Attack, 0, n)
	for i := len(e.attacks) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, e.attacks[i])
	}
	return out
}

// AttackerProfile builds the profile of ip as of now. An address never seen
// yields a zeroed profile.
func (e *Engine) AttackerProfile(ip string) models.AttackerProfile {
	now := e.now().UTC()

	e.mu.Lock()
	st, ok := e.attackers[ip]
	if !ok {
		e.mu.Unlock()
		return models.AttackerProfile{
			IP:                ip,
			RiskScore:         0,
			Classification:    models.ClassScanner,
			FirstSeen:         now,
			LastSeen:          now,
			RequestsPerMinute: make([]int, 60),
			AttackTimeline:    []models.Attack{},
			TargetedEndpoints: []models.EndpointCount{},
			Country:           unknown,
			ISP:               unknown,
		}
	}

	profile := models.AttackerProfile{
		IP:                ip,
		RiskScore:         max(0, min(100, st.riskScore)),
		Classification:    st.classify(now),
		FirstSeen:         st.firstSeen,
		LastSeen:          st.lastSeen,
		TotalRequests:     st.total,
		RequestsPerMinute: st.perMinute(now),
		AttackTimeline:    e.timeline(ip, timelineLength),
		TargetedEndpoints: st.targeted(),
		Country:           unknown,
		ISP:               unknown,
	}
	e.mu.Unlock()

	if e.enricher != nil {
		country, isp := e.enricher.Lookup(ip)
		if country != "" {
			profile.Country = country
		}
		if isp != "" {
			profile.ISP = isp
		}
	}
	return profile
}

// timeline returns the last limit attacks of ip in chronological order.
func (e *Engine) timeline(ip string, limit int) []models.Attack {
	var out []models.Attack
	for i := len(e.attacks) - 1; i >= 0 && len(out) < limit; i-- {
		if e.attacks[i].AttackerIP == ip {
			out = append(out, e.attacks[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if out == nil {
		out = []models.Attack{}
	}
	return out
}

// Analytics aggregates the buffered attacks. Hours are UTC.
func (e *Engine) Analytics() models.Analytics {
	events := e.RecentAttacks(e.capacity)
	return models.Analytics{
		AttackTypeDistribution: aggregate.CategoryDistribution(events),
		TopEndpoints:           aggregate.TopEndpoints(events, aggregate.DefaultTopN),
		HourlyAttackVolume:     aggregate.HourlyVolumeIn(events, time.UTC),
	}
}

// Attackers returns the number of distinct source addresses seen.
func (e *Engine) Attackers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.attackers)
}

func sortEndpointCounts(in []models.EndpointCount) {
	sort.SliceStable(in, func(i, j int) bool { return in[i].Count > in[j].Count })
}
