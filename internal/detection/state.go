package detection

import (
	"time"

	"honeyguard/internal/models"
)

type behaviourKind int

const (
	kindBrute behaviourKind = iota
	kindIDOR
	kindInjection
	kindAbuse
	kindRecon
)

type behaviour struct {
	at   time.Time
	kind behaviourKind
}

const (
	requestHistory     = time.Hour
	requestHistoryCap  = 5000
	failedLoginWindow  = time.Minute
	classificationSpan = 10 * time.Minute
	rateWindow         = time.Minute
)

// attackerState is everything remembered about one source address.
type attackerState struct {
	ip        string
	firstSeen time.Time
	lastSeen  time.Time
	total     int

	requests     []time.Time
	failedLogins []time.Time

	lastUserID   int
	hasLastUser  bool
	sequentialID int

	endpointCounts map[string]int
	endpointOrder  []string

	reconHits  int
	bruteEmits int
	riskScore  int
	recent     []behaviour
}

func newAttackerState(ip string, ts time.Time) *attackerState {
	return &attackerState{
		ip:             ip,
		firstSeen:      ts,
		lastSeen:       ts,
		endpointCounts: make(map[string]int),
		riskScore:      10,
	}
}

func (st *attackerState) observe(ts time.Time, endpoint string) {
	if ts.Before(st.firstSeen) {
		st.firstSeen = ts
	}
	if ts.After(st.lastSeen) {
		st.lastSeen = ts
	}
	st.total++

	st.requests = append(st.requests, ts)
	st.requests = pruneBefore(st.requests, ts.Add(-requestHistory))
	if over := len(st.requests) - requestHistoryCap; over > 0 {
		st.requests = st.requests[over:]
	}

	if _, ok := st.endpointCounts[endpoint]; !ok {
		st.endpointOrder = append(st.endpointOrder, endpoint)
	}
	st.endpointCounts[endpoint]++
}

func (st *attackerState) record(ts time.Time, kind behaviourKind) {
	st.recent = append(st.recent, behaviour{at: ts, kind: kind})
	st.pruneRecent(ts)
}

func (st *attackerState) pruneRecent(now time.Time) {
	cut := now.Add(-classificationSpan)
	i := 0
	for i < len(st.recent) && st.recent[i].at.Before(cut) {
		i++
	}
	st.recent = st.recent[i:]
}

// requestsSince counts requests at or after cut.
func (st *attackerState) requestsSince(cut time.Time) int {
	n := 0
	for i := len(st.requests) - 1; i >= 0 && !st.requests[i].Before(cut); i-- {
		n++
	}
	return n
}

func (st *attackerState) failedSince(cut time.Time) int {
	n := 0
	for _, t := range st.failedLogins {
		if !t.Before(cut) {
			n++
		}
	}
	return n
}

func (st *attackerState) countKinds(since time.Time) map[behaviourKind]int {
	counts := make(map[behaviourKind]int)
	for _, b := range st.recent {
		if !b.at.Before(since) {
			counts[b.kind]++
		}
	}
	return counts
}

// recomputeRisk scores recent behaviour so a single burst does not stick
// at 100 forever.
func (st *attackerState) recomputeRisk(now time.Time) {
	st.failedLogins = pruneBefore(st.failedLogins, now.Add(-failedLoginWindow))

	failed := len(st.failedLogins)
	rpm := st.requestsSince(now.Add(-rateWindow))
	injections := st.countKinds(now.Add(-classificationSpan))[kindInjection]

	score := 10
	score += min(40, failed*4)
	score += min(24, st.sequentialID*6)
	score += min(20, max(0, rpm-80)/8)
	score += min(15, st.reconHits*3)
	score += min(30, injections*10)

	st.riskScore = max(0, min(100, score))
}

func (st *attackerState) classify(now time.Time) models.Classification {
	counts := st.countKinds(now.Add(-classificationSpan))
	brute := counts[kindBrute]
	manual := counts[kindIDOR] + counts[kindInjection]
	abuse := counts[kindAbuse]
	recon := counts[kindRecon]

	switch {
	case st.failedSince(now.Add(-failedLoginWindow)) >= failedLoginWindowThreshold,
		brute >= 3 && brute >= max(manual, abuse, recon):
		return models.ClassBruteForcer
	case manual >= 3 && manual >= max(brute, abuse, recon):
		return models.ClassManualAttacker
	case abuse >= 3 && abuse >= max(brute, manual, recon):
		return models.ClassBotNetwork
	default:
		return models.ClassScanner
	}
}

// perMinute returns 60 buckets, oldest first, the last one ending at now.
func (st *attackerState) perMinute(now time.Time) []int {
	buckets := make([]int, 60)
	for _, t := range st.requests {
		d := now.Sub(t)
		if d < 0 {
			continue
		}
		if m := int(d / time.Minute); m < 60 {
			buckets[59-m]++
		}
	}
	return buckets
}

func (st *attackerState) targeted() []models.EndpointCount {
	out := make([]models.EndpointCount, 0, len(st.endpointOrder))
	for _, ep := range st.endpointOrder {
		out = append(out, models.EndpointCount{Endpoint: ep, Count: st.endpointCounts[ep]})
	}
	sortEndpointCounts(out)
	return out
}

// pruneBefore drops the leading entries older than cut. ts must be sorted.
func pruneBefore(ts []time.Time, cut time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cut) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
