package detection

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"honeyguard/internal/models"
)

var base = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(capacity int) *Engine {
	return New(capacity, WithClock(func() time.Time { return base }))
}

func event(ip, endpoint string, at time.Time) models.RequestEvent {
	return models.RequestEvent{
		Timestamp:  at.Format(time.RFC3339Nano),
		IP:         ip,
		Endpoint:   endpoint,
		Method:     "GET",
		StatusCode: 200,
	}
}

func failedLogin(ip string, at time.Time) models.RequestEvent {
	ev := event(ip, "/login", at)
	ev.Method = "POST"
	f := false
	ev.AuthSuccess = &f
	ev.LoginUsername = "admin"
	return ev
}

func TestProcess_ReconPath(t *testing.T) {
	e := newTestEngine(10)
	a, ok := e.Process(event("1.1.1.1", "/.env", base))
	require.True(t, ok)
	assert.Equal(t, models.AttackPathTraversal, a.AttackType)
	assert.Equal(t, models.RiskLow, a.RiskLevel)

	a, ok = e.Process(event("1.1.1.1", "/static/../../etc/hosts", base))
	require.True(t, ok)
	assert.Equal(t, models.AttackPathTraversal, a.AttackType)
}

func TestProcess_Signatures(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  models.AttackType
	}{
		{"sqli union", "id=1%20UNION%20SELECT%20password%20FROM%20users", models.AttackSQLInjection},
		{"sqli tautology", "name=' OR '1'='1", models.AttackSQLInjection},
		{"xss", "q=<script>alert(1)</script>", models.AttackXSS},
		{"xss handler", "q=%3Cimg%20src=x%20onerror=alert(1)%3E", models.AttackXSS},
		{"command", "host=127.0.0.1;cat /etc/passwd", models.AttackCommandInjection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(10)
			ev := event("2.2.2.2", "/api/search", base)
			ev.Query = tt.query
			a, ok := e.Process(ev)
			require.True(t, ok)
			assert.Equal(t, tt.want, a.AttackType)
			assert.Equal(t, tt.query, a.Payload)
		})
	}
}

func TestProcess_BenignRequestNotEmitted(t *testing.T) {
	e := newTestEngine(10)
	ev := event("3.3.3.3", "/health", base)
	ev.Query = "verbose=1"
	_, ok := e.Process(ev)
	assert.False(t, ok)
	assert.Empty(t, e.RecentAttacks(10))
	assert.Equal(t, 1, e.Attackers())
}

func TestProcess_FailedLoginsEscalate(t *testing.T) {
	e := newTestEngine(100)
	var types []models.AttackType
	for i := 0; i < 15; i++ {
		a, ok := e.Process(failedLogin("4.4.4.4", base.Add(time.Duration(i)*time.Second)))
		if ok {
			types = append(types, a.AttackType)
		}
	}

	// 9 credential stuffing, then failures 10..15 emit every third.
	require.Len(t, types, 11)
	for _, ty := range types[:9] {
		assert.Equal(t, models.AttackCredentialStuffing, ty)
	}
	assert.Equal(t, []models.AttackType{models.AttackBruteForce, models.AttackBruteForce}, types[9:])

	last := e.RecentAttacks(1)[0]
	assert.Equal(t, "username=admin", last.Payload)
	assert.Equal(t, models.RiskMedium, last.RiskLevel, "10 + min(40, 15*4) = 50")
}

func TestProcess_FailedLoginWindowExpires(t *testing.T) {
	e := newTestEngine(100)
	for i := 0; i < 9; i++ {
		e.Process(failedLogin("5.5.5.5", base.Add(time.Duration(i)*time.Second)))
	}
	a, ok := e.Process(failedLogin("5.5.5.5", base.Add(5*time.Minute)))
	require.True(t, ok)
	assert.Equal(t, models.AttackCredentialStuffing, a.AttackType)
}

func TestProcess_SequentialUserIDs(t *testing.T) {
	e := newTestEngine(100)
	_, ok := e.Process(event("6.6.6.6", "/api/users/1", base))
	assert.False(t, ok, "first id is not an enumeration yet")

	for i := 2; i <= 4; i++ {
		a, ok := e.Process(event("6.6.6.6", fmt.Sprintf("/api/users/%d", i), base.Add(time.Duration(i)*time.Second)))
		require.True(t, ok)
		assert.Equal(t, models.AttackIDOR, a.AttackType)
	}

	_, ok = e.Process(event("6.6.6.6", "/api/users/42", base.Add(10*time.Second)))
	assert.False(t, ok, "a jump resets the streak")
}

func TestProcess_RateAbuse(t *testing.T) {
	e := newTestEngine(500)
	var abuse int
	for i := 0; i < 130; i++ {
		a, ok := e.Process(event("7.7.7.7", "/api/products", base.Add(time.Duration(i)*100*time.Millisecond)))
		if ok && a.AttackType == models.AttackAPIAbuse {
			abuse++
		}
	}
	assert.Equal(t, 10, abuse)
}

func TestProcess_ClientErrorsAreLowRiskAbuse(t *testing.T) {
	e := newTestEngine(10)
	ev := event("8.8.8.8", "/nope", base)
	ev.StatusCode = 404
	a, ok := e.Process(ev)
	require.True(t, ok)
	assert.Equal(t, models.AttackAPIAbuse, a.AttackType)
	assert.Equal(t, models.RiskLow, a.RiskLevel)
}

func TestProcess_DeduplicatesRequestIDs(t *testing.T) {
	e := newTestEngine(10)
	ev := event("9.9.9.9", "/.env", base)
	ev.RequestID = "req-1"

	a, ok := e.Process(ev)
	require.True(t, ok)
	assert.Equal(t, "req-1", a.ID)

	_, ok = e.Process(ev)
	assert.False(t, ok)
	assert.Len(t, e.RecentAttacks(10), 1)
	assert.Equal(t, 1, e.AttackerProfile("9.9.9.9").TotalRequests)
}

func TestProcess_GeneratesIDs(t *testing.T) {
	e := newTestEngine(10)
	a1, _ := e.Process(event("1.0.0.1", "/.env", base))
	a2, _ := e.Process(event("1.0.0.1", "/.env", base))
	assert.NotEmpty(t, a1.ID)
	assert.NotEqual(t, a1.ID, a2.ID)
}

func TestProcess_MalformedTimestampUsesClock(t *testing.T) {
	e := newTestEngine(10)
	ev := event("1.0.0.2", "/.env", base)
	ev.Timestamp = "yesterday"
	a, ok := e.Process(ev)
	require.True(t, ok)
	assert.Equal(t, base, a.Timestamp)
}

func TestRecentAttacks_NewestFirstAndBounded(t *testing.T) {
	e := newTestEngine(3)
	for i := 0; i < 5; i++ {
		ev := event("1.0.0.3", "/.env", base.Add(time.Duration(i)*time.Second))
		ev.RequestID = fmt.Sprintf("r%d", i)
		e.Process(ev)
	}

	all := e.RecentAttacks(50)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"r4", "r3", "r2"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.Len(t, e.RecentAttacks(0), 1)
}

func TestOnAttack(t *testing.T) {
	e := newTestEngine(10)
	var got []models.Attack
	e.OnAttack(func(a models.Attack) {
		got = append(got, a)
		// Re-entrant reads must not deadlock.
		_ = e.RecentAttacks(1)
	})

	e.Process(event("1.0.0.4", "/.env", base))
	e.Process(event("1.0.0.4", "/fine", base))
	require.Len(t, got, 1)
	assert.Equal(t, models.AttackPathTraversal, got[0].AttackType)
}

type stubEnricher struct{}

func (stubEnricher) Lookup(ip string) (string, string) { return "DE", "" }

func TestAttackerProfile(t *testing.T) {
	e := New(100, WithClock(func() time.Time { return base.Add(30 * time.Second) }), WithEnricher(stubEnricher{}))
	for i := 0; i < 12; i++ {
		e.Process(failedLogin("10.0.0.1", base.Add(time.Duration(i)*time.Second)))
	}
	e.Process(event("10.0.0.1", "/.env", base.Add(20*time.Second)))
	e.Process(event("10.0.0.1", "/.env", base.Add(21*time.Second)))

	p := e.AttackerProfile("10.0.0.1")
	assert.Equal(t, 14, p.TotalRequests)
	assert.Equal(t, models.ClassBruteForcer, p.Classification)
	assert.Equal(t, 10+40+6, p.RiskScore)
	assert.Equal(t, base, p.FirstSeen)
	assert.Equal(t, base.Add(21*time.Second), p.LastSeen)
	assert.Equal(t, []models.EndpointCount{{Endpoint: "/login", Count: 12}, {Endpoint: "/.env", Count: 2}}, p.TargetedEndpoints)
	assert.Equal(t, "DE", p.Country)
	assert.Equal(t, "Unknown", p.ISP)

	require.Len(t, p.RequestsPerMinute, 60)
	assert.Equal(t, 14, p.RequestsPerMinute[59])

	require.NotEmpty(t, p.AttackTimeline)
	for i := 1; i < len(p.AttackTimeline); i++ {
		assert.False(t, p.AttackTimeline[i].Timestamp.Before(p.AttackTimeline[i-1].Timestamp))
	}
}

func TestAttackerProfile_TimelineCapped(t *testing.T) {
	e := newTestEngine(100)
	for i := 0; i < 30; i++ {
		e.Process(event("10.0.0.2", "/.env", base.Add(time.Duration(i)*time.Second)))
	}
	assert.Len(t, e.AttackerProfile("10.0.0.2").AttackTimeline, timelineLength)
}

func TestAttackerProfile_Unknown(t *testing.T) {
	e := newTestEngine(10)
	p := e.AttackerProfile("203.0.113.9")
	assert.Equal(t, 0, p.RiskScore)
	assert.Equal(t, models.ClassScanner, p.Classification)
	assert.Equal(t, base, p.FirstSeen)
	assert.Equal(t, make([]int, 60), p.RequestsPerMinute)
	assert.Empty(t, p.AttackTimeline)
	assert.NotNil(t, p.TargetedEndpoints)
	assert.Equal(t, "Unknown", p.Country)
}

func TestClassification(t *testing.T) {
	t.Run("manual attacker", func(t *testing.T) {
		e := newTestEngine(100)
		for i := 1; i <= 5; i++ {
			e.Process(event("11.0.0.1", fmt.Sprintf("/api/users/%d", i), base.Add(time.Duration(i)*time.Second)))
		}
		assert.Equal(t, models.ClassManualAttacker, e.AttackerProfile("11.0.0.1").Classification)
	})
	t.Run("bot network", func(t *testing.T) {
		e := newTestEngine(500)
		for i := 0; i < 130; i++ {
			e.Process(event("11.0.0.2", "/api/products", base.Add(time.Duration(i)*100*time.Millisecond)))
		}
		assert.Equal(t, models.ClassBotNetwork, e.AttackerProfile("11.0.0.2").Classification)
	})
	t.Run("scanner", func(t *testing.T) {
		e := newTestEngine(100)
		for _, p := range []string{"/.env", "/wp-admin", "/.git/config"} {
			e.Process(event("11.0.0.3", p, base))
		}
		assert.Equal(t, models.ClassScanner, e.AttackerProfile("11.0.0.3").Classification)
	})
	t.Run("old behaviour expires", func(t *testing.T) {
		e := New(100, WithClock(func() time.Time { return base.Add(time.Hour) }))
		for i := 1; i <= 5; i++ {
			e.Process(event("11.0.0.4", fmt.Sprintf("/api/users/%d", i), base.Add(time.Duration(i)*time.Second)))
		}
		assert.Equal(t, models.ClassScanner, e.AttackerProfile("11.0.0.4").Classification)
	})
}

func TestRiskScoreBounds(t *testing.T) {
	e := newTestEngine(500)
	for i := 0; i < 5; i++ {
		e.Process(event("12.0.0.1", "/.env", base))
	}
	for i := 0; i < 200; i++ {
		at := base.Add(time.Duration(i) * 100 * time.Millisecond)
		if i%10 == 0 {
			ev := event("12.0.0.1", "/api/search", at)
			ev.Query = "u=' OR 1=1 --"
			e.Process(ev)
		}
		e.Process(failedLogin("12.0.0.1", at))
	}

	p := e.AttackerProfile("12.0.0.1")
	assert.Equal(t, 100, p.RiskScore)
	assert.Equal(t, models.RiskHigh, RiskLevelFor(p.RiskScore))
	assert.Equal(t, models.RiskHigh, e.RecentAttacks(1)[0].RiskLevel)
}

func TestRiskLevelFor(t *testing.T) {
	assert.Equal(t, models.RiskHigh, RiskLevelFor(80))
	assert.Equal(t, models.RiskMedium, RiskLevelFor(79))
	assert.Equal(t, models.RiskMedium, RiskLevelFor(50))
	assert.Equal(t, models.RiskLow, RiskLevelFor(49))
}

func TestAnalytics(t *testing.T) {
	e := newTestEngine(100)
	e.Process(event("13.0.0.1", "/.env", base))
	e.Process(event("13.0.0.1", "/.env", base.Add(time.Hour)))
	ev := event("13.0.0.2", "/api/search", base)
	ev.Query = "q=<script>"
	e.Process(ev)

	a := e.Analytics()
	assert.Equal(t, []models.NameValue{{Name: "Path Traversal", Value: 2}, {Name: "XSS", Value: 1}}, a.AttackTypeDistribution)
	assert.Equal(t, models.EndpointAttacks{Endpoint: "/.env", Attacks: 2}, a.TopEndpoints[0])
	require.Len(t, a.HourlyAttackVolume, 24)
	assert.Equal(t, 2, a.HourlyAttackVolume[12].Attacks)
	assert.Equal(t, 1, a.HourlyAttackVolume[13].Attacks)
}
