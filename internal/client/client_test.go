package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"honeyguard/internal/models"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL), srv
}

func TestFetchAttacks(t *testing.T) {
	var gotQuery string
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/attacks", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"attacks":[
			{"id":"a1","timestamp":"2026-02-01T10:15:00Z","attackerIP":"1.2.3.4","targetEndpoint":"/login","attackType":"Brute Force","riskLevel":"HIGH","userAgent":"curl/8.0","payload":null},
			{"id":"a2","timestamp":"2026-02-01T09:00:00.123456+00:00","attackerIP":"5.6.7.8","targetEndpoint":"/.env","attackType":"Path Traversal","riskLevel":"LOW"}
		]}`))
	})

	attacks, err := c.FetchAttacks(context.Background(), 25)
	require.NoError(t, err)
	assert.Equal(t, "limit=25", gotQuery)
	require.Len(t, attacks, 2)

	assert.Equal(t, "a1", attacks[0].ID)
	assert.True(t, attacks[0].Timestamp.Equal(time.Date(2026, 2, 1, 10, 15, 0, 0, time.UTC)))
	assert.Equal(t, models.AttackBruteForce, attacks[0].AttackType)
	assert.Equal(t, models.RiskHigh, attacks[0].RiskLevel)
	assert.Equal(t, "curl/8.0", attacks[0].UserAgent)
	assert.Empty(t, attacks[0].Payload)

	assert.Equal(t, 123456000, attacks[1].Timestamp.Nanosecond())
}

func TestFetchAttacks_MissingListIsEmpty(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	attacks, err := c.FetchAttacks(context.Background(), 50)
	require.NoError(t, err)
	assert.NotNil(t, attacks)
	assert.Empty(t, attacks)
}

func TestFetchAttacks_MalformedTimestampFallsBackToNow(t *testing.T) {
	fixed := time.Date(2026, 5, 5, 5, 5, 5, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"attacks":[{"id":"x","timestamp":"not-a-date"},{"id":"y","timestamp":null}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithClock(func() time.Time { return fixed }))
	attacks, err := c.FetchAttacks(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, attacks, 2)
	assert.Equal(t, fixed, attacks[0].Timestamp)
	assert.Equal(t, fixed, attacks[1].Timestamp)
}

func TestParseTimestamp_NotADateIsNowLike(t *testing.T) {
	c := New("")
	before := time.Now()
	ts := c.parseTimestamp("not-a-date")
	after := time.Now()

	assert.False(t, ts.IsZero())
	assert.False(t, ts.Before(before))
	assert.False(t, ts.After(after))
}

func TestParseTimestamp_Layouts(t *testing.T) {
	c := New("", WithClock(func() time.Time { return time.Time{} }))

	assert.True(t, c.parseTimestamp("2026-01-02").Equal(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.True(t, c.parseTimestamp("2026-01-02T03:04:05").Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)))
	assert.True(t, c.parseTimestamp("2026-01-02T03:04:05+02:00").Equal(time.Date(2026, 1, 2, 1, 4, 5, 0, time.UTC)))
	assert.True(t, c.parseTimestamp("2026-13-40T99:00:00Z").IsZero())
}

func TestFetchAttacks_ServerErrorReturnsStatus(t *testing.T) {
	calls := 0
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})

	attacks, err := c.FetchAttacks(context.Background(), 50)
	require.Error(t, err)
	assert.Nil(t, attacks)
	assert.Equal(t, 1, calls, "no retry expected")

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
	assert.Equal(t, "/api/attacks?limit=50", te.Path)
	assert.Contains(t, err.Error(), "500")
}

func TestFetchAttacks_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url).FetchAttacks(context.Background(), 10)
	require.Error(t, err)
	assert.True(t, IsTransportError(err))

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Zero(t, te.StatusCode)
	assert.NotNil(t, te.Err)
}

func TestFetchAttackerProfile(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/attacker/1.2.3.4", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"ip":"1.2.3.4","riskScore":86,"classification":"Brute-forcer",
			"firstSeen":"2026-02-01T08:00:00Z","lastSeen":"garbage",
			"totalRequests":42,"requestsPerMinute":[1,2,3],
			"attackTimeline":[{"id":"t1","timestamp":"2026-02-01T08:30:00Z","attackerIP":"1.2.3.4","targetEndpoint":"/login","attackType":"Credential Stuffing","riskLevel":"MEDIUM"}],
			"targetedEndpoints":[{"endpoint":"/login","count":40},{"endpoint":"/.env","count":2}],
			"country":"NL","isp":"Hetzner"
		}`))
	})

	before := time.Now()
	p, err := c.FetchAttackerProfile(context.Background(), "1.2.3.4")
	require.NoError(t, err)

	assert.Equal(t, 86, p.RiskScore)
	assert.Equal(t, models.ClassBruteForcer, p.Classification)
	assert.True(t, p.FirstSeen.Equal(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)))
	assert.False(t, p.LastSeen.Before(before), "unparseable lastSeen should fall back to now")
	require.Len(t, p.AttackTimeline, 1)
	assert.Equal(t, models.AttackCredentialStuffing, p.AttackTimeline[0].AttackType)
	assert.Equal(t, []models.EndpointCount{{Endpoint: "/login", Count: 40}, {Endpoint: "/.env", Count: 2}}, p.TargetedEndpoints)
	assert.Equal(t, "Hetzner", p.ISP)
}

func TestFetchAttackerProfile_EscapesAddress(t *testing.T) {
	var rawPath string
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		rawPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"ip":"fe80::1%eth0"}`))
	})
	_, err := c.FetchAttackerProfile(context.Background(), "fe80::1%eth0")
	require.NoError(t, err)
	assert.Equal(t, "/api/attacker/fe80::1%25eth0", rawPath)
}

func TestFetchAnalytics_Passthrough(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analytics", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"attackTypeDistribution":[{"name":"XSS","value":3}],
			"topEndpoints":[{"endpoint":"/graphql","attacks":3}],
			"hourlyAttackVolume":[{"hour":"00:00","attacks":3}]
		}`))
	})

	a, err := c.FetchAnalytics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.NameValue{{Name: "XSS", Value: 3}}, a.AttackTypeDistribution)
	assert.Equal(t, []models.EndpointAttacks{{Endpoint: "/graphql", Attacks: 3}}, a.TopEndpoints)
	assert.Equal(t, []models.HourAttacks{{Hour: "00:00", Attacks: 3}}, a.HourlyAttackVolume)
}

func TestFetchAnalytics_NotFound(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	_, err := c.FetchAnalytics(context.Background())
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
}
