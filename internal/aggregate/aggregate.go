// Package aggregate derives dashboard statistics from a loaded slice of attacks.
// Every function is pure: the input slice is never modified and identical input
// always yields identical output.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"honeyguard/internal/models"
)

// DefaultTopN is the number of endpoints shown in the top endpoints chart.
const DefaultTopN = 5

// NoEndpoint is reported as the top endpoint when there are no attacks.
const NoEndpoint = "N/A"

// Stats is the summary shown in the dashboard stat cards.
type Stats struct {
	CountToday              int    `json:"countToday"`
	DistinctHighRiskSources int    `json:"distinctHighRiskSources"`
	TopEndpoint             string `json:"topEndpoint"`
	TopEndpointCount        int    `json:"topEndpointCount"`
}

type bucket struct {
	key   string
	count int
}

// countBy groups events by key in first-encountered order and then sorts the
// groups by descending count. The sort is stable, so ties keep the order in
// which their key first appeared in the input.
func countBy(events []models.Attack, key func(models.Attack) string) []bucket {
	index := make(map[string]int)
	var out []bucket
	for _, e := range events {
		k := key(e)
		if i, ok := index[k]; ok {
			out[i].count++
			continue
		}
		index[k] = len(out)
		out = append(out, bucket{key: k, count: 1})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].count > out[j].count })
	return out
}

func endpointKey(e models.Attack) string { return e.TargetEndpoint }

// DailyStats computes the summary cards relative to the current instant.
func DailyStats(events []models.Attack) Stats {
	return DailyStatsAt(events, time.Now())
}

// DailyStatsAt computes the summary cards relative to now. "Today" starts at
// midnight of now in now's location.
func DailyStatsAt(events []models.Attack, now time.Time) Stats {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	stats := Stats{TopEndpoint: NoEndpoint}
	highRisk := make(map[string]struct{})
	for _, e := range events {
		if !e.Timestamp.Before(midnight) {
			stats.CountToday++
		}
		if e.RiskLevel == models.RiskHigh {
			highRisk[e.AttackerIP] = struct{}{}
		}
	}
	stats.DistinctHighRiskSources = len(highRisk)

	if top := countBy(events, endpointKey); len(top) > 0 {
		stats.TopEndpoint = top[0].key
		stats.TopEndpointCount = top[0].count
	}
	return stats
}

// CategoryDistribution counts attacks per category, most frequent first.
// Categories that never occur are omitted.
func CategoryDistribution(events []models.Attack) []models.NameValue {
	groups := countBy(events, func(e models.Attack) string { return string(e.AttackType) })
	out := make([]models.NameValue, 0, len(groups))
	for _, g := range groups {
		out = append(out, models.NameValue{Name: g.key, Value: g.count})
	}
	return out
}

// TopEndpoints returns at most n endpoints ordered by attack count.
func TopEndpoints(events []models.Attack, n int) []models.EndpointAttacks {
	if n <= 0 {
		return []models.EndpointAttacks{}
	}
	groups := countBy(events, endpointKey)
	if len(groups) > n {
		groups = groups[:n]
	}
	out := make([]models.EndpointAttacks, 0, len(groups))
	for _, g := range groups {
		out = append(out, models.EndpointAttacks{Endpoint: g.key, Attacks: g.count})
	}
	return out
}

// HourlyVolume buckets attacks by local hour of day.
func HourlyVolume(events []models.Attack) []models.HourAttacks {
	return HourlyVolumeIn(events, time.Local)
}

// HourlyVolumeIn buckets attacks by hour of day in loc. The result always has
// 24 entries, "00:00" through "23:00".
func HourlyVolumeIn(events []models.Attack, loc *time.Location) []models.HourAttacks {
	if loc == nil {
		loc = time.Local
	}
	var counts [24]int
	for _, e := range events {
		counts[e.Timestamp.In(loc).Hour()]++
	}
	out := make([]models.HourAttacks, 24)
	for h := range counts {
		out[h] = models.HourAttacks{Hour: fmt.Sprintf("%02d:00", h), Attacks: counts[h]}
	}
	return out
}
