package aggregate

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"honeyguard/internal/models"
)

var fixtureEndpoints = []string{
	"/api/auth/login",
	"/api/users/profile",
	"/api/admin/users",
	"/api/v1/data/export",
	"/api/payments/process",
	"/wp-admin/admin-ajax.php",
	"/.env",
	"/api/v1/files/upload",
	"/graphql",
	"/api/auth/reset-password",
}

func fixtureIP(r *rand.Rand) string {
	firsts := []int{45, 185, 91, 194, 103}
	return fmt.Sprintf("%d.%d.%d.%d", firsts[r.Intn(len(firsts))], r.Intn(255), r.Intn(255), r.Intn(255))
}

func fixtureRisk(r *rand.Rand) models.RiskLevel {
	switch f := r.Float64(); {
	case f < 0.25:
		return models.RiskHigh
	case f < 0.6:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// randomAttacks generates count attacks spread over the 24h before now,
// newest first.
func randomAttacks(seed int64, count int, now time.Time) []models.Attack {
	r := rand.New(rand.NewSource(seed))
	out := make([]models.Attack, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, models.Attack{
			ID:             fmt.Sprintf("attack-%d-%d", i, seed),
			Timestamp:      now.Add(-time.Duration(r.Int63n(int64(24 * time.Hour)))),
			AttackerIP:     fixtureIP(r),
			TargetEndpoint: fixtureEndpoints[r.Intn(len(fixtureEndpoints))],
			AttackType:     models.AttackTypes[r.Intn(len(models.AttackTypes))],
			RiskLevel:      fixtureRisk(r),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}
