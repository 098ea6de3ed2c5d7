package dashboard

import (
	"context"
	"sort"
	"sync"
	"time"

	"honeyguard/internal/aggregate"
	"honeyguard/internal/models"
)

// Source is the read side of the honeypot API.
type Source interface {
	FetchAttacks(ctx context.Context, limit int) ([]models.Attack, error)
	FetchAttackerProfile(ctx context.Context, ip string) (*models.AttackerProfile, error)
	FetchAnalytics(ctx context.Context) (*models.Analytics, error)
}

type Dashboard struct {
	source    Source
	Attacks   *Poller[[]models.Attack]
	Analytics *Poller[*models.Analytics]
	now       func() time.Time
}

func New(source Source, limit int) *Dashboard {
	if limit <= 0 {
		limit = 50
	}
	return &Dashboard{
		source: source,
		Attacks: NewPoller("attacks", func(ctx context.Context) ([]models.Attack, error) {
			return source.FetchAttacks(ctx, limit)
		}),
		Analytics: NewPoller("analytics", source.FetchAnalytics),
		now:       time.Now,
	}
}

// View is everything the overview and analytics pages render.
type View struct {
	Attacks      []models.Attack
	Stats        aggregate.Stats
	Distribution []models.NameValue
	TopEndpoints []models.EndpointAttacks
	Hourly       []models.HourAttacks
	// Analytics is the server-side aggregate, nil until first loaded.
	Analytics *models.Analytics
	UpdatedAt time.Time
	// Stale is set when the most recent poll of either resource failed.
	Stale bool
}

// View derives the current view from the stored resources. Attacks are
// ordered newest first.
func (d *Dashboard) View() View {
	attacks := d.Attacks.Snapshot()
	analytics := d.Analytics.Snapshot()

	events := make([]models.Attack, len(attacks.Value))
	copy(events, attacks.Value)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })

	return View{
		Attacks:      events,
		Stats:        aggregate.DailyStatsAt(events, d.now()),
		Distribution: aggregate.CategoryDistribution(events),
		TopEndpoints: aggregate.TopEndpoints(events, aggregate.DefaultTopN),
		Hourly:       aggregate.HourlyVolume(events),
		Analytics:    analytics.Value,
		UpdatedAt:    attacks.UpdatedAt,
		Stale:        attacks.Err != nil || analytics.Err != nil,
	}
}

// Profile fetches one attacker profile on demand. It is not polled.
func (d *Dashboard) Profile(ctx context.Context, ip string) (*models.AttackerProfile, error) {
	return d.source.FetchAttackerProfile(ctx, ip)
}

// Run keeps both resources fresh until ctx is done and calls render with the
// derived view after each successful refresh.
func (d *Dashboard) Run(ctx context.Context, interval time.Duration, render func(View)) {
	if render != nil {
		d.Attacks.OnUpdate(func([]models.Attack) { render(d.View()) })
		d.Analytics.OnUpdate(func(*models.Analytics) { render(d.View()) })
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.Attacks.Run(ctx, interval)
	}()
	go func() {
		defer wg.Done()
		d.Analytics.Run(ctx, interval)
	}()
	wg.Wait()
}
