package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"honeyguard/internal/client"
	"honeyguard/internal/config"
	"honeyguard/internal/dashboard"
	"honeyguard/internal/logger"
	"honeyguard/internal/models"
)

func main() {
	cfg := config.Load()
	cfg.ServiceName += "-dashboard"
	logger.Init(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.New(cfg.APIBase)
	d := dashboard.New(api, cfg.PollLimit)

	if cfg.DashboardProfileIP != "" {
		fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		p, err := d.Profile(fetchCtx, cfg.DashboardProfileIP)
		if err != nil {
			zlog.Fatal().Err(err).Str("ip", cfg.DashboardProfileIP).Msg("Failed to load attacker profile")
		}
		renderProfile(p)
		return
	}

	zlog.Info().Str("api", cfg.APIBase).Dur("interval", cfg.PollInterval).Msg("Dashboard polling")
	d.Run(ctx, cfg.PollInterval, renderView)
	zlog.Info().Msg("Dashboard stopped")
}

func renderView(v dashboard.View) {
	ev := zlog.Info().
		Int("attacks_today", v.Stats.CountToday).
		Int("high_risk_sources", v.Stats.DistinctHighRiskSources).
		Str("top_endpoint", v.Stats.TopEndpoint).
		Int("top_endpoint_count", v.Stats.TopEndpointCount).
		Bool("stale", v.Stale)

	dist := zerolog.Dict()
	for _, nv := range v.Distribution {
		dist.Int(nv.Name, nv.Value)
	}
	ev = ev.Dict("distribution", dist)
	if len(v.Attacks) > 0 {
		latest := v.Attacks[0]
		ev = ev.Str("latest", string(latest.AttackType)+" "+latest.AttackerIP+" "+latest.TargetEndpoint)
	}
	ev.Msg("Dashboard refreshed")

	for _, a := range v.Attacks[:min(len(v.Attacks), 5)] {
		logAttack(zlog.Debug(), a).Msg("Recent attack")
	}
}

func renderProfile(p *models.AttackerProfile) {
	zlog.Info().
		Str("ip", p.IP).
		Int("risk_score", p.RiskScore).
		Str("classification", string(p.Classification)).
		Time("first_seen", p.FirstSeen).
		Time("last_seen", p.LastSeen).
		Int("total_requests", p.TotalRequests).
		Ints("requests_per_minute", p.RequestsPerMinute).
		Str("country", p.Country).
		Str("isp", p.ISP).
		Msg("Attacker profile")

	for _, e := range p.TargetedEndpoints {
		zlog.Info().Str("endpoint", e.Endpoint).Int("count", e.Count).Msg("Targeted endpoint")
	}
	for _, a := range p.AttackTimeline {
		logAttack(zlog.Info(), a).Msg("Timeline")
	}
}

func logAttack(ev *zerolog.Event, a models.Attack) *zerolog.Event {
	return ev.
		Str("id", a.ID).
		Time("at", a.Timestamp).
		Str("ip", a.AttackerIP).
		Str("endpoint", a.TargetEndpoint).
		Str("type", string(a.AttackType)).
		Str("risk", string(a.RiskLevel))
}
