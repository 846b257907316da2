package metricsimport

import (
	"context"
	"log"
	"time"
)

type ProviderRunResult struct {
	Provider string
	Fetched  int
	Upserted int
	Skipped  bool
	Reason   string
	Error    string
}

// SyncAll does an on-demand metrics import for a set of providers for a single creator.
func (r *Runner) SyncAll(ctx context.Context, creatorID string, providers []Provider) []ProviderRunResult {
	r.EnsureDefaults()
	out := make([]ProviderRunResult, 0, len(providers))
	for _, p := range providers {
		name := p.Name()
		lim, cfg := r.limiterForProvider(name)
		start := time.Now()
		r.Logger.Printf("[MetricsSync] start provider=%s creatorId=%s", name, creatorID)

		// One request "budget" for the sync attempt itself; providers account for their internal calls too.
		if r.DB != nil && cfg.DailyRequestsMax > 0 {
			ok, used, err := ConsumeRequests(ctx, r.DB, name, 1, cfg.DailyRequestsMax)
			if err != nil {
				out = append(out, ProviderRunResult{Provider: name, Error: err.Error()})
				r.Logger.Printf("[MetricsSync] quota check failed provider=%s creatorId=%s err=%v", name, creatorID, err)
				continue
			}
			if !ok {
				out = append(out, ProviderRunResult{Provider: name, Skipped: true, Reason: "daily_quota_exceeded"})
				r.Logger.Printf("[MetricsSync] quota exceeded provider=%s creatorId=%s used=%d max=%d", name, creatorID, used, cfg.DailyRequestsMax)
				continue
			}
		}

		fetched, upserted, err := p.SyncCreator(ctx, r.DB, creatorID, r.Client, lim, r.Logger)
		if err != nil {
			out = append(out, ProviderRunResult{Provider: name, Fetched: fetched, Upserted: upserted, Error: err.Error()})
			r.Logger.Printf("[MetricsSync] error provider=%s creatorId=%s fetched=%d upserted=%d dur=%s err=%v", name, creatorID, fetched, upserted, time.Since(start), err)
			continue
		}
		out = append(out, ProviderRunResult{Provider: name, Fetched: fetched, Upserted: upserted})
		r.Logger.Printf("[MetricsSync] done provider=%s creatorId=%s fetched=%d upserted=%d dur=%s", name, creatorID, fetched, upserted, time.Since(start))
	}
	return out
}

// StartProviderWorker runs a periodic importer loop for a single provider with its own limiter/quota settings.
func (r *Runner) StartProviderWorker(ctx context.Context, provider Provider, interval time.Duration) {
	r.EnsureDefaults()
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	name := provider.Name()
	_, cfg := r.limiterForProvider(name)
	r.Logger.Printf("[MetricsWorker] started provider=%s interval=%s rps=%.3f burst=%d dailyMax=%d", name, interval, cfg.RequestsPerSecond, cfg.Burst, cfg.DailyRequestsMax)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		if r.DB == nil {
			return
		}
		// Find creators that have an oauth token for that provider in creator_settings.
		key := name + "_oauth"
		rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT creator_id FROM public.creator_settings WHERE key = $1 AND value IS NOT NULL`, key)
		if err != nil {
			r.Logger.Printf("[MetricsWorker] list creators failed provider=%s err=%v", name, err)
			return
		}
		defer rows.Close()

		countCreators := 0
		for rows.Next() {
			var creatorID string
			if err := rows.Scan(&creatorID); err != nil {
				continue
			}
			countCreators++
			// Per creator run uses its own internal accounting/logging
			_ = r.SyncAll(ctx, creatorID, []Provider{provider})
		}
		r.Logger.Printf("[MetricsWorker] sweep complete provider=%s creators=%d", name, countCreators)
	}

	run()
	for {
		select {
		case <-ctx.Done():
			if r.Logger == nil {
				log.Default().Printf("[MetricsWorker] stopped provider=%s err=%v", name, ctx.Err())
			} else {
				r.Logger.Printf("[MetricsWorker] stopped provider=%s err=%v", name, ctx.Err())
			}
			return
		case <-ticker.C:
			run()
		}
	}
}
