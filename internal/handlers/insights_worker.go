package handlers

import (
	"context"
	"log"
	"time"
)

// refreshStaleInsightsOnce recomputes cached insights that are older than the
// TTL, up to limit creators per sweep. Creators with a manual refresh in
// flight are skipped; their request will write a fresher payload anyway.
func (h *Handler) refreshStaleInsightsOnce(ctx context.Context, limit int) (int, error) {
	if h == nil || h.db == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 25
	}

	cutoff := time.Now().UTC().Add(-insightsTTL)
	rows, err := h.db.QueryContext(ctx, `
		SELECT creator_id
		  FROM public.insights_cache
		 WHERE computed_at < $1
		 ORDER BY computed_at ASC
		 LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	creators := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		creators = append(creators, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	refreshed := 0
	for _, creatorID := range creators {
		select {
		case <-ctx.Done():
			return refreshed, ctx.Err()
		default:
		}
		if h.refreshing.active(creatorID) {
			log.Printf("[Insights] skip creatorId=%s reason=manual_refresh_in_flight", creatorID)
			continue
		}
		if _, err := h.computeAndCacheInsights(ctx, creatorID); err != nil {
			log.Printf("[Insights] refresh error creatorId=%s err=%v", creatorID, err)
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

// StartInsightsWorker runs a periodic poller that recomputes stale insights
// payloads. Enable it from `main` behind an env gate.
func (h *Handler) StartInsightsWorker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	log.Printf("[Insights] worker started interval=%s ttl=%s", interval, insightsTTL)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		limit := 25
		backoffs := []time.Duration{700 * time.Millisecond, 1500 * time.Millisecond, 3 * time.Second}
		var n int
		var err error
		for attempt := 0; attempt < len(backoffs)+1; attempt++ {
			// Timebox each sweep attempt.
			sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			n, err = h.refreshStaleInsightsOnce(sweepCtx, limit)
			cancel()
			if err == nil {
				break
			}
			if attempt < len(backoffs) {
				log.Printf("[Insights] sweep error attempt=%d/%d err=%v", attempt+1, len(backoffs)+1, err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoffs[attempt]):
				}
				continue
			}
		}
		if err != nil {
			log.Printf("[Insights] sweep error final err=%v", err)
			return
		}
		if n > 0 {
			log.Printf("[Insights] refreshed=%d", n)
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Insights] worker stopped err=%v", ctx.Err())
			return
		case <-ticker.C:
			run()
		}
	}
}
