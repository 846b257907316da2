package workers

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// InsightsCacheJanitor removes insights cache rows that have gone stale past
// the retention period, usually because the creator stopped opening the
// planner and the refresh worker keeps skipping nothing.
type InsightsCacheJanitor struct {
	DB              *sql.DB
	RetentionHours  int // How long to keep untouched cache rows (default: 168 = 7 days)
	CheckIntervalMs int // How often to run cleanup (default: 3600000 = 1 hour)
}

// Start begins the janitor loop.
func (w *InsightsCacheJanitor) Start(ctx context.Context) {
	if w.RetentionHours <= 0 {
		w.RetentionHours = 168
	}
	if w.CheckIntervalMs <= 0 {
		w.CheckIntervalMs = 3600000 // 1 hour
	}

	ticker := time.NewTicker(time.Duration(w.CheckIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	log.Printf("[InsightsCacheJanitor] started (retention=%dh, interval=%dms)", w.RetentionHours, w.CheckIntervalMs)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[InsightsCacheJanitor] stopped")
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

// cleanup removes cache rows older than the retention period.
func (w *InsightsCacheJanitor) cleanup(ctx context.Context) {
	cutoffTime := time.Now().Add(-time.Duration(w.RetentionHours) * time.Hour)

	result, err := w.DB.ExecContext(ctx, `
		DELETE FROM public.insights_cache
		WHERE computed_at < $1
	`, cutoffTime)

	if err != nil {
		log.Printf("[InsightsCacheJanitor] error: %v", err)
		return
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		log.Printf("[InsightsCacheJanitor] error getting rows affected: %v", err)
		return
	}

	if deleted > 0 {
		log.Printf("[InsightsCacheJanitor] deleted %d stale insights rows", deleted)
	}
}
