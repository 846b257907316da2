package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/criadorlab/planner/backend/internal/analytics"
)

// insightsTTL is how long a cached insights payload stays fresh before the
// background poller recomputes it.
const insightsTTL = 30 * time.Minute

// refreshTracker marks creators with a manual refresh in flight so the
// poller does not compute the same payload twice.
type refreshTracker struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newRefreshTracker() *refreshTracker {
	return &refreshTracker{ids: make(map[string]struct{})}
}

func (t *refreshTracker) begin(creatorID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids[creatorID] = struct{}{}
}

func (t *refreshTracker) end(creatorID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ids, creatorID)
}

func (t *refreshTracker) active(creatorID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ids[creatorID]
	return ok
}

type insightsPayload struct {
	analytics.Insights
	ComputedAt time.Time `json:"computedAt"`
}

// loadCachedInsights returns the cached payload, or nil when absent.
func (h *Handler) loadCachedInsights(ctx context.Context, creatorID string) (*insightsPayload, error) {
	var raw []byte
	err := h.db.QueryRowContext(ctx, `
		SELECT payload FROM public.insights_cache WHERE creator_id = $1
	`, creatorID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p insightsPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// computeAndCacheInsights recomputes the creator's summary from windowed
// history and upserts the cache row.
func (h *Handler) computeAndCacheInsights(ctx context.Context, creatorID string) (*insightsPayload, error) {
	now := time.Now().UTC()
	posts, err := h.store.LoadPosts(ctx, creatorID, now)
	if err != nil {
		return nil, err
	}

	p := &insightsPayload{
		Insights:   analytics.ComputeInsights(posts, now, 0),
		ComputedAt: now,
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	_, err = h.db.ExecContext(ctx, `
		INSERT INTO public.insights_cache (creator_id, payload, computed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (creator_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			computed_at = EXCLUDED.computed_at
	`, creatorID, raw, now)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetInsights serves the creator's summary card. Cached payloads are served
// as-is; ?refresh=1 forces a recompute and suppresses the background poller
// for this creator while it runs.
func (h *Handler) GetInsights(w http.ResponseWriter, r *http.Request) {
	creatorID := pathVar(r, "creatorId")
	if creatorID == "" {
		writeError(w, http.StatusBadRequest, "creatorId is required")
		return
	}

	force := r.URL.Query().Get("refresh") == "1"
	if !force {
		cached, err := h.loadCachedInsights(r.Context(), creatorID)
		if err != nil {
			log.Printf("[Insights] cache read error creatorId=%s: %v", creatorID, err)
		}
		if cached != nil {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	h.refreshing.begin(creatorID)
	defer h.refreshing.end(creatorID)

	p, err := h.computeAndCacheInsights(r.Context(), creatorID)
	if err != nil {
		log.Printf("[Insights] compute error creatorId=%s: %v", creatorID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}
