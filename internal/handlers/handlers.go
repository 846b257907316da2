package handlers

import (
	"database/sql"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/criadorlab/planner/backend/internal/access"
	"github.com/criadorlab/planner/backend/internal/generation"
	"github.com/criadorlab/planner/backend/internal/models"
	"github.com/criadorlab/planner/backend/internal/planner"
	"github.com/criadorlab/planner/backend/internal/vocab"
)

type Handler struct {
	db        *sql.DB
	rt        *realtimeHub
	store     *planner.Store
	gate      *access.Gate
	vocab     *vocab.Client
	generator *generation.Orchestrator

	// refreshing tracks creators with a manual insights refresh in flight so
	// the background poller can skip them.
	refreshing *refreshTracker
}

func New(db *sql.DB) *Handler {
	g := &access.Gate{DB: db}
	h := &Handler{
		db:         db,
		rt:         newRealtimeHub(),
		gate:       g,
		vocab:      vocab.New(db),
		refreshing: newRefreshTracker(),
	}
	h.store = planner.New(db)
	h.store.Gate = g
	h.store.Vocab = h.vocab

	baseURL := os.Getenv("GENERATION_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:9811"
	}
	h.generator = generation.New(baseURL, os.Getenv("GENERATION_API_KEY"))
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// GetVocabulary returns the closed taxonomy vocabulary grouped by kind.
// Results are cached server-side; pass ?refresh=1 to bypass the cache.
func (h *Handler) GetVocabulary(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "1" {
		h.vocab.Invalidate()
	}
	v, err := h.vocab.Load(r.Context())
	if err != nil {
		log.Printf("[Vocabulary] load error: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type ingestPostsRequest struct {
	Posts []models.PostRecord `json:"posts"`
}

// IngestPosts upserts historical post metrics for a creator. The importer
// calls this after each provider sync; rows older than the analytics window
// are still stored, the window is applied at read time.
func (h *Handler) IngestPosts(w http.ResponseWriter, r *http.Request) {
	creatorID := pathVar(r, "creatorId")
	if creatorID == "" {
		writeError(w, http.StatusBadRequest, "creatorId is required")
		return
	}

	var req ingestPostsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inserted := 0
	for _, p := range req.Posts {
		if strings.TrimSpace(p.ID) == "" || p.PostedAt.IsZero() {
			continue
		}
		_, err := h.db.ExecContext(r.Context(), `
			INSERT INTO public.creator_posts (id, creator_id, posted_at, view_count, interaction_count, created_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (id) DO UPDATE SET
				view_count = EXCLUDED.view_count,
				interaction_count = EXCLUDED.interaction_count
		`, p.ID, creatorID, p.PostedAt.UTC(), p.ViewCount, p.InteractionCount)
		if err != nil {
			log.Printf("[Posts][Ingest] upsert error creatorId=%s postId=%s: %v", creatorID, p.ID, err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		inserted++
	}

	log.Printf("[Posts][Ingest] creatorId=%s received=%d stored=%d", creatorID, len(req.Posts), inserted)
	writeJSON(w, http.StatusOK, map[string]int{"stored": inserted})
}

type markPostedRequest struct {
	PostID           string    `json:"postId"`
	PostedAt         time.Time `json:"postedAt"`
	ViewCount        int64     `json:"viewCount"`
	InteractionCount int64     `json:"interactionCount"`
}

// MarkSlotPosted is the posted-status ingest endpoint. It is the only
// transition into the posted state; nothing inside the planner flips a slot
// to posted on its own.
func (h *Handler) MarkSlotPosted(w http.ResponseWriter, r *http.Request) {
	creatorID := pathVar(r, "creatorId")
	slotID := pathVar(r, "slotId")
	if creatorID == "" || slotID == "" {
		writeError(w, http.StatusBadRequest, "creatorId and slotId are required")
		return
	}

	var req markPostedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PostedAt.IsZero() {
		req.PostedAt = time.Now().UTC()
	}

	post := models.PostRecord{
		ID:               req.PostID,
		CreatorID:        creatorID,
		PostedAt:         req.PostedAt,
		ViewCount:        req.ViewCount,
		InteractionCount: req.InteractionCount,
	}
	if post.ID == "" {
		post.ID = "post_" + slotID
	}

	if err := h.store.MarkPosted(r.Context(), creatorID, slotID, post); err != nil {
		log.Printf("[Planner][Posted] creatorId=%s slotId=%s err=%v", creatorID, slotID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.emitEvent(creatorID, realtimeEvent{Type: "slot.updated", SlotID: slotID, Status: models.StatusPosted})
	writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusPosted})
}
