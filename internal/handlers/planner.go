package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/criadorlab/planner/backend/internal/analytics"
	"github.com/criadorlab/planner/backend/internal/experiment"
	"github.com/criadorlab/planner/backend/internal/generation"
	"github.com/criadorlab/planner/backend/internal/middleware"
	"github.com/criadorlab/planner/backend/internal/models"
	"github.com/criadorlab/planner/backend/internal/planner"
)

// callerID resolves the acting user for authorization. The edge worker sets
// X-Caller-Id; absent that, the creator is assumed to act for themselves.
func callerID(r *http.Request, creatorID string) string {
	if v := strings.TrimSpace(r.Header.Get("X-Caller-Id")); v != "" {
		return v
	}
	return creatorID
}

// parseWeekStart accepts YYYY-MM-DD and normalizes to the enclosing week's
// Sunday. Missing values mean the current week.
func parseWeekStart(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return planner.NormalizeWeekStart(time.Now().UTC()), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return planner.NormalizeWeekStart(t), nil
}

type slotView struct {
	models.Slot
	Estimate experiment.Estimate `json:"estimate"`
}

// attachEstimates decorates slots with their derived confidence/effort labels.
// The block P50 baseline comes from the creator's windowed history.
func attachEstimates(slots []models.Slot, posts []models.PostRecord, now time.Time, window time.Duration) []slotView {
	views := make([]slotView, 0, len(slots))
	for _, s := range slots {
		em := analytics.BlockExpectedMetrics(posts, s.DayOfWeek, s.BlockStartHour, now, window)
		views = append(views, slotView{Slot: s, Estimate: experiment.EstimateSlot(s, em.ViewsP50)})
	}
	return views
}

type weekResponse struct {
	CreatorID string             `json:"creatorId"`
	WeekStart string             `json:"weekStart"`
	Slots     []slotView         `json:"slots"`
	Heatmap   []models.HeatPoint `json:"heatmap"`
	Editable  bool               `json:"editable"`
	Reason    *string            `json:"reason,omitempty"`
}

// GetWeek returns the creator's slot list for one week plus the scored grid
// and the edit-permission resolution the frontend renders lock state from.
func (h *Handler) GetWeek(w http.ResponseWriter, r *http.Request) {
	creatorID := pathVar(r, "creatorId")
	if creatorID == "" {
		writeError(w, http.StatusBadRequest, "creatorId is required")
		return
	}

	weekStart, err := parseWeekStart(r.URL.Query().Get("weekStart"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "weekStart must be YYYY-MM-DD")
		return
	}

	slots, heatmap, err := h.store.Load(r.Context(), callerID(r, creatorID), creatorID, weekStart)
	if errors.Is(err, planner.ErrNotAuthorized) {
		writeError(w, http.StatusForbidden, "not authorized for this planner")
		return
	}
	if err != nil {
		log.Printf("[Planner][Week] load error creatorId=%s: %v", creatorID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	now := time.Now().UTC()
	posts, err := h.store.LoadPosts(r.Context(), creatorID, now)
	if err != nil {
		log.Printf("[Planner][Week] posts error creatorId=%s: %v", creatorID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	res, err := h.gate.ResolveFor(r.Context(), creatorID)
	if err != nil {
		log.Printf("[Planner][Week] gate error creatorId=%s: %v", creatorID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, weekResponse{
		CreatorID: creatorID,
		WeekStart: weekStart.Format("2006-01-02"),
		Slots:     attachEstimates(slots, posts, now, 0),
		Heatmap:   heatmap,
		Editable:  res.Editable,
		Reason:    res.Reason,
	})
}

type saveWeekRequest struct {
	WeekStart string        `json:"weekStart"`
	Slots     []models.Slot `json:"slots"`
}

type saveWeekResponse struct {
	Slots            []models.Slot                 `json:"slots"`
	ValidationErrors []planner.SlotValidationError `json:"validationErrors,omitempty"`
}

// SaveWeek replaces the week's slot list wholesale. Slots that fail
// validation are reported and excluded; the rest commit in one transaction.
func (h *Handler) SaveWeek(w http.ResponseWriter, r *http.Request) {
	creatorID := pathVar(r, "creatorId")
	if creatorID == "" {
		writeError(w, http.StatusBadRequest, "creatorId is required")
		return
	}

	var req saveWeekRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	weekStart, err := parseWeekStart(req.WeekStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "weekStart must be YYYY-MM-DD")
		return
	}

	// The subscription enforcer resolves the plan but cannot read the body;
	// the scheduling horizon is checked here where weekStart is known.
	if limits, ok := middleware.LimitsFromContext(r.Context()); ok && limits.WeeksAhead > 0 {
		maxStart := planner.NormalizeWeekStart(time.Now().UTC()).AddDate(0, 0, 7*limits.WeeksAhead)
		if weekStart.After(maxStart) {
			writeError(w, http.StatusPaymentRequired,
				fmt.Sprintf("your plan allows scheduling up to %d weeks ahead", limits.WeeksAhead))
			return
		}
	}

	saved, validationErrs, err := h.store.Save(r.Context(), creatorID, weekStart, req.Slots)
	var denied *planner.EditNotAllowedError
	if errors.As(err, &denied) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": denied.Reason})
		return
	}
	if err != nil {
		log.Printf("[Planner][Save] creatorId=%s week=%s err=%v", creatorID, weekStart.Format("2006-01-02"), err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Printf("[Planner][Save] creatorId=%s week=%s saved=%d rejected=%d",
		creatorID, weekStart.Format("2006-01-02"), len(saved), len(validationErrs))
	h.emitEvent(creatorID, realtimeEvent{Type: "week.saved", WeekStart: weekStart.Format("2006-01-02")})
	writeJSON(w, http.StatusOK, saveWeekResponse{Slots: saved, ValidationErrors: validationErrs})
}

type duplicateRequest struct {
	Slot models.Slot `json:"slot"`
}

// DuplicateSlot returns an unpersisted copy of the given slot (fresh
// identity, drafted status, "(copy)" title). The client appends it to the
// list and saves.
func (h *Handler) DuplicateSlot(w http.ResponseWriter, r *http.Request) {
	creatorID := pathVar(r, "creatorId")
	if creatorID == "" {
		writeError(w, http.StatusBadRequest, "creatorId is required")
		return
	}

	res, err := h.gate.ResolveFor(r.Context(), creatorID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !res.Editable {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": res.Reason})
		return
	}

	var req duplicateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, planner.Duplicate(req.Slot))
}

type deleteSlotRequest struct {
	WeekStart string      `json:"weekStart"`
	Slot      models.Slot `json:"slot"`
	// Slots is the client's working list, sent when the target has no slotId.
	// The coordinate fallback is applied to it server-side so all sessions
	// prune stubs by the same rule.
	Slots []models.Slot `json:"slots,omitempty"`
}

type deleteSlotResponse struct {
	Found bool          `json:"found"`
	Slots []models.Slot `json:"slots,omitempty"`
}

// DeleteSlot removes one slot. Persisted slots are deleted by id; an
// unpersisted stub has no server-side row, so that case prunes the submitted
// working list by coordinate and returns it for the client to adopt.
func (h *Handler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	creatorID := pathVar(r, "creatorId")
	if creatorID == "" {
		writeError(w, http.StatusBadRequest, "creatorId is required")
		return
	}

	var req deleteSlotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	weekStart, err := parseWeekStart(req.WeekStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "weekStart must be YYYY-MM-DD")
		return
	}

	found, err := h.store.Delete(r.Context(), creatorID, weekStart, req.Slot)
	var denied *planner.EditNotAllowedError
	if errors.As(err, &denied) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": denied.Reason})
		return
	}
	if err != nil {
		log.Printf("[Planner][Delete] creatorId=%s err=%v", creatorID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := deleteSlotResponse{Found: found}
	if req.Slot.ID == nil && len(req.Slots) > 0 {
		resp.Slots, resp.Found = planner.RemoveFromList(req.Slots, req.Slot)
	}

	if found && req.Slot.ID != nil {
		h.emitEvent(creatorID, realtimeEvent{Type: "slot.updated", SlotID: *req.Slot.ID, Status: "deleted"})
	}
	writeJSON(w, http.StatusOK, resp)
}

type generateRequest struct {
	Slot               models.Slot `json:"slot"`
	Strategy           string      `json:"strategy"`
	UseExternalSignals bool        `json:"useExternalSignals"`
}

type generateResponse struct {
	Slot    models.Slot         `json:"slot"`
	Content *generation.Content `json:"content"`
}

// GenerateForSlot asks the provider for script content and merges it into the
// submitted slot. The merged slot is returned unpersisted; the client saves
// the week to keep it. Failures are classified, never retried here.
func (h *Handler) GenerateForSlot(w http.ResponseWriter, r *http.Request) {
	creatorID := pathVar(r, "creatorId")
	if creatorID == "" {
		writeError(w, http.StatusBadRequest, "creatorId is required")
		return
	}

	res, err := h.gate.ResolveFor(r.Context(), creatorID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !res.Editable {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": res.Reason, "failure": generation.FailurePlanInactive})
		return
	}

	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	content, err := h.generator.Generate(r.Context(), req.Slot, req.Strategy, req.UseExternalSignals)
	if err != nil {
		class := generation.ClassOf(err)
		status := http.StatusBadGateway
		switch class {
		case generation.FailureAuthRequired:
			status = http.StatusUnauthorized
		case generation.FailurePlanInactive:
			status = http.StatusPaymentRequired
		case generation.FailureRateLimited:
			status = http.StatusTooManyRequests
		}
		log.Printf("[Generation] creatorId=%s failure=%s err=%v", creatorID, class, err)
		writeJSON(w, status, map[string]any{"failure": class, "error": err.Error()})
		return
	}

	slot := req.Slot
	generation.Merge(&slot, content)
	h.emitEvent(creatorID, realtimeEvent{Type: "generation.completed", Status: "ok"})
	writeJSON(w, http.StatusOK, generateResponse{Slot: slot, Content: content})
}
