package handlers

import (
	"github.com/gorilla/mux"
)

// RegisterPlannerRoutes registers the weekly grid, generation, and insights
// endpoints.
func RegisterPlannerRoutes(h *Handler, r *mux.Router) {
	r.HandleFunc("/api/planner/week/{creatorId}", h.GetWeek).Methods("GET")
	r.HandleFunc("/api/planner/week/{creatorId}", h.SaveWeek).Methods("PUT")
	r.HandleFunc("/api/planner/week/{creatorId}/slots/duplicate", h.DuplicateSlot).Methods("POST")
	r.HandleFunc("/api/planner/week/{creatorId}/slots", h.DeleteSlot).Methods("DELETE")
	r.HandleFunc("/api/planner/week/{creatorId}/slots/generate", h.GenerateForSlot).Methods("POST")
	r.HandleFunc("/api/planner/week/{creatorId}/slots/{slotId}/posted", h.MarkSlotPosted).Methods("POST")

	r.HandleFunc("/api/planner/insights/{creatorId}", h.GetInsights).Methods("GET")
	r.HandleFunc("/api/planner/heatmap/{creatorId}.png", h.GetHeatmapPNG).Methods("GET")
	r.HandleFunc("/api/planner/posts/{creatorId}", h.IngestPosts).Methods("POST")

	r.HandleFunc("/api/vocabulary", h.GetVocabulary).Methods("GET")

	// Internal realtime stream, proxied by the edge worker.
	r.HandleFunc("/api/events/ws", h.EventsWebSocket)
}

// RegisterBillingRoutes registers all billing-related routes
func RegisterBillingRoutes(h *Handler, r *mux.Router) {
	r.HandleFunc("/api/billing/plans", h.GetBillingPlans).Methods("GET")
	r.HandleFunc("/api/billing/subscription/creator/{creatorId}", h.GetSubscription).Methods("GET")
	r.HandleFunc("/api/billing/subscription/creator/{creatorId}", h.CreateSubscription).Methods("POST")
	r.HandleFunc("/api/billing/subscription/cancel/creator/{creatorId}", h.CancelSubscription).Methods("POST")

	r.HandleFunc("/webhook/stripe", h.StripeWebhook).Methods("POST")
}
