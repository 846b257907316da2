package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
)

// PlanLimits defines the limits for each plan
type PlanLimits struct {
	GenerationsPerDay int    `json:"generations_per_day"` // -1 = unlimited
	WeeksAhead        int    `json:"weeks_ahead"`         // how far into the future plans can be saved
	Insights          string `json:"insights"`            // "basic", "advanced"
}

// SubscriptionEnforcer applies per-plan usage limits on planner endpoints.
// Edit permission itself is re-resolved inside the store on every save; this
// middleware only handles the quota-style limits that sit in front of it.
type SubscriptionEnforcer struct {
	DB     *sql.DB
	Limits map[string]PlanLimits
}

// NewSubscriptionEnforcer creates a new subscription enforcer middleware
func NewSubscriptionEnforcer(db *sql.DB) *SubscriptionEnforcer {
	// Default limits - these could be loaded from database
	limits := map[string]PlanLimits{
		"free": {
			GenerationsPerDay: 3,
			WeeksAhead:        1,
			Insights:          "basic",
		},
		"pro": {
			GenerationsPerDay: 50,
			WeeksAhead:        8,
			Insights:          "advanced",
		},
		"studio": {
			GenerationsPerDay: -1, // unlimited
			WeeksAhead:        26,
			Insights:          "advanced",
		},
	}

	return &SubscriptionEnforcer{
		DB:     db,
		Limits: limits,
	}
}

// Middleware returns an HTTP middleware that enforces subscription limits
func (se *SubscriptionEnforcer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if se.shouldSkip(r) {
			next.ServeHTTP(w, r)
			return
		}

		creatorID := se.extractCreatorID(r)
		if creatorID == "" {
			next.ServeHTTP(w, r)
			return
		}

		planID, err := se.getCreatorPlan(creatorID)
		if err != nil {
			// If we can't determine the plan, default to free tier
			planID = "free"
		}

		if !se.checkLimits(r, creatorID, planID) {
			se.respondLimitExceeded(w, planID)
			return
		}

		// Add plan info to request context
		r = r.WithContext(WithPlanLimits(r.Context(), planID, se.Limits[planID]))

		next.ServeHTTP(w, r)
	})
}

type contextKey string

const (
	planContextKey   contextKey = "creator_plan"
	limitsContextKey contextKey = "plan_limits"
)

// WithPlanLimits stores the resolved plan and its limits on the context.
func WithPlanLimits(ctx context.Context, planID string, limits PlanLimits) context.Context {
	ctx = context.WithValue(ctx, planContextKey, planID)
	return context.WithValue(ctx, limitsContextKey, limits)
}

// LimitsFromContext returns the plan limits the enforcer attached, if any.
// Handlers use this for limits that need request data the middleware cannot
// see, like the save horizon.
func LimitsFromContext(ctx context.Context) (PlanLimits, bool) {
	l, ok := ctx.Value(limitsContextKey).(PlanLimits)
	return l, ok
}

// shouldSkip returns true if this route should skip subscription enforcement
func (se *SubscriptionEnforcer) shouldSkip(r *http.Request) bool {
	// Billing must stay reachable for locked-out creators, and reads are
	// never quota-limited.
	if r.Method == http.MethodGet {
		return true
	}
	skipPaths := []string{
		"/api/billing",
		"/webhook",
		"/health",
		"/api/events",
	}
	for _, path := range skipPaths {
		if strings.HasPrefix(r.URL.Path, path) {
			return true
		}
	}
	return false
}

// extractCreatorID pulls the creator ID out of planner paths like
// /api/planner/week/{creatorId}/slots/generate.
func (se *SubscriptionEnforcer) extractCreatorID(r *http.Request) string {
	parts := strings.Split(r.URL.Path, "/")
	for i, part := range parts {
		if (part == "week" || part == "insights" || part == "posts") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

// getCreatorPlan returns the creator's current plan
func (se *SubscriptionEnforcer) getCreatorPlan(creatorID string) (string, error) {
	var planID string
	err := se.DB.QueryRow(`
		SELECT COALESCE(plan_id, 'free') as plan_id
		FROM public.subscriptions
		WHERE user_id = $1 AND status IN ('active', 'trialing')
	`, creatorID).Scan(&planID)

	if err == sql.ErrNoRows {
		return "free", nil // Default to free plan
	}

	return planID, err
}

// checkLimits checks if the request is within the plan limits
func (se *SubscriptionEnforcer) checkLimits(r *http.Request, creatorID, planID string) bool {
	limits := se.Limits[planID]

	// Generation quota: count the creator's generation calls today.
	if strings.HasSuffix(r.URL.Path, "/slots/generate") && r.Method == http.MethodPost {
		if limits.GenerationsPerDay < 0 {
			return true
		}
		var count int
		se.DB.QueryRow(`
			SELECT COUNT(*) FROM public.generation_log
			WHERE creator_id = $1 AND requested_at >= date_trunc('day', NOW())
		`, creatorID).Scan(&count)
		if count >= limits.GenerationsPerDay {
			return false
		}
		// Count the attempt regardless of outcome; retries are deliberate.
		se.DB.Exec(`
			INSERT INTO public.generation_log (creator_id, requested_at)
			VALUES ($1, NOW())
		`, creatorID)
	}

	return true
}

// respondLimitExceeded sends a limit exceeded response
func (se *SubscriptionEnforcer) respondLimitExceeded(w http.ResponseWriter, planID string) {
	limits := se.Limits[planID]

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired) // 402 Payment Required

	response := map[string]interface{}{
		"error":       "subscription_limit_exceeded",
		"message":     "Your current plan has reached its limits",
		"plan":        planID,
		"limits":      limits,
		"upgrade_url": "/account/billing",
	}

	json.NewEncoder(w).Encode(response)
}
