// Package access decides whether a creator's week may be edited, based on
// subscription state owned by the billing collaborator. The gate is
// re-evaluated on every mutating call; subscription state changes out of band
// (payment failure mid-session), so nothing here is cached.
package access

import (
	"context"
	"database/sql"
	"strings"
)

// Resolution is the gate's answer. When Editable is false, Reason is always a
// non-empty user-presentable string.
type Resolution struct {
	Editable bool    `json:"editable"`
	Reason   *string `json:"reason,omitempty"`
}

// GenericLockReason is used when the stored state denies editing but carries
// no reason of its own; callers treat a blank reason as a contract violation.
const GenericLockReason = "Your plan does not allow editing this planner. Upgrade to continue."

// State is the externally supplied subscription snapshot for one creator.
type State struct {
	HasPremiumAccess bool
	NormalizedStatus string
	Reason           *string
	Locked           bool
}

// Resolve applies the gate rules to a subscription snapshot.
func Resolve(st State) Resolution {
	if st.HasPremiumAccess && !st.Locked {
		return Resolution{Editable: true}
	}
	reason := GenericLockReason
	if st.Reason != nil && strings.TrimSpace(*st.Reason) != "" {
		reason = *st.Reason
	}
	return Resolution{Editable: false, Reason: &reason}
}

// Gate resolves edit permission from the subscriptions table kept in sync by
// the billing webhook.
type Gate struct {
	DB *sql.DB
}

// premium plan statuses; anything else reads as no premium access.
func statusGrantsPremium(planID, status string) bool {
	if planID == "" || planID == "free" {
		return false
	}
	switch status {
	case "active", "trialing":
		return true
	}
	return false
}

// LoadState reads the creator's subscription snapshot. Missing rows resolve
// to the free tier rather than an error.
func (g *Gate) LoadState(ctx context.Context, creatorID string) (State, error) {
	var planID, status string
	var reason sql.NullString
	var locked bool
	err := g.DB.QueryRowContext(ctx, `
		SELECT COALESCE(plan_id, 'free'), COALESCE(status, ''), reason, COALESCE(locked, false)
		  FROM public.subscriptions
		 WHERE user_id = $1
	`, creatorID).Scan(&planID, &status, &reason, &locked)
	if err == sql.ErrNoRows {
		r := "No active subscription. Upgrade to edit your planner."
		return State{NormalizedStatus: "none", Reason: &r}, nil
	}
	if err != nil {
		return State{}, err
	}
	st := State{
		HasPremiumAccess: statusGrantsPremium(planID, status),
		NormalizedStatus: status,
		Locked:           locked,
	}
	if reason.Valid {
		s := reason.String
		st.Reason = &s
	}
	return st, nil
}

// ResolveFor loads the creator's state and applies the gate in one step; this
// is what every mutating planner call goes through.
func (g *Gate) ResolveFor(ctx context.Context, creatorID string) (Resolution, error) {
	st, err := g.LoadState(ctx, creatorID)
	if err != nil {
		return Resolution{}, err
	}
	return Resolve(st), nil
}
