package handlers

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

type BillingPlan struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   *string `json:"description,omitempty"`
	PriceCents    int     `json:"priceCents"`
	Currency      string  `json:"currency"`
	Interval      string  `json:"interval"`
	StripePriceID *string `json:"stripePriceId,omitempty"`
	IsActive      bool    `json:"isActive"`
}

type Subscription struct {
	ID                   string     `json:"id"`
	CreatorID            string     `json:"creatorId"`
	PlanID               string     `json:"planId"`
	StripeSubscriptionID *string    `json:"stripeSubscriptionId,omitempty"`
	StripeCustomerID     *string    `json:"stripeCustomerId,omitempty"`
	Status               string     `json:"status"`
	CurrentPeriodStart   *time.Time `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd    bool       `json:"cancelAtPeriodEnd"`
	CanceledAt           *time.Time `json:"canceledAt,omitempty"`
	Reason               *string    `json:"reason,omitempty"`
	Locked               bool       `json:"locked"`
	HasPremiumAccess     bool       `json:"hasPremiumAccess"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// Stripe client instance
var stripeClient *client.API

func initStripe() {
	if stripeClient != nil {
		return
	}

	secretKey := os.Getenv("STRIPE_SECRET_KEY")
	if secretKey == "" {
		log.Printf("[Billing] STRIPE_SECRET_KEY not set, Stripe features disabled")
		return
	}

	stripeClient = &client.API{}
	stripeClient.Init(secretKey, nil)
}

// GetBillingPlans returns available billing plans
func (h *Handler) GetBillingPlans(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.Query(`
		SELECT id, name, description, price_cents, currency, interval, stripe_price_id, is_active
		FROM public.billing_plans
		WHERE is_active = true
		ORDER BY price_cents ASC
	`)
	if err != nil {
		log.Printf("[Billing][Plans] query error: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer rows.Close()

	var plans []BillingPlan
	for rows.Next() {
		var p BillingPlan
		var desc, stripePriceID sql.NullString
		err := rows.Scan(&p.ID, &p.Name, &desc, &p.PriceCents, &p.Currency, &p.Interval, &stripePriceID, &p.IsActive)
		if err != nil {
			log.Printf("[Billing][Plans] scan error: %v", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		p.Description = nullStringPtr(desc)
		p.StripePriceID = nullStringPtr(stripePriceID)
		plans = append(plans, p)
	}

	if err := rows.Err(); err != nil {
		log.Printf("[Billing][Plans] rows error: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, plans)
}

// GetSubscription returns the creator's subscription, including the derived
// hasPremiumAccess flag and the lock reason the planner shows when editing
// is disabled.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	creatorID := pathVar(r, "creatorId")
	if creatorID == "" {
		writeError(w, http.StatusBadRequest, "creatorId is required")
		return
	}

	var sub Subscription
	var stripeSubID, stripeCustID, reason sql.NullString
	var periodStart, periodEnd, canceledAt sql.NullTime

	err := h.db.QueryRow(`
		SELECT id, user_id, plan_id, stripe_subscription_id, stripe_customer_id, status,
		       current_period_start, current_period_end, cancel_at_period_end, canceled_at,
		       reason, locked, created_at, updated_at
		FROM public.subscriptions
		WHERE user_id = $1
	`, creatorID).Scan(
		&sub.ID, &sub.CreatorID, &sub.PlanID, &stripeSubID, &stripeCustID, &sub.Status,
		&periodStart, &periodEnd, &sub.CancelAtPeriodEnd, &canceledAt,
		&reason, &sub.Locked, &sub.CreatedAt, &sub.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		// No subscription row reads as the free tier.
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"planId":           "free",
			"status":           "none",
			"hasPremiumAccess": false,
			"reason":           "No active subscription. Upgrade to edit your planner.",
		})
		return
	}
	if err != nil {
		log.Printf("[Billing][Subscription] query error creatorId=%s: %v", creatorID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sub.StripeSubscriptionID = nullStringPtr(stripeSubID)
	sub.StripeCustomerID = nullStringPtr(stripeCustID)
	sub.Reason = nullStringPtr(reason)
	sub.CurrentPeriodStart = nullTimePtr(periodStart)
	sub.CurrentPeriodEnd = nullTimePtr(periodEnd)
	sub.CanceledAt = nullTimePtr(canceledAt)

	st, err := h.gate.LoadState(r.Context(), creatorID)
	if err != nil {
		log.Printf("[Billing][Subscription] gate error creatorId=%s: %v", creatorID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sub.HasPremiumAccess = st.HasPremiumAccess

	writeJSON(w, http.StatusOK, sub)
}

// CreateSubscription subscribes a creator to a plan. The free plan only
// touches our own table; paid plans go through Stripe.
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	creatorID := pathVar(r, "creatorId")
	if creatorID == "" {
		writeError(w, http.StatusBadRequest, "creatorId is required")
		return
	}

	var req struct {
		PlanID          string `json:"planId"`
		PaymentMethodID string `json:"paymentMethodId"`
		TrialDays       *int   `json:"trialDays,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PlanID == "" {
		writeError(w, http.StatusBadRequest, "planId is required")
		return
	}

	if req.PlanID == "free" {
		_, err := h.db.Exec(`
			INSERT INTO public.subscriptions (id, user_id, plan_id, status)
			VALUES (gen_random_uuid()::text, $1, $2, 'active')
			ON CONFLICT (user_id) DO UPDATE SET
				plan_id = EXCLUDED.plan_id,
				status = 'active',
				reason = NULL,
				updated_at = NOW()
		`, creatorID, req.PlanID)
		if err != nil {
			log.Printf("[Billing][CreateSubscription] free plan error creatorId=%s: %v", creatorID, err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
		return
	}

	initStripe()
	if stripeClient == nil {
		writeError(w, http.StatusServiceUnavailable, "Stripe not configured")
		return
	}

	var plan BillingPlan
	var stripePriceID sql.NullString
	err := h.db.QueryRow(`
		SELECT id, name, price_cents, currency, stripe_price_id
		FROM public.billing_plans
		WHERE id = $1 AND is_active = true
	`, req.PlanID).Scan(&plan.ID, &plan.Name, &plan.PriceCents, &plan.Currency, &stripePriceID)
	if err != nil {
		log.Printf("[Billing][CreateSubscription] plan lookup error creatorId=%s planId=%s: %v", creatorID, req.PlanID, err)
		writeError(w, http.StatusBadRequest, "Invalid plan")
		return
	}
	if !stripePriceID.Valid || stripePriceID.String == "" {
		writeError(w, http.StatusBadRequest, "Plan not configured for payment")
		return
	}

	var existingSubID string
	err = h.db.QueryRow(`SELECT id FROM public.subscriptions WHERE user_id = $1 AND status IN ('active', 'trialing')`, creatorID).Scan(&existingSubID)
	if err != nil && err != sql.ErrNoRows {
		log.Printf("[Billing][CreateSubscription] subscription check error creatorId=%s: %v", creatorID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err == nil {
		writeError(w, http.StatusBadRequest, "Creator already has an active subscription")
		return
	}

	// Get or create the Stripe customer.
	var customerID string
	err = h.db.QueryRow(`SELECT stripe_customer_id FROM public.subscriptions WHERE user_id = $1 AND stripe_customer_id IS NOT NULL`, creatorID).Scan(&customerID)
	if err == sql.ErrNoRows {
		customer, err := stripeClient.Customers.New(&stripe.CustomerParams{
			Metadata: map[string]string{"creatorId": creatorID},
		})
		if err != nil {
			log.Printf("[Billing][CreateSubscription] customer creation error creatorId=%s: %v", creatorID, err)
			writeError(w, http.StatusInternalServerError, "Failed to create customer")
			return
		}
		customerID = customer.ID
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.PaymentMethodID != "" {
		_, err = stripeClient.PaymentMethods.Attach(req.PaymentMethodID, &stripe.PaymentMethodAttachParams{
			Customer: stripe.String(customerID),
		})
		if err != nil {
			log.Printf("[Billing][CreateSubscription] payment method attach error creatorId=%s: %v", creatorID, err)
			writeError(w, http.StatusBadRequest, "Invalid payment method")
			return
		}
		_, err = stripeClient.Customers.Update(customerID, &stripe.CustomerParams{
			InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
				DefaultPaymentMethod: stripe.String(req.PaymentMethodID),
			},
		})
		if err != nil {
			log.Printf("[Billing][CreateSubscription] default payment method error creatorId=%s: %v", creatorID, err)
		}
	}

	subscriptionParams := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(stripePriceID.String)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
		Expand:          []*string{stripe.String("latest_invoice.payment_intent")},
	}
	if req.TrialDays != nil && *req.TrialDays > 0 {
		subscriptionParams.TrialPeriodDays = stripe.Int64(int64(*req.TrialDays))
	}

	subscription, err := stripeClient.Subscriptions.New(subscriptionParams)
	if err != nil {
		log.Printf("[Billing][CreateSubscription] subscription creation error creatorId=%s: %v", creatorID, err)
		writeError(w, http.StatusInternalServerError, "Failed to create subscription")
		return
	}

	subID := fmt.Sprintf("sub_%s", subscription.ID)
	_, err = h.db.Exec(`
		INSERT INTO public.subscriptions (
			id, user_id, plan_id, stripe_subscription_id, stripe_customer_id, status,
			current_period_start, current_period_end, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			status = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			reason = NULL,
			updated_at = NOW()
	`, subID, creatorID, req.PlanID, subscription.ID, customerID, subscription.Status,
		time.Unix(subscription.CurrentPeriodStart, 0), time.Unix(subscription.CurrentPeriodEnd, 0))
	if err != nil {
		log.Printf("[Billing][CreateSubscription] database save error creatorId=%s: %v", creatorID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := map[string]interface{}{
		"subscriptionId":       subID,
		"stripeSubscriptionId": subscription.ID,
		"status":               subscription.Status,
	}
	if subscription.LatestInvoice != nil && subscription.LatestInvoice.PaymentIntent != nil {
		response["clientSecret"] = subscription.LatestInvoice.PaymentIntent.ClientSecret
	}
	writeJSON(w, http.StatusOK, response)
}

// CancelSubscription cancels at period end; premium access survives until
// the paid period runs out.
func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	creatorID := pathVar(r, "creatorId")
	if creatorID == "" {
		writeError(w, http.StatusBadRequest, "creatorId is required")
		return
	}

	var stripeSubID sql.NullString
	err := h.db.QueryRow(`SELECT stripe_subscription_id FROM public.subscriptions WHERE user_id = $1`, creatorID).Scan(&stripeSubID)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "No subscription found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if stripeSubID.Valid && stripeSubID.String != "" {
		initStripe()
		if stripeClient == nil {
			writeError(w, http.StatusServiceUnavailable, "Stripe not configured")
			return
		}
		_, err = stripeClient.Subscriptions.Update(stripeSubID.String, &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		})
		if err != nil {
			log.Printf("[Billing][Cancel] stripe error creatorId=%s: %v", creatorID, err)
			writeError(w, http.StatusInternalServerError, "Failed to cancel subscription")
			return
		}
	}

	_, err = h.db.Exec(`
		UPDATE public.subscriptions
		SET cancel_at_period_end = true, updated_at = NOW()
		WHERE user_id = $1
	`, creatorID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// StripeWebhook handles Stripe webhook events
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	const MaxBodyBytes = int64(65536)
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("[Billing][Webhook] read error: %v", err)
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	webhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if webhookSecret == "" {
		log.Printf("[Billing][Webhook] STRIPE_WEBHOOK_SECRET not set, skipping signature verification")
	} else {
		sig := r.Header.Get("Stripe-Signature")
		if sig == "" {
			log.Printf("[Billing][Webhook] missing Stripe-Signature header")
			writeError(w, http.StatusBadRequest, "Missing signature")
			return
		}
		event, err := webhook.ConstructEvent(payload, sig, webhookSecret)
		if err != nil {
			log.Printf("[Billing][Webhook] signature verification error: %v", err)
			writeError(w, http.StatusBadRequest, "Invalid signature")
			return
		}
		h.processStripeEvent(event)
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
		return
	}

	// Fallback: process without verification (not recommended for production)
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("[Billing][Webhook] unmarshal error: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	h.processStripeEvent(event)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) processStripeEvent(event stripe.Event) {
	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		h.handleSubscriptionEvent(event)
	case "customer.subscription.deleted":
		h.handleSubscriptionCancellation(event)
	case "invoice.payment_succeeded":
		h.handlePaymentSuccess(event)
	case "invoice.payment_failed":
		h.handlePaymentFailure(event)
	default:
		log.Printf("[Billing][Webhook] unhandled event type: %s", event.Type)
	}
}

func (h *Handler) handleSubscriptionEvent(event stripe.Event) {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		log.Printf("[Billing][SubscriptionEvent] unmarshal error: %v", err)
		return
	}

	_, err := h.db.Exec(`
		UPDATE public.subscriptions
		SET status = $2, current_period_start = $3, current_period_end = $4,
		    cancel_at_period_end = $5,
		    reason = CASE WHEN $2 IN ('active', 'trialing') THEN NULL ELSE reason END,
		    updated_at = NOW()
		WHERE stripe_subscription_id = $1
	`, subscription.ID, subscription.Status,
		time.Unix(subscription.CurrentPeriodStart, 0),
		time.Unix(subscription.CurrentPeriodEnd, 0),
		subscription.CancelAtPeriodEnd)
	if err != nil {
		log.Printf("[Billing][SubscriptionEvent] update error: %v", err)
	}
}

func (h *Handler) handleSubscriptionCancellation(event stripe.Event) {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		log.Printf("[Billing][CancellationEvent] unmarshal error: %v", err)
		return
	}

	_, err := h.db.Exec(`
		UPDATE public.subscriptions
		SET status = 'canceled', canceled_at = NOW(),
		    reason = 'Your subscription ended. Upgrade to edit your planner.',
		    updated_at = NOW()
		WHERE stripe_subscription_id = $1
	`, subscription.ID)
	if err != nil {
		log.Printf("[Billing][CancellationEvent] update error: %v", err)
	}
}

func (h *Handler) handlePaymentSuccess(event stripe.Event) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		log.Printf("[Billing][PaymentSuccess] unmarshal error: %v", err)
		return
	}
	if invoice.Subscription == nil {
		return
	}

	_, err := h.db.Exec(`
		UPDATE public.subscriptions
		SET status = 'active', reason = NULL, updated_at = NOW()
		WHERE stripe_subscription_id = $1
	`, invoice.Subscription.ID)
	if err != nil {
		log.Printf("[Billing][PaymentSuccess] update error: %v", err)
	}
}

func (h *Handler) handlePaymentFailure(event stripe.Event) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		log.Printf("[Billing][PaymentFailure] unmarshal error: %v", err)
		return
	}
	if invoice.Subscription == nil {
		return
	}

	// past_due keeps the row but drops premium access; the reason shows up
	// verbatim in the planner's lock banner.
	_, err := h.db.Exec(`
		UPDATE public.subscriptions
		SET status = 'past_due',
		    reason = 'Your last payment failed. Update your payment method to keep editing.',
		    updated_at = NOW()
		WHERE stripe_subscription_id = $1
	`, invoice.Subscription.ID)
	if err != nil {
		log.Printf("[Billing][PaymentFailure] update error: %v", err)
	}
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	return &nt.Time
}
