// Package generation calls the external script-generation provider and folds
// the result back into a slot. Failures are classified, not generic: the UI
// renders a re-auth affordance, an upsell, a retry-later hint, or a plain
// error depending on the class. The orchestrator never retries on its own;
// retry is always a user-initiated re-invocation.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/criadorlab/planner/backend/internal/models"
	"golang.org/x/time/rate"
)

// FailureClass distinguishes the four provider failure modes callers must be
// able to tell apart.
type FailureClass string

const (
	FailureAuthRequired FailureClass = "auth_required"
	FailurePlanInactive FailureClass = "plan_inactive"
	FailureRateLimited  FailureClass = "rate_limited"
	FailureGeneric      FailureClass = "failed"
)

// ProviderError is a classified provider failure.
type ProviderError struct {
	Class      FailureClass
	StatusCode int
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("generation provider: %s (status %d)", e.Class, e.StatusCode)
}

// Message is the user-presentable text for each failure class.
func (e *ProviderError) Message() string {
	switch e.Class {
	case FailureAuthRequired:
		return "Sign in required to generate scripts."
	case FailurePlanInactive:
		return "Your plan is inactive. Upgrade to generate scripts."
	case FailureRateLimited:
		return "Too many generations. Try again in a few minutes."
	default:
		return fmt.Sprintf("Generation failed (status %d). Try again.", e.StatusCode)
	}
}

// ClassOf returns the failure class of err, or "" for non-provider errors.
func ClassOf(err error) FailureClass {
	if pe, ok := err.(*ProviderError); ok {
		return pe.Class
	}
	return ""
}

func classify(status int) *ProviderError {
	switch {
	case status == http.StatusUnauthorized:
		return &ProviderError{Class: FailureAuthRequired, StatusCode: status}
	case status == http.StatusPaymentRequired || status == http.StatusForbidden:
		return &ProviderError{Class: FailurePlanInactive, StatusCode: status}
	case status == http.StatusTooManyRequests:
		return &ProviderError{Class: FailureRateLimited, StatusCode: status}
	default:
		return &ProviderError{Class: FailureGeneric, StatusCode: status}
	}
}

// Content is the merged generation result.
type Content struct {
	Title            *string            `json:"title,omitempty"`
	ScriptShort      *string            `json:"scriptShort,omitempty"`
	Beats            []string           `json:"beats,omitempty"`
	RecordingTimeSec *int               `json:"recordingTimeSec,omitempty"`
	SignalsUsed      []models.SignalRef `json:"signalsUsed,omitempty"`
	AIVersionID      string             `json:"aiVersionId"`
}

// Orchestrator talks to one provider endpoint. The limiter keeps us inside
// the provider's quota; the HTTP client carries the caller's context so an
// abandoned request is cancelled rather than left to complete and merge.
type Orchestrator struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	Limiter *rate.Limiter
	Logger  *log.Logger
}

// New builds an orchestrator with a 30s client timeout and a
// conservative outbound limit.
func New(baseURL, apiKey string) *Orchestrator {
	return &Orchestrator{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 30 * time.Second},
		Limiter: rate.NewLimiter(rate.Limit(1), 2),
		Logger:  log.Default(),
	}
}

type generateRequest struct {
	Slot               models.Slot `json:"slot"`
	Strategy           string      `json:"strategy"`
	UseExternalSignals bool        `json:"useExternalSignals"`
}

// providerResponse is decoded loosely: the provider is unreliable about
// types, so beats and signals are filtered rather than failing the call.
type providerResponse struct {
	Title            string        `json:"title"`
	Script           string        `json:"script"`
	Beats            []interface{} `json:"beats"`
	RecordingTimeSec interface{}   `json:"recordingTimeSec"`
	SignalsUsed      []*signalRaw  `json:"signalsUsed"`
	VersionID        string        `json:"versionId"`
}

type signalRaw struct {
	Title  string `json:"title"`
	Source string `json:"source"`
	URL    string `json:"url"`
}

// Generate performs one provider call for the slot. Unknown strategies fall
// back to the default. The returned content is not applied anywhere; merging
// into the stored slot is the caller's save.
func (o *Orchestrator) Generate(ctx context.Context, slot models.Slot, strategy string, useExternalSignals bool) (*Content, error) {
	strategy = models.NormalizeStrategy(strategy)

	if o.Limiter != nil {
		if err := o.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(generateRequest{Slot: slot, Strategy: strategy, UseExternalSignals: useExternalSignals})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/v1/scripts", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.APIKey)
	}

	client := o.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := classify(resp.StatusCode)
		o.logf("[Generation] provider failure status=%d class=%s strategy=%s", resp.StatusCode, perr.Class, strategy)
		return nil, perr
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB cap
	if err != nil {
		return nil, err
	}
	var pr providerResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, &ProviderError{Class: FailureGeneric, StatusCode: resp.StatusCode}
	}

	// A caller who navigated away must not have a late completion merged.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content := &Content{AIVersionID: pr.VersionID}
	if content.AIVersionID == "" {
		content.AIVersionID = fmt.Sprintf("gen-%d", time.Now().UnixNano())
	}
	if t := strings.TrimSpace(pr.Title); t != "" {
		content.Title = &t
	}
	if s := strings.TrimSpace(pr.Script); s != "" {
		content.ScriptShort = &s
	}
	for _, b := range pr.Beats {
		// Non-string beat entries are dropped, not an error.
		if s, ok := b.(string); ok && strings.TrimSpace(s) != "" {
			content.Beats = append(content.Beats, s)
		}
	}
	if f, ok := pr.RecordingTimeSec.(float64); ok && f > 0 {
		sec := int(f)
		content.RecordingTimeSec = &sec
	}
	for _, s := range pr.SignalsUsed {
		if s == nil || (strings.TrimSpace(s.Title) == "" && strings.TrimSpace(s.URL) == "") {
			continue
		}
		content.SignalsUsed = append(content.SignalsUsed, models.SignalRef{Title: s.Title, Source: s.Source, URL: s.URL})
	}

	o.logf("[Generation] ok strategy=%s beats=%d signals=%d versionId=%s",
		strategy, len(content.Beats), len(content.SignalsUsed), content.AIVersionID)
	return content, nil
}

// Merge applies generated content onto a slot in memory.
func Merge(slot *models.Slot, c *Content) {
	if c == nil {
		return
	}
	if c.Title != nil {
		slot.Title = c.Title
	}
	if c.ScriptShort != nil {
		slot.ScriptShort = c.ScriptShort
	}
	if len(c.Beats) > 0 {
		slot.Beats = c.Beats
	}
	if c.RecordingTimeSec != nil {
		slot.RecordingTimeSec = c.RecordingTimeSec
	}
	v := c.AIVersionID
	slot.AIVersionID = &v
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
