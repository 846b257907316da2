// Package experiment derives display labels for test slots: how much
// evidence backs the idea, how heavy it is to produce, and what hypothesis a
// test slot is actually checking.
package experiment

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/criadorlab/planner/backend/internal/models"
)

// Confidence labels (product copy, kept verbatim).
const (
	ConfidenceHigh   = "Alta"
	ConfidenceMedium = "Média"
	ConfidenceLow    = "Baixa"
)

// Effort labels.
const (
	EffortQuick    = "Rápido"
	EffortMedium   = "Médio"
	EffortElaborat = "Elaborado"
)

// Estimate is the derived view-model for one slot.
type Estimate struct {
	Confidence       string  `json:"confidence"`
	Effort           string  `json:"effort"`
	Hypothesis       *string `json:"hypothesis,omitempty"`
	SuccessCriterion *string `json:"successCriterion,omitempty"`
}

var sampleTokenRe = regexp.MustCompile(`n=(\d+)`)

// sampleCounts collects evidence sample sizes from both the legacy rationale
// n=<int> tokens and the structured evidenceSamples field. Strings without a
// parsable token contribute 0.
func sampleCounts(slot models.Slot) (max, total int) {
	add := func(n int) {
		if n <= 0 {
			return
		}
		total += n
		if n > max {
			max = n
		}
	}
	for _, r := range slot.Rationale {
		m := sampleTokenRe.FindStringSubmatch(r)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil {
			add(n)
		}
	}
	for _, s := range slot.EvidenceSamples {
		add(s.N)
	}
	return max, total
}

func confidence(slot models.Slot) string {
	max, total := sampleCounts(slot)
	switch {
	case max >= 20 || total >= 40:
		return ConfidenceHigh
	case max >= 8 || total >= 16:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func effort(slot models.Slot) string {
	beats := len(slot.Beats)
	if slot.RecordingTimeSec == nil {
		switch {
		case beats <= 3:
			return EffortQuick
		case beats <= 5:
			return EffortMedium
		default:
			return EffortElaborat
		}
	}
	sec := *slot.RecordingTimeSec
	switch {
	case sec <= 30 && beats <= 3:
		return EffortQuick
	case sec <= 60 && beats <= 5:
		return EffortMedium
	default:
		return EffortElaborat
	}
}

type hypothesisRule struct {
	proposal string
	context  string // empty matches any context
	text     string
}

// Small rule table keyed by proposal/context tags; first match wins, ordered
// most-specific first.
var hypothesisRules = []hypothesisRule{
	{"comparison", "regional", "Contrasting two regional takes on the same topic drives more shares than a single-angle post."},
	{"comparison", "", "Side-by-side comparisons hold viewers longer than single-subject posts."},
	{"tutorial", "", "A step-by-step tutorial converts casual viewers into saves and follows."},
	{"storytime", "", "A personal story opening lifts completion rate over a cold topic open."},
	{"trend", "", "Riding the current trend window outperforms the account's evergreen baseline."},
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.EqualFold(strings.TrimSpace(t), want) {
			return true
		}
	}
	return false
}

func hypothesisFor(slot models.Slot) string {
	for _, rule := range hypothesisRules {
		if !hasTag(slot.Categories.Proposal, rule.proposal) {
			continue
		}
		if rule.context != "" && !hasTag(slot.Categories.Context, rule.context) {
			continue
		}
		return rule.text
	}
	return "This format/topic pairing beats the account's recent average for the same block."
}

// successCriterion compares the slot's expected P50 against the block
// average when both are known, else falls back to the generic statement.
func successCriterion(slot models.Slot, blockAvgViewsP50 *float64) string {
	if slot.ExpectedMetrics.ViewsP50 != nil && blockAvgViewsP50 != nil && *blockAvgViewsP50 > 0 {
		return fmt.Sprintf("Views reach at least %.0f (block average %.0f).", *slot.ExpectedMetrics.ViewsP50, *blockAvgViewsP50)
	}
	return "Post P50 views ≥ block P50 views."
}

// Estimate derives the confidence/effort labels for any slot, and the
// hypothesis plus success criterion when the slot is a test.
// blockAvgViewsP50 may be nil when the enclosing block has no average.
func EstimateSlot(slot models.Slot, blockAvgViewsP50 *float64) Estimate {
	est := Estimate{
		Confidence: confidence(slot),
		Effort:     effort(slot),
	}
	if slot.IsExperiment || slot.Status == models.StatusTest {
		h := hypothesisFor(slot)
		c := successCriterion(slot, blockAvgViewsP50)
		est.Hypothesis = &h
		est.SuccessCriterion = &c
	}
	return est
}
