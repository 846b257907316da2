package models

import "time"

// BlockStartHours is the fixed set of day-part starts; each block covers a
// 3-hour window.
var BlockStartHours = []int{9, 12, 15, 18}

// Slot statuses. There is no system-driven transition into "posted"; that
// only arrives through the posted-status ingest endpoint.
const (
	StatusPlanned = "planned"
	StatusDrafted = "drafted"
	StatusTest    = "test"
	StatusPosted  = "posted"
)

// Slot formats.
const (
	FormatReel      = "reel"
	FormatPhoto     = "photo"
	FormatCarousel  = "carousel"
	FormatStory     = "story"
	FormatLive      = "live"
	FormatLongVideo = "long_video"
)

// Generation strategies passed through to the provider.
const (
	StrategyDefault             = "default"
	StrategyStrongHook          = "strong_hook"
	StrategyMoreHumor           = "more_humor"
	StrategyPracticalImperative = "practical_imperative"
)

// SlotCategories holds the closed-vocabulary taxonomy tags attached to a slot.
type SlotCategories struct {
	Context   []string `json:"context"`
	Proposal  []string `json:"proposal"`
	Tone      string   `json:"tone"`
	Reference []string `json:"reference"`
}

// ExpectedMetrics are percentile point-estimates attached at generation or
// ranking time; they are not recomputed on every read.
type ExpectedMetrics struct {
	ViewsP50  *float64 `json:"viewsP50,omitempty"`
	ViewsP90  *float64 `json:"viewsP90,omitempty"`
	SharesP50 *float64 `json:"sharesP50,omitempty"`
}

// EvidenceSample is the structured replacement for n=<int> tokens embedded in
// rationale strings. Both sources feed confidence estimation.
type EvidenceSample struct {
	Source string `json:"source"`
	N      int    `json:"n"`
}

// Slot is one content idea assigned to a weekly grid coordinate.
// DayOfWeek uses 1=Sunday .. 7=Saturday. Multiple slots may share a
// (dayOfWeek, blockStartHour) coordinate.
type Slot struct {
	ID               *string          `json:"slotId,omitempty"`
	DayOfWeek        int              `json:"dayOfWeek"`
	BlockStartHour   int              `json:"blockStartHour"`
	Format           string           `json:"format"`
	Categories       SlotCategories   `json:"categories"`
	Status           string           `json:"status"`
	IsExperiment     bool             `json:"isExperiment"`
	Title            *string          `json:"title,omitempty"`
	ScriptShort      *string          `json:"scriptShort,omitempty"`
	ThemeKeyword     *string          `json:"themeKeyword,omitempty"`
	Themes           []string         `json:"themes,omitempty"`
	ExpectedMetrics  ExpectedMetrics  `json:"expectedMetrics"`
	Rationale        []string         `json:"rationale,omitempty"`
	EvidenceSamples  []EvidenceSample `json:"evidenceSamples,omitempty"`
	Beats            []string         `json:"beats,omitempty"`
	RecordingTimeSec *int             `json:"recordingTimeSec,omitempty"`
	AIVersionID      *string          `json:"aiVersionId,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        *time.Time       `json:"updatedAt,omitempty"`
}

// WeekPlan owns the ordered slot list for one (creator, week) pair. Created
// lazily on first read; never hard-deleted.
type WeekPlan struct {
	ID        string    `json:"id"`
	CreatorID string    `json:"creatorId"`
	WeekStart time.Time `json:"weekStart"`
	CreatedAt time.Time `json:"createdAt"`
}

// HeatPoint scores one grid coordinate. Observed=false marks buckets with no
// posts in the window, which render differently from "low but observed".
type HeatPoint struct {
	DayOfWeek      int     `json:"dayOfWeek"`
	BlockStartHour int     `json:"blockStartHour"`
	Score          float64 `json:"score"`
	Observed       bool    `json:"observed"`
	SampleSize     int     `json:"sampleSize"`
}

// PostRecord is one entry from the historical post feed.
type PostRecord struct {
	ID               string    `json:"id"`
	CreatorID        string    `json:"creatorId"`
	PostedAt         time.Time `json:"postedAt"`
	ViewCount        int64     `json:"viewCount"`
	InteractionCount int64     `json:"interactionCount"`
}

// SubscriptionState is the billing collaborator's answer consumed by the
// access gate.
type SubscriptionState struct {
	HasPremiumAccess bool    `json:"hasPremiumAccess"`
	NormalizedStatus string  `json:"normalizedStatus"`
	Reason           *string `json:"reason,omitempty"`
	Locked           bool    `json:"locked"`
}

// SignalRef is one external signal the generation provider reports using.
type SignalRef struct {
	Title  string `json:"title"`
	Source string `json:"source"`
	URL    string `json:"url"`
}

// ValidFormat reports whether f is a known slot format.
func ValidFormat(f string) bool {
	switch f {
	case FormatReel, FormatPhoto, FormatCarousel, FormatStory, FormatLive, FormatLongVideo:
		return true
	}
	return false
}

// ValidStatus reports whether s is a known slot status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPlanned, StatusDrafted, StatusTest, StatusPosted:
		return true
	}
	return false
}

// ValidCoordinate reports whether (day, hour) is a grid coordinate.
func ValidCoordinate(day, hour int) bool {
	if day < 1 || day > 7 {
		return false
	}
	for _, h := range BlockStartHours {
		if hour == h {
			return true
		}
	}
	return false
}

// NormalizeStrategy falls back to the default strategy for empty or
// unrecognized values.
func NormalizeStrategy(s string) string {
	switch s {
	case StrategyDefault, StrategyStrongHook, StrategyMoreHumor, StrategyPracticalImperative:
		return s
	}
	return StrategyDefault
}
