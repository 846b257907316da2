package analytics

import (
	"fmt"
	"time"

	"github.com/criadorlab/planner/backend/internal/models"
)

// DefaultWindowDays is the recency window for heatmap and insight
// computation. Older posts are excluded entirely, not down-weighted.
const DefaultWindowDays = 80

// SegmentBucket is one coarse hour-of-day rollup bucket for summary displays.
type SegmentBucket struct {
	Segment    string  `json:"segment"`
	Label      string  `json:"label"`
	Score      float64 `json:"score"`
	SampleSize int     `json:"sampleSize"`
}

// Insights is the display-oriented summary computed over the same recency
// window as the fine heatmap.
type Insights struct {
	ViewsP50        *float64        `json:"viewsP50"`
	ViewsP75        *float64        `json:"viewsP75"`
	InteractionsP50 *float64        `json:"interactionsP50"`
	InteractionsP75 *float64        `json:"interactionsP75"`
	TopHourLabel    string          `json:"topHourLabel"`
	HeatmapBuckets  []SegmentBucket `json:"heatmapBuckets"`
}

type daySegment struct {
	name  string
	label string
}

// Coarse day segments for the hour-of-day rollup. This is a distinct,
// coarser aggregation than the (day, block) grid, not a derivative of it.
var daySegments = []daySegment{
	{"morning", "morning (5h-11h)"},
	{"afternoon", "afternoon (12h-17h)"},
	{"evening", "evening (18h-22h)"},
	{"overnight", "overnight (23h-4h)"},
}

func segmentForHour(h int) string {
	switch {
	case h >= 5 && h <= 11:
		return "morning"
	case h >= 12 && h <= 17:
		return "afternoon"
	case h >= 18 && h <= 22:
		return "evening"
	default:
		return "overnight"
	}
}

// blockForHour maps a post hour onto the fixed block set, or -1 when the hour
// falls outside every block window (such posts still count in the coarse
// rollup, just not in the fine grid).
func blockForHour(h int) int {
	switch {
	case h >= 9 && h < 12:
		return 9
	case h >= 12 && h < 15:
		return 12
	case h >= 15 && h < 18:
		return 15
	case h >= 18 && h < 21:
		return 18
	}
	return -1
}

func engagement(p models.PostRecord) float64 {
	return float64(p.ViewCount + p.InteractionCount)
}

func inWindow(p models.PostRecord, now time.Time, window time.Duration) bool {
	if p.PostedAt.After(now) {
		return false
	}
	return now.Sub(p.PostedAt) <= window
}

// ComputeHeatmap scores every (dayOfWeek, blockStartHour) coordinate for
// posts published within window of now. Scores are bucket mean engagement
// divided by the creator's global per-post P90 engagement, clamped to [0,1].
// Empty buckets score 0 with Observed=false. Output order is deterministic:
// day ascending, block ascending.
func ComputeHeatmap(posts []models.PostRecord, now time.Time, window time.Duration) []models.HeatPoint {
	if window <= 0 {
		window = DefaultWindowDays * 24 * time.Hour
	}

	type bucket struct {
		sum float64
		n   int
	}
	buckets := make(map[[2]int]*bucket)
	var global []float64
	for _, p := range posts {
		if !inWindow(p, now, window) {
			continue
		}
		global = append(global, engagement(p))
		day := int(p.PostedAt.Weekday()) + 1 // 1=Sunday .. 7=Saturday
		block := blockForHour(p.PostedAt.Hour())
		if block < 0 {
			continue
		}
		key := [2]int{day, block}
		b := buckets[key]
		if b == nil {
			b = &bucket{}
			buckets[key] = b
		}
		b.sum += engagement(p)
		b.n++
	}

	p90 := Percentile(FiniteSortedSample(global), 0.90)

	points := make([]models.HeatPoint, 0, 7*len(models.BlockStartHours))
	for day := 1; day <= 7; day++ {
		for _, block := range models.BlockStartHours {
			pt := models.HeatPoint{DayOfWeek: day, BlockStartHour: block}
			if b := buckets[[2]int{day, block}]; b != nil && b.n > 0 {
				pt.Observed = true
				pt.SampleSize = b.n
				if p90 != nil && *p90 > 0 {
					score := (b.sum / float64(b.n)) / *p90
					if score > 1 {
						score = 1
					}
					pt.Score = score
				}
			}
			points = append(points, pt)
		}
	}
	return points
}

// HourRollup aggregates posts into coarse day segments for the single
// best-hour recommendation. Same window and scoring transform as the fine
// grid so the two views rank consistently.
func HourRollup(posts []models.PostRecord, now time.Time, window time.Duration) []SegmentBucket {
	if window <= 0 {
		window = DefaultWindowDays * 24 * time.Hour
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	var global []float64
	for _, p := range posts {
		if !inWindow(p, now, window) {
			continue
		}
		seg := segmentForHour(p.PostedAt.Hour())
		sums[seg] += engagement(p)
		counts[seg]++
		global = append(global, engagement(p))
	}
	p90 := Percentile(FiniteSortedSample(global), 0.90)

	out := make([]SegmentBucket, 0, len(daySegments))
	for _, seg := range daySegments {
		b := SegmentBucket{Segment: seg.name, Label: seg.label, SampleSize: counts[seg.name]}
		if b.SampleSize > 0 && p90 != nil && *p90 > 0 {
			score := (sums[seg.name] / float64(b.SampleSize)) / *p90
			if score > 1 {
				score = 1
			}
			b.Score = score
		}
		out = append(out, b)
	}
	return out
}

// ComputeInsights produces the coarse summary exposed by the insights
// endpoint.
func ComputeInsights(posts []models.PostRecord, now time.Time, window time.Duration) Insights {
	if window <= 0 {
		window = DefaultWindowDays * 24 * time.Hour
	}

	var views, interactions []float64
	for _, p := range posts {
		if !inWindow(p, now, window) {
			continue
		}
		views = append(views, float64(p.ViewCount))
		interactions = append(interactions, float64(p.InteractionCount))
	}
	views = FiniteSortedSample(views)
	interactions = FiniteSortedSample(interactions)

	buckets := HourRollup(posts, now, window)
	top := ""
	best := -1.0
	for _, b := range buckets {
		if b.SampleSize > 0 && b.Score > best {
			best = b.Score
			top = b.Label
		}
	}

	return Insights{
		ViewsP50:        Percentile(views, 0.50),
		ViewsP75:        Percentile(views, 0.75),
		InteractionsP50: Percentile(interactions, 0.50),
		InteractionsP75: Percentile(interactions, 0.75),
		TopHourLabel:    top,
		HeatmapBuckets:  buckets,
	}
}

// BlockExpectedMetrics derives percentile point-estimates for a grid
// coordinate from the creator's windowed history, falling back to the global
// sample when the coordinate has no observed posts.
func BlockExpectedMetrics(posts []models.PostRecord, day, block int, now time.Time, window time.Duration) models.ExpectedMetrics {
	if window <= 0 {
		window = DefaultWindowDays * 24 * time.Hour
	}

	var bucketViews, bucketShares, allViews, allShares []float64
	for _, p := range posts {
		if !inWindow(p, now, window) {
			continue
		}
		allViews = append(allViews, float64(p.ViewCount))
		allShares = append(allShares, float64(p.InteractionCount))
		if int(p.PostedAt.Weekday())+1 == day && blockForHour(p.PostedAt.Hour()) == block {
			bucketViews = append(bucketViews, float64(p.ViewCount))
			bucketShares = append(bucketShares, float64(p.InteractionCount))
		}
	}
	views := bucketViews
	shares := bucketShares
	if len(views) == 0 {
		views = allViews
		shares = allShares
	}
	sortedViews := FiniteSortedSample(views)
	sortedShares := FiniteSortedSample(shares)
	return models.ExpectedMetrics{
		ViewsP50:  Percentile(sortedViews, 0.50),
		ViewsP90:  Percentile(sortedViews, 0.90),
		SharesP50: Percentile(sortedShares, 0.50),
	}
}

// BlockLabel renders a grid coordinate for logs and success criteria,
// e.g. "Tue 12h-15h".
func BlockLabel(day, block int) string {
	names := []string{"", "Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}
	name := "?"
	if day >= 1 && day <= 7 {
		name = names[day]
	}
	return fmt.Sprintf("%s %dh-%dh", name, block, block+3)
}
