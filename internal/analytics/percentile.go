package analytics

import (
	"math"
	"sort"
)

// Percentile returns the interpolated percentile of sorted (ascending) values
// at ratio in [0,1], or nil for an empty sample. A single-element sample
// returns that element for any ratio.
//
// Both the per-slot expected-metric estimates and the cross-post insight
// summaries go through this one function; if the two call sites ever diverge
// in rounding or interpolation, numbers on different screens stop agreeing.
func Percentile(sorted []float64, ratio float64) *float64 {
	n := len(sorted)
	if n == 0 {
		return nil
	}
	if n == 1 {
		v := sorted[0]
		return &v
	}
	if ratio <= 0 {
		v := sorted[0]
		return &v
	}
	if ratio >= 1 {
		v := sorted[n-1]
		return &v
	}
	idx := float64(n-1) * ratio
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	w := idx - float64(lo)
	v := sorted[lo]*(1-w) + sorted[hi]*w
	return &v
}

// FiniteSortedSample filters values to finite, positive numbers and returns
// them sorted ascending, ready for Percentile.
func FiniteSortedSample(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			continue
		}
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}
