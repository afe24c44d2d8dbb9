package parser

import (
	"cmp"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DurationSummary describes the durations of the closed spans of one definition.
// Outliers lie more than 1.5 IQR below Q1 (Fast) or above Q3 (Slow).
//
//nolint:govet // Field order optimized for readability
type DurationSummary struct {
	MetadataID uint64
	Count      int
	Open       int
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	StdDev     time.Duration
	Q1         time.Duration
	Median     time.Duration
	Q3         time.Duration
	IQR        time.Duration
	Fast       []*Span
	Slow       []*Span
}

// DurationStats summarizes the spans recorded for metadataID. ok is false when
// no span of that definition was closed.
func DurationStats(m *Model, metadataID uint64) (summary DurationSummary, ok bool) {
	summary.MetadataID = metadataID

	var spans []*Span
	for _, s := range m.spans {
		if s.MetadataID != metadataID {
			continue
		}
		if !s.Closed {
			summary.Open++
			continue
		}
		spans = append(spans, s)
	}
	if len(spans) == 0 {
		return summary, false
	}

	slices.SortStableFunc(spans, func(a, b *Span) int {
		da, _ := a.Duration()
		db, _ := b.Duration()
		return cmp.Compare(da, db)
	})
	sorted := make([]float64, len(spans))
	for i, s := range spans {
		d, _ := s.Duration()
		sorted[i] = float64(d)
	}

	summary.Count = len(spans)
	summary.Min = time.Duration(sorted[0])
	summary.Max = time.Duration(sorted[len(sorted)-1])
	summary.Mean = time.Duration(stat.Mean(sorted, nil))
	if len(sorted) > 1 {
		summary.StdDev = time.Duration(stat.StdDev(sorted, nil))
	}
	summary.Q1 = time.Duration(stat.Quantile(0.25, stat.Empirical, sorted, nil))
	summary.Median = time.Duration(stat.Quantile(0.5, stat.Empirical, sorted, nil))
	summary.Q3 = time.Duration(stat.Quantile(0.75, stat.Empirical, sorted, nil))
	summary.IQR = summary.Q3 - summary.Q1

	fence := summary.IQR + summary.IQR/2
	lower, upper := summary.Q1-fence, summary.Q3+fence
	for i, s := range spans {
		switch d := time.Duration(sorted[i]); {
		case d < lower:
			summary.Fast = append(summary.Fast, s)
		case d > upper:
			summary.Slow = append(summary.Slow, s)
		}
	}
	return summary, true
}

// AllDurationStats summarizes every span definition with at least one closed
// span, in metadata ID order.
func AllDurationStats(m *Model) []DurationSummary {
	var out []DurationSummary
	for _, def := range m.defs {
		if s, ok := DurationStats(m, def.ID); ok {
			out = append(out, s)
		}
	}
	return out
}
