// Package series defines the canonical daily price model and the
// merge/dedup rules that keep a per-symbol series consistent.
package series

import (
	"sort"
	"time"
)

// PricePoint is one trading day for one symbol. Prices are in NTD,
// volume in shares, turnover in NTD, regardless of the source's native
// units. Change is derived, never taken from the source.
type PricePoint struct {
	Date         time.Time
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       int64
	Turnover     int64
	Transactions int64

	// Change is the day-over-day close delta. HasChange is false on the
	// first row of a series, where no previous close exists.
	Change    float64
	HasChange bool
}

// dateKey collapses a date to its calendar day for dedup purposes.
func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Merge unions existing rows with newly fetched rows, drops duplicate
// trading dates keeping the incoming (most recently fetched) value,
// sorts ascending by date and recomputes the day-over-day change over
// the whole merged series. Inputs are not modified.
func Merge(existing, incoming []PricePoint) []PricePoint {
	byDate := make(map[string]PricePoint, len(existing)+len(incoming))
	for _, p := range existing {
		byDate[dateKey(p.Date)] = p
	}
	// Incoming wins on a duplicate date.
	for _, p := range incoming {
		byDate[dateKey(p.Date)] = p
	}

	merged := make([]PricePoint, 0, len(byDate))
	for _, p := range byDate {
		merged = append(merged, p)
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Date.Before(merged[j].Date)
	})

	RecomputeChange(merged)
	return merged
}

// RecomputeChange rewrites the change field across the full series.
// Merging can insert rows earlier than the previous first row, so a
// partial recompute over appended rows is never sufficient.
func RecomputeChange(points []PricePoint) {
	for i := range points {
		if i == 0 {
			points[i].Change = 0
			points[i].HasChange = false
			continue
		}
		points[i].Change = points[i].Close - points[i-1].Close
		points[i].HasChange = true
	}
}

// FilterRange returns the points whose date lies in [start, end].
func FilterRange(points []PricePoint, start, end time.Time) []PricePoint {
	out := make([]PricePoint, 0, len(points))
	for _, p := range points {
		if p.Date.Before(start) || p.Date.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Latest returns the most recent date in the series, or the zero time
// for an empty series. Assumes ascending order is not guaranteed.
func Latest(points []PricePoint) time.Time {
	var latest time.Time
	for _, p := range points {
		if p.Date.After(latest) {
			latest = p.Date
		}
	}
	return latest
}

// Earliest returns the oldest date in the series, or the zero time for
// an empty series.
func Earliest(points []PricePoint) time.Time {
	var earliest time.Time
	for _, p := range points {
		if earliest.IsZero() || p.Date.Before(earliest) {
			earliest = p.Date
		}
	}
	return earliest
}

// SpanDays returns the inclusive day count between the earliest and
// latest rows, or 0 for an empty series.
func SpanDays(points []PricePoint) int {
	if len(points) == 0 {
		return 0
	}
	first := Earliest(points)
	last := Latest(points)
	return int(last.Sub(first).Hours()/24) + 1
}
