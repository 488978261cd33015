// Package planner decides which calendar months must be fetched for a
// symbol, given its existing series and the configured lookback window.
// The plan is month-granular because both upstream APIs serve one
// month per request.
package planner

import (
	"fmt"
	"sort"
	"time"

	"github.com/ycwei/twstock/internal/calendar"
	"github.com/ycwei/twstock/internal/market"
	"github.com/ycwei/twstock/internal/series"
	"github.com/ycwei/twstock/pkg/logger"
)

// MinStartDate is the earliest date worth planning for. Neither
// upstream answers reliably before it.
var MinStartDate = calendar.Date(2010, time.January, 4)

// Thresholds is the per-market staleness bound in trading days. A
// series whose latest row is at most this many trading days behind
// today is considered fresh. TPEX gets more slack because thin OTC
// symbols can go days without a trade.
var Thresholds = map[market.Market]int{
	market.TSE:  1,
	market.TPEX: 3,
}

// defaultThreshold applies to Unknown-market symbols.
const defaultThreshold = 1

// Period is one calendar month to fetch.
type Period struct {
	Year  int
	Month time.Month
}

// String formats the period as "2024-07".
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// first returns the period's first day at midnight UTC.
func (p Period) first() time.Time {
	return calendar.Date(p.Year, p.Month, 1)
}

// Plan is the fetch decision for one symbol.
type Plan struct {
	// Periods are the months to fetch, ascending, deduplicated.
	Periods []Period

	// UpToDate is true when the series needs nothing: fresh latest row
	// and coverage spanning the lookback window.
	UpToDate bool

	// Stale is true when the periods exist because the latest row
	// trails today, as opposed to a pure backfill of older months.
	Stale bool
}

// Planner computes fetch plans. now is injectable for tests and
// defaults to time.Now.
type Planner struct {
	lookbackDays int
	logger       *logger.Logger
	now          func() time.Time
}

// New creates a planner with the configured lookback window in days.
func New(lookbackDays int, log *logger.Logger) *Planner {
	return &Planner{
		lookbackDays: lookbackDays,
		logger:       log.WithField("module", "planner"),
		now:          time.Now,
	}
}

// WithNow overrides the planner's clock. Tests pin it to a fixed day.
func (p *Planner) WithNow(now func() time.Time) *Planner {
	p.now = now
	return p
}

// Plan computes the months to fetch for one symbol.
//
// Empty series: every month from (today - lookback), clamped to
// MinStartDate, through the current month.
//
// Fresh series spanning the window: nothing to do.
//
// Fresh series spanning less than the window: backfill the window
// start up to today, skipping months the series already has rows in.
//
// Stale series: the latest row's month through the current month, so
// the partial month is refetched and newer months appended.
func (p *Planner) Plan(m market.Market, existing []series.PricePoint) Plan {
	today := calendar.Truncate(p.now().UTC())
	windowStart := p.clampStart(today.AddDate(0, 0, -p.lookbackDays))

	if len(existing) == 0 {
		return Plan{Periods: monthsBetween(windowStart, today)}
	}

	latest := series.Latest(existing)
	if p.isStale(m, latest, today) {
		return Plan{Periods: monthsBetween(latest, today), Stale: true}
	}

	if series.SpanDays(existing) >= p.lookbackDays {
		return Plan{UpToDate: true}
	}

	covered := make(map[Period]bool, len(existing))
	for _, pt := range existing {
		covered[Period{Year: pt.Date.Year(), Month: pt.Date.Month()}] = true
	}

	var periods []Period
	for _, period := range monthsBetween(windowStart, today) {
		if covered[period] {
			continue
		}
		periods = append(periods, period)
	}

	if len(periods) == 0 {
		return Plan{UpToDate: true}
	}
	return Plan{Periods: periods}
}

// isStale reports whether latest trails today by more trading days
// than the market's threshold allows.
func (p *Planner) isStale(m market.Market, latest, today time.Time) bool {
	threshold, ok := Thresholds[m]
	if !ok {
		threshold = defaultThreshold
	}
	behind := calendar.TradingDaysBetween(latest, today)
	if behind > threshold {
		p.logger.WithFields(map[string]interface{}{
			"market":       m,
			"latest":       latest.Format("2006-01-02"),
			"trading_days": behind,
		}).Debug("Series is stale")
		return true
	}
	return false
}

// clampStart keeps the plan start at or after the minimum queryable
// date.
func (p *Planner) clampStart(start time.Time) time.Time {
	if start.Before(MinStartDate) {
		return MinStartDate
	}
	return start
}

// monthsBetween lists every calendar month from start's month through
// end's month, ascending and deduplicated. Months after end's month
// never appear: the future cannot be fetched.
func monthsBetween(start, end time.Time) []Period {
	if end.Before(start) {
		return nil
	}

	seen := make(map[Period]bool)
	var periods []Period
	cur := calendar.Date(start.Year(), start.Month(), 1)
	last := calendar.Date(end.Year(), end.Month(), 1)
	for !cur.After(last) {
		period := Period{Year: cur.Year(), Month: cur.Month()}
		if !seen[period] {
			seen[period] = true
			periods = append(periods, period)
		}
		cur = cur.AddDate(0, 1, 0)
	}

	sort.Slice(periods, func(i, j int) bool {
		return periods[i].first().Before(periods[j].first())
	})
	return periods
}
