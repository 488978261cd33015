// Package collector orchestrates the fetch pipeline: classify the
// symbol, plan the missing months, pull them from the owning source,
// merge into the stored series and persist. It is the single entry
// point the CLI, API and scheduler all call.
// ⭐ SSOT: 抓取流程只在這裡編排
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ycwei/twstock/internal/calendar"
	"github.com/ycwei/twstock/internal/market"
	"github.com/ycwei/twstock/internal/planner"
	"github.com/ycwei/twstock/internal/series"
	"github.com/ycwei/twstock/internal/stocklist"
	"github.com/ycwei/twstock/internal/store"
	"github.com/ycwei/twstock/pkg/logger"
)

// Status classifies the outcome of one symbol's run.
type Status string

const (
	StatusUpdated  Status = "updated"
	StatusUpToDate Status = "up_to_date"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
)

// Outcome is the per-symbol result of a batch operation. Err is set
// only for StatusFailed; batch operations never abort on one symbol.
type Outcome struct {
	Code   string
	Market market.Market
	Status Status
	Rows   int
	Err    error
}

// Summary aggregates the outcomes of one batch run.
type Summary struct {
	Outcomes []Outcome
	Updated  int
	UpToDate int
	Failed   int
	Skipped  int
}

// Add records one outcome and bumps the matching counter. Callers that
// assemble a summary from single-symbol runs must use this rather than
// appending to Outcomes directly, or the counters go stale.
func (s *Summary) Add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Status {
	case StatusUpdated:
		s.Updated++
	case StatusUpToDate:
		s.UpToDate++
	case StatusFailed:
		s.Failed++
	case StatusSkipped:
		s.Skipped++
	}
}

// Collector wires the classifier, planner, sources and store into the
// fetch pipeline. Symbols run strictly serially; pacing between
// requests belongs to the sources themselves.
type Collector struct {
	stocks     *stocklist.List
	classifier *market.Classifier
	planner    *planner.Planner
	store      *store.Store
	sources    map[market.Market]market.Source
	logger     *logger.Logger
	now        func() time.Time
}

// New creates a collector over the two source adapters.
func New(
	stocks *stocklist.List,
	classifier *market.Classifier,
	plan *planner.Planner,
	st *store.Store,
	tse, tpex market.Source,
	log *logger.Logger,
) *Collector {
	return &Collector{
		stocks:     stocks,
		classifier: classifier,
		planner:    plan,
		store:      st,
		sources: map[market.Market]market.Source{
			market.TSE:  tse,
			market.TPEX: tpex,
		},
		logger: log.WithField("module", "collector"),
		now:    time.Now,
	}
}

// FetchAll runs the incremental pipeline over every active symbol.
func (c *Collector) FetchAll(ctx context.Context) Summary {
	return c.runBatch(ctx, c.stocks.ActiveCodes(), func(ctx context.Context, code string) Outcome {
		return c.FetchSymbol(ctx, code)
	})
}

// UpdateStale runs over every active symbol but fetches only the ones
// whose series is missing or stale; fresh series with short coverage
// are skipped rather than backfilled. This is the scheduler's nightly
// mode.
func (c *Collector) UpdateStale(ctx context.Context) Summary {
	return c.runBatch(ctx, c.stocks.ActiveCodes(), func(ctx context.Context, code string) Outcome {
		return c.fetchSymbol(ctx, code, true)
	})
}

// FetchAllByRange runs an explicit date-range extract over every
// active symbol, writing into the range's dedicated subdirectory.
func (c *Collector) FetchAllByRange(ctx context.Context, start, end time.Time) Summary {
	return c.runBatch(ctx, c.stocks.ActiveCodes(), func(ctx context.Context, code string) Outcome {
		return c.FetchSymbolByRange(ctx, code, start, end)
	})
}

// runBatch applies op serially; per-symbol failures are recorded, not
// propagated. Cancellation marks the remaining symbols skipped.
func (c *Collector) runBatch(ctx context.Context, codes []string, op func(context.Context, string) Outcome) Summary {
	var summary Summary
	for _, code := range codes {
		if ctx.Err() != nil {
			summary.Add(Outcome{Code: code, Status: StatusSkipped, Err: ctx.Err()})
			continue
		}
		summary.Add(op(ctx, code))
	}

	c.logger.WithFields(map[string]interface{}{
		"total":      len(summary.Outcomes),
		"updated":    summary.Updated,
		"up_to_date": summary.UpToDate,
		"failed":     summary.Failed,
		"skipped":    summary.Skipped,
	}).Info("Batch run finished")
	return summary
}

/// FetchSymbol runs the full incremental pipeline for one symbol:
// classify, plan, fetch the planned months, merge and persist.
func (c *Collector) FetchSymbol(ctx context.Context, code string) Outcome {
	return c.fetchSymbol(ctx, code, false)
}

func (c *Collector) fetchSymbol(ctx context.Context, code string, staleOnly bool) Outcome {
	m := c.classifier.Classify(ctx, code)
	if m == market.Unknown {
		return c.fetchUnclassified(ctx, code)
	}

	existing, err := c.store.Load(code)
	if err != nil && !errors.Is(err, store.ErrNoData) {
		return Outcome{Code: code, Market: m, Status: StatusFailed, Err: err}
	}

	plan := c.planner.Plan(m, existing)
	if plan.UpToDate {
		return Outcome{Code: code, Market: m, Status: StatusUpToDate, Rows: len(existing)}
	}
	if staleOnly && len(existing) > 0 && !plan.Stale {
		// Backfill-only plans wait for a full run.
		return Outcome{Code: code, Market: m, Status: StatusSkipped, Rows: len(existing)}
	}

	fetched, fetchErr := c.fetchPeriods(ctx, c.sources[m], code, plan.Periods)
	if len(fetched) == 0 {
		if fetchErr == nil {
			// Planned months exist but hold no rows: nothing new, and
			// that is not a failure.
			return Outcome{Code: code, Market: m, Status: StatusUpToDate, Rows: len(existing)}
		}
		return Outcome{Code: code, Market: m, Status: StatusFailed, Err: fetchErr}
	}

	merged := series.Merge(existing, fetched)
	if err := c.store.Write(code, merged); err != nil {
		return Outcome{Code: code, Market: m, Status: StatusFailed, Err: err}
	}

	if fetchErr != nil {
		c.logger.WithError(fetchErr).WithField("code", code).Warn("Partial fetch persisted, some months failed")
	}
	return Outcome{Code: code, Market: m, Status: StatusUpdated, Rows: len(merged)}
}

// fetchPeriods pulls every planned month from one source. Failed
// months are collected into one joined error; surviving rows are still
// returned so a partial fetch persists what it got.
func (c *Collector) fetchPeriods(ctx context.Context, src market.Source, code string, periods []planner.Period) ([]series.PricePoint, error) {
	var rows []series.PricePoint
	var errs []error
	for _, p := range periods {
		got, err := src.FetchMonth(ctx, code, p.Year, p.Month)
		if err != nil {
			errs = append(errs, fmt.Errorf("period %s: %w", p, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		rows = append(rows, got...)
	}
	return rows, errors.Join(errs...)
}

// fetchUnclassified handles symbols neither configured nor resolved by
// probing: the whole fetch is attempted against TSE first, then TPEX.
// Whichever source yields rows claims the symbol for this run.
func (c *Collector) fetchUnclassified(ctx context.Context, code string) Outcome {
	existing, err := c.store.Load(code)
	if err != nil && !errors.Is(err, store.ErrNoData) {
		return Outcome{Code: code, Market: market.Unknown, Status: StatusFailed, Err: err}
	}

	plan := c.planner.Plan(market.Unknown, existing)
	if plan.UpToDate {
		return Outcome{Code: code, Market: market.Unknown, Status: StatusUpToDate, Rows: len(existing)}
	}

	var lastErr error
	for _, m := range []market.Market{market.TSE, market.TPEX} {
		c.logger.WithFields(map[string]interface{}{
			"code":   code,
			"market": m,
		}).Info("Trying source for unclassified symbol")

		fetched, err := c.fetchPeriods(ctx, c.sources[m], code, plan.Periods)
		if err != nil {
			lastErr = err
		}
		if len(fetched) == 0 {
			continue
		}

		merged := series.Merge(existing, fetched)
		if err := c.store.Write(code, merged); err != nil {
			return Outcome{Code: code, Market: m, Status: StatusFailed, Err: err}
		}
		return Outcome{Code: code, Market: m, Status: StatusUpdated, Rows: len(merged)}
	}

	if lastErr == nil {
		lastErr = market.ErrUnclassified
	}
	return Outcome{Code: code, Market: market.Unknown, Status: StatusFailed, Err: lastErr}
}

// FetchSymbolDays fetches the last n calendar days for one symbol and
// merges them into the rolling series.
func (c *Collector) FetchSymbolDays(ctx context.Context, code string, days int) Outcome {
	today := calendar.Truncate(c.now().UTC())
	return c.mergeRange(ctx, code, today.AddDate(0, 0, -days), today)
}

// FetchSymbolByRange extracts an explicit date range for one symbol
// into the range's dedicated subdirectory. The extract is standalone:
// it is not merged with the rolling history.
func (c *Collector) FetchSymbolByRange(ctx context.Context, code string, start, end time.Time) Outcome {
	m, src, outcome := c.resolveSource(ctx, code)
	if src == nil {
		return outcome
	}

	rows, err := src.FetchRange(ctx, code, start, end)
	if err != nil {
		return Outcome{Code: code, Market: m, Status: StatusFailed, Err: err}
	}
	if len(rows) == 0 {
		return Outcome{Code: code, Market: m, Status: StatusUpToDate}
	}

	series.RecomputeChange(rows)
	if err := c.store.ForRange(start, end).Write(code, rows); err != nil {
		return Outcome{Code: code, Market: m, Status: StatusFailed, Err: err}
	}
	return Outcome{Code: code, Market: m, Status: StatusUpdated, Rows: len(rows)}
}

// mergeRange fetches [start, end] and merges into the rolling series.
func (c *Collector) mergeRange(ctx context.Context, code string, start, end time.Time) Outcome {
	m, src, outcome := c.resolveSource(ctx, code)
	if src == nil {
		return outcome
	}

	existing, err := c.store.Load(code)
	if err != nil && !errors.Is(err, store.ErrNoData) {
		return Outcome{Code: code, Market: m, Status: StatusFailed, Err: err}
	}

	rows, err := src.FetchRange(ctx, code, start, end)
	if err != nil {
		return Outcome{Code: code, Market: m, Status: StatusFailed, Err: err}
	}
	if len(rows) == 0 {
		return Outcome{Code: code, Market: m, Status: StatusUpToDate, Rows: len(existing)}
	}

	merged := series.Merge(existing, rows)
	if err := c.store.Write(code, merged); err != nil {
		return Outcome{Code: code, Market: m, Status: StatusFailed, Err: err}
	}
	return Outcome{Code: code, Market: m, Status: StatusUpdated, Rows: len(merged)}
}

// resolveSource classifies the symbol and picks its source adapter.
// For unclassifiable symbols src is nil and the failure outcome is
// already built.
func (c *Collector) resolveSource(ctx context.Context, code string) (market.Market, market.Source, Outcome) {
	m := c.classifier.Classify(ctx, code)
	if m == market.Unknown {
		return m, nil, Outcome{Code: code, Market: m, Status: StatusFailed, Err: market.ErrUnclassified}
	}
	return m, c.sources[m], Outcome{}
}

// Load returns the stored series for one symbol.
func (c *Collector) Load(code string) ([]series.PricePoint, error) {
	return c.store.Load(code)
}

// Stocks returns the configured stock list.
func (c *Collector) Stocks() *stocklist.List {
	return c.stocks
}

// TestConnections runs each source's health check.
func (c *Collector) TestConnections(ctx context.Context) map[market.Market]bool {
	results := make(map[market.Market]bool, len(c.sources))
	for m, src := range c.sources {
		ok := src.TestConnection(ctx)
		results[m] = ok
		if ok {
			c.logger.WithField("market", m).Info("Source connection OK")
		} else {
			c.logger.WithField("market", m).Warn("Source connection failed")
		}
	}
	return results
}
