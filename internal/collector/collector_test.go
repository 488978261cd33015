package collector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ycwei/twstock/internal/calendar"
	"github.com/ycwei/twstock/internal/market"
	"github.com/ycwei/twstock/internal/planner"
	"github.com/ycwei/twstock/internal/series"
	"github.com/ycwei/twstock/internal/stocklist"
	"github.com/ycwei/twstock/internal/store"
	"github.com/ycwei/twstock/pkg/config"
	"github.com/ycwei/twstock/pkg/logger"
)

var testToday = calendar.Date(2024, time.July, 15)

// fakeSource serves canned month data keyed by "code/2024-07".
type fakeSource struct {
	market  market.Market
	months  map[string][]series.PricePoint
	errs    map[string]error
	probes  map[string]bool
	healthy bool
	calls   []string
}

func (f *fakeSource) Market() market.Market { return f.market }

func (f *fakeSource) FetchMonth(_ context.Context, code string, year int, month time.Month) ([]series.PricePoint, error) {
	key := fmt.Sprintf("%s/%04d-%02d", code, year, int(month))
	f.calls = append(f.calls, key)
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	return f.months[key], nil
}

func (f *fakeSource) FetchRange(ctx context.Context, code string, start, end time.Time) ([]series.PricePoint, error) {
	var all []series.PricePoint
	cur := calendar.Date(start.Year(), start.Month(), 1)
	last := calendar.Date(end.Year(), end.Month(), 1)
	for !cur.After(last) {
		rows, err := f.FetchMonth(ctx, code, cur.Year(), cur.Month())
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
		cur = cur.AddDate(0, 1, 0)
	}
	return series.FilterRange(all, start, end), nil
}

func (f *fakeSource) Probe(_ context.Context, code string) bool { return f.probes[code] }
func (f *fakeSource) TestConnection(_ context.Context) bool     { return f.healthy }

func day(y int, m time.Month, d int, close float64) series.PricePoint {
	return series.PricePoint{Date: calendar.Date(y, m, d), Close: close, Volume: 1000}
}

type fixture struct {
	collector *Collector
	store     *store.Store
	tse       *fakeSource
	tpex      *fakeSource
}

// newFixture builds a collector over temp storage and a stock list
// containing 2330 (TSE) and 5483 (TPEX).
func newFixture(t *testing.T, tse, tpex *fakeSource) *fixture {
	t.Helper()
	log := logger.New(&config.Config{Env: "test", LogLevel: "error", LogFormat: "json"})

	listPath := filepath.Join(t.TempDir(), "stocks_config.txt")
	content := "# test universe\n2330,台積電,TSE,Y\n5483,中美晶,TPEX,Y\n"
	require.NoError(t, os.WriteFile(listPath, []byte(content), 0o644))
	stocks, err := stocklist.Load(listPath, log)
	require.NoError(t, err)

	classifier := market.NewClassifier(stocks.MarketMap(), tse, tpex, log)

	plan := planner.New(30, log).WithNow(func() time.Time { return testToday })
	st := store.New(t.TempDir(), log)

	c := New(stocks, classifier, plan, st, tse, tpex, log)
	c.now = func() time.Time { return testToday }

	return &fixture{collector: c, store: st, tse: tse, tpex: tpex}
}

func TestFetchSymbol_InitialFetch(t *testing.T) {
	tse := &fakeSource{
		market: market.TSE,
		months: map[string][]series.PricePoint{
			"2330/2024-06": {day(2024, time.June, 28, 960)},
			"2330/2024-07": {day(2024, time.July, 12, 1010), day(2024, time.July, 15, 1025)},
		},
	}
	fx := newFixture(t, tse, &fakeSource{market: market.TPEX})

	outcome := fx.collector.FetchSymbol(context.Background(), "2330")

	assert.Equal(t, StatusUpdated, outcome.Status)
	assert.Equal(t, market.TSE, outcome.Market)
	assert.Equal(t, 3, outcome.Rows)

	stored, err := fx.store.Load("2330")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.False(t, stored[0].HasChange)
	assert.InDelta(t, 50.0, stored[1].Change, 1e-9)
	assert.InDelta(t, 15.0, stored[2].Change, 1e-9)
}

func TestFetchSymbol_UpToDate(t *testing.T) {
	tse := &fakeSource{market: market.TSE}
	fx := newFixture(t, tse, &fakeSource{market: market.TPEX})

	// Fresh series spanning the window: latest Friday 2024-07-12,
	// today Monday 2024-07-15 is 1 trading day behind.
	var pts []series.PricePoint
	for i := 0; i < 31; i++ {
		pts = append(pts, series.PricePoint{Date: calendar.Date(2024, time.June, 12).AddDate(0, 0, i), Close: 900})
	}
	require.NoError(t, fx.store.Write("2330", pts))

	outcome := fx.collector.FetchSymbol(context.Background(), "2330")

	assert.Equal(t, StatusUpToDate, outcome.Status)
	assert.Empty(t, tse.calls)
}

func TestFetchAll_FailureDoesNotAbortBatch(t *testing.T) {
	bang := errors.New("upstream down")
	tse := &fakeSource{
		market: market.TSE,
		errs: map[string]error{
			"2330/2024-06": bang,
			"2330/2024-07": bang,
		},
	}
	tpex := &fakeSource{
		market: market.TPEX,
		months: map[string][]series.PricePoint{
			"5483/2024-07": {day(2024, time.July, 15, 74)},
		},
	}
	fx := newFixture(t, tse, tpex)

	summary := fx.collector.FetchAll(context.Background())

	require.Len(t, summary.Outcomes, 2)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Updated)

	assert.Equal(t, StatusFailed, summary.Outcomes[0].Status)
	assert.ErrorIs(t, summary.Outcomes[0].Err, bang)
	assert.Equal(t, StatusUpdated, summary.Outcomes[1].Status)
}

func TestFetchSymbol_UnconfiguredFallsBackToSecondSource(t *testing.T) {
	tse := &fakeSource{market: market.TSE}
	tpex := &fakeSource{
		market: market.TPEX,
		months: map[string][]series.PricePoint{
			"6446/2024-07": {day(2024, time.July, 15, 120)},
		},
	}
	fx := newFixture(t, tse, tpex)

	outcome := fx.collector.FetchSymbol(context.Background(), "6446")

	assert.Equal(t, StatusUpdated, outcome.Status)
	assert.Equal(t, market.TPEX, outcome.Market)
	// TSE was tried first for the whole symbol.
	assert.NotEmpty(t, tse.calls)
}

func TestFetchSymbol_UnclassifiableFails(t *testing.T) {
	fx := newFixture(t, &fakeSource{market: market.TSE}, &fakeSource{market: market.TPEX})

	outcome := fx.collector.FetchSymbol(context.Background(), "0000")

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.ErrorIs(t, outcome.Err, market.ErrUnclassified)
}

func TestUpdateStale_SkipsBackfillOnlyPlans(t *testing.T) {
	tse := &fakeSource{market: market.TSE}
	tpex := &fakeSource{market: market.TPEX}
	fx := newFixture(t, tse, tpex)

	// Fresh but short coverage: latest 2024-07-12 (1 trading day
	// behind), only two weeks of rows.
	var pts []series.PricePoint
	for i := 0; i < 12; i++ {
		pts = append(pts, series.PricePoint{Date: calendar.Date(2024, time.July, 1).AddDate(0, 0, i), Close: 900})
	}
	require.NoError(t, fx.store.Write("2330", pts))

	summary := fx.collector.UpdateStale(context.Background())

	var outcome2330 Outcome
	for _, o := range summary.Outcomes {
		if o.Code == "2330" {
			outcome2330 = o
		}
	}
	assert.Equal(t, StatusSkipped, outcome2330.Status)
	assert.Empty(t, tse.calls)
}

func TestFetchSymbolByRange_WritesIntoRangeSubdir(t *testing.T) {
	tse := &fakeSource{
		market: market.TSE,
		months: map[string][]series.PricePoint{
			"2330/2024-06": {day(2024, time.June, 5, 940), day(2024, time.June, 28, 960)},
		},
	}
	fx := newFixture(t, tse, &fakeSource{market: market.TPEX})

	start := calendar.Date(2024, time.June, 10)
	end := calendar.Date(2024, time.June, 30)
	outcome := fx.collector.FetchSymbolByRange(context.Background(), "2330", start, end)

	assert.Equal(t, StatusUpdated, outcome.Status)
	assert.Equal(t, 1, outcome.Rows)

	rangeStore := fx.store.ForRange(start, end)
	stored, err := rangeStore.Load("2330")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, calendar.Date(2024, time.June, 28), stored[0].Date)

	// The rolling history is untouched.
	_, err = fx.store.Load("2330")
	assert.ErrorIs(t, err, store.ErrNoData)
}

func TestFetchSymbolDays_MergesIntoRollingSeries(t *testing.T) {
	tse := &fakeSource{
		market: market.TSE,
		months: map[string][]series.PricePoint{
			"2330/2024-07": {day(2024, time.July, 12, 1010), day(2024, time.July, 15, 1025)},
		},
	}
	fx := newFixture(t, tse, &fakeSource{market: market.TPEX})

	require.NoError(t, fx.store.Write("2330", []series.PricePoint{day(2024, time.July, 10, 1000)}))

	outcome := fx.collector.FetchSymbolDays(context.Background(), "2330", 5)

	assert.Equal(t, StatusUpdated, outcome.Status)
	stored, err := fx.store.Load("2330")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestTestConnections(t *testing.T) {
	fx := newFixture(t,
		&fakeSource{market: market.TSE, healthy: true},
		&fakeSource{market: market.TPEX, healthy: false},
	)

	results := fx.collector.TestConnections(context.Background())

	assert.True(t, results[market.TSE])
	assert.False(t, results[market.TPEX])
}

func TestSummaryAdd_KeepsCountersInStep(t *testing.T) {
	var s Summary
	s.Add(Outcome{Code: "2330", Status: StatusUpdated, Rows: 20})
	s.Add(Outcome{Code: "5483", Status: StatusUpToDate})
	s.Add(Outcome{Code: "6446", Status: StatusFailed})
	s.Add(Outcome{Code: "9999", Status: StatusSkipped})

	assert.Len(t, s.Outcomes, 4)
	assert.Equal(t, 1, s.Updated)
	assert.Equal(t, 1, s.UpToDate)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Skipped)
}
