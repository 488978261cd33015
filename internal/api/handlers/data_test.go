package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ycwei/twstock/internal/api"
	"github.com/ycwei/twstock/internal/api/handlers"
	"github.com/ycwei/twstock/internal/calendar"
	"github.com/ycwei/twstock/internal/collector"
	"github.com/ycwei/twstock/internal/market"
	"github.com/ycwei/twstock/internal/planner"
	"github.com/ycwei/twstock/internal/series"
	"github.com/ycwei/twstock/internal/stocklist"
	"github.com/ycwei/twstock/internal/store"
	"github.com/ycwei/twstock/pkg/config"
	"github.com/ycwei/twstock/pkg/logger"
)

// stubSource serves one fixed month of rows for one code.
type stubSource struct {
	market  market.Market
	code    string
	rows    []series.PricePoint
	healthy bool
}

func (s *stubSource) Market() market.Market { return s.market }

func (s *stubSource) FetchMonth(_ context.Context, code string, year int, month time.Month) ([]series.PricePoint, error) {
	if code != s.code {
		return nil, nil
	}
	var out []series.PricePoint
	for _, r := range s.rows {
		if r.Date.Year() == year && r.Date.Month() == month {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubSource) FetchRange(ctx context.Context, code string, start, end time.Time) ([]series.PricePoint, error) {
	rows, _ := s.FetchMonth(ctx, code, start.Year(), start.Month())
	return series.FilterRange(rows, start, end), nil
}

func (s *stubSource) Probe(context.Context, string) bool  { return false }
func (s *stubSource) TestConnection(context.Context) bool { return s.healthy }

type env struct {
	router http.Handler
	store  *store.Store
}

func newEnv(t *testing.T, tse, tpex *stubSource) *env {
	t.Helper()
	log := logger.New(&config.Config{Env: "test", LogLevel: "error", LogFormat: "json"})

	listPath := filepath.Join(t.TempDir(), "stocks_config.txt")
	require.NoError(t, os.WriteFile(listPath, []byte("2330,台積電,TSE,Y\n5483,中美晶,TPEX,Y\n"), 0o644))
	stocks, err := stocklist.Load(listPath, log)
	require.NoError(t, err)

	classifier := market.NewClassifier(stocks.MarketMap(), tse, tpex, log)
	plan := planner.New(30, log).WithNow(func() time.Time { return calendar.Date(2024, time.July, 15) })
	st := store.New(t.TempDir(), log)

	col := collector.New(stocks, classifier, plan, st, tse, tpex, log)
	router := api.NewRouter(handlers.NewDataHandler(col, log), log)

	return &env{router: router, store: st}
}

func defaultSources() (*stubSource, *stubSource) {
	tse := &stubSource{market: market.TSE, code: "2330", healthy: true}
	tpex := &stubSource{market: market.TPEX, code: "5483", healthy: false}
	return tse, tpex
}

func doRequest(e *env, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	tse, tpex := defaultSources()
	e := newEnv(t, tse, tpex)

	rec := doRequest(e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestGetStocks(t *testing.T) {
	tse, tpex := defaultSources()
	e := newEnv(t, tse, tpex)

	rec := doRequest(e, http.MethodGet, "/api/stocks", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "2330", got[0]["code"])
	assert.Equal(t, "TSE", got[0]["market"])
}

func TestGetPrices_NotFound(t *testing.T) {
	tse, tpex := defaultSources()
	e := newEnv(t, tse, tpex)

	rec := doRequest(e, http.MethodGet, "/api/stocks/2330/prices", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPrices(t *testing.T) {
	tse, tpex := defaultSources()
	e := newEnv(t, tse, tpex)

	pts := []series.PricePoint{
		{Date: calendar.Date(2024, time.July, 12), Close: 1010},
		{Date: calendar.Date(2024, time.July, 15), Close: 1025, Change: 15, HasChange: true},
	}
	require.NoError(t, e.store.Write("2330", pts))

	rec := doRequest(e, http.MethodGet, "/api/stocks/2330/prices", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Code   string `json:"code"`
		Rows   int    `json:"rows"`
		Prices []struct {
			Date    string   `json:"date"`
			DateROC string   `json:"date_roc"`
			Close   float64  `json:"close"`
			Change  *float64 `json:"change"`
		} `json:"prices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))

	assert.Equal(t, "2330", got.Code)
	require.Equal(t, 2, got.Rows)
	assert.Equal(t, "2024-07-12", got.Prices[0].Date)
	assert.Equal(t, "113/07/12", got.Prices[0].DateROC)
	assert.Nil(t, got.Prices[0].Change)
	require.NotNil(t, got.Prices[1].Change)
	assert.InDelta(t, 15.0, *got.Prices[1].Change, 1e-9)
}

func TestGetStatus(t *testing.T) {
	tse, tpex := defaultSources()
	e := newEnv(t, tse, tpex)

	rec := doRequest(e, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Markets map[string]struct {
			Connected bool `json:"connected"`
			Symbols   int  `json:"symbols"`
		} `json:"markets"`
		TotalSymbols int `json:"total_symbols"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))

	assert.Equal(t, 2, got.TotalSymbols)
	assert.True(t, got.Markets["TSE"].Connected)
	assert.False(t, got.Markets["TPEX"].Connected)
	assert.Equal(t, 1, got.Markets["TSE"].Symbols)
}

func TestCollect_Symbol(t *testing.T) {
	tse, tpex := defaultSources()
	tse.rows = []series.PricePoint{
		{Date: calendar.Date(2024, time.July, 12), Close: 1010, Volume: 100},
	}
	e := newEnv(t, tse, tpex)

	rec := doRequest(e, http.MethodPost, "/api/collect", `{"type":"symbol","code":"2330"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Status  string `json:"status"`
		Updated int    `json:"updated"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "success", got.Status)
	assert.Equal(t, 1, got.Updated)

	stored, err := e.store.Load("2330")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestCollect_InvalidType(t *testing.T) {
	tse, tpex := defaultSources()
	e := newEnv(t, tse, tpex)

	rec := doRequest(e, http.MethodPost, "/api/collect", `{"type":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCollect_MalformedBody(t *testing.T) {
	tse, tpex := defaultSources()
	e := newEnv(t, tse, tpex)

	rec := doRequest(e, http.MethodPost, "/api/collect", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
