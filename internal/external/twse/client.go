// Package twse fetches daily prices for listed (上市) symbols from the
// TWSE exchangeReport STOCK_DAY endpoint, one calendar month per call.
package twse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ycwei/twstock/internal/calendar"
	"github.com/ycwei/twstock/internal/market"
	"github.com/ycwei/twstock/internal/series"
	"github.com/ycwei/twstock/pkg/config"
	"github.com/ycwei/twstock/pkg/httputil"
	"github.com/ycwei/twstock/pkg/logger"
)

// MinQueryDate is the earliest date STOCK_DAY answers for. Requests
// before it must be clamped forward; the API behavior is undefined
// otherwise.
var MinQueryDate = calendar.Date(2010, time.January, 4)

// probeDate is the fixed reference period used by Probe.
var probeDate = calendar.Date(2024, time.October, 1)

// Client handles communication with the TWSE STOCK_DAY API
// ⭐ SSOT: TWSE API 呼叫只在這個客戶端
type Client struct {
	httpClient   *httputil.Client
	logger       *logger.Logger
	baseURL      string
	requestDelay time.Duration
	maxRetries   int
	limiter      *rate.Limiter
}

// NewClient creates a new TWSE client. The retry discipline for one
// period lives here, so the underlying HTTP client's own retry is off.
func NewClient(cfg config.SourceConfig, log *logger.Logger) *Client {
	httpClient := httputil.New(log, cfg.Timeout).
		DisableRetry().
		WithHeader("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36").
		WithHeader("Accept", "application/json, text/plain, */*").
		WithHeader("Referer", "https://www.twse.com.tw/")

	return &Client{
		httpClient:   httpClient,
		logger:       log.WithField("source", "twse"),
		baseURL:      cfg.BaseURL,
		requestDelay: cfg.RequestDelay,
		maxRetries:   cfg.MaxRetries,
		limiter:      rate.NewLimiter(rate.Every(cfg.RequestDelay), 1),
	}
}

// Market returns the market this source serves.
func (c *Client) Market() market.Market {
	return market.TSE
}

// stockDayResponse is the STOCK_DAY JSON envelope.
type stockDayResponse struct {
	Stat    string     `json:"stat"`
	Date    string     `json:"date"`
	Title   string     `json:"title"`
	Fields  []string   `json:"fields"`
	Data    [][]string `json:"data"`
	Message string     `json:"message"`
}

// FetchMonth retrieves one calendar month of daily rows for one symbol.
// HTTP failures and stat != "OK" are retried up to the configured bound
// with the pacing delay between attempts; after that an error is
// returned so the caller can record the period as failed. A month the
// API answers for but that has no rows yields (nil, nil).
func (c *Client) FetchMonth(ctx context.Context, code string, year int, month time.Month) ([]series.PricePoint, error) {
	return c.fetchMonth(ctx, code, year, month, c.maxRetries)
}

// fetchMonth is FetchMonth with an explicit attempt bound. The client
// is shared across goroutines, so callers that want fewer attempts
// pass the bound here instead of touching client state.
func (c *Client) fetchMonth(ctx context.Context, code string, year int, month time.Month, attempts int) ([]series.PricePoint, error) {
	reqURL := fmt.Sprintf("%s/exchangeReport/STOCK_DAY?%s", c.baseURL, url.Values{
		"response": {"json"},
		"date":     {fmt.Sprintf("%04d%02d01", year, int(month))},
		"stockNo":  {code},
	}.Encode())

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		c.logger.WithFields(map[string]interface{}{
			"code":    code,
			"period":  fmt.Sprintf("%04d-%02d", year, int(month)),
			"attempt": attempt,
		}).Debug("Fetching TWSE month")

		body, err := c.httpClient.GetString(ctx, reqURL)
		if err != nil {
			lastErr = fmt.Errorf("twse STOCK_DAY request: %w", err)
		} else {
			var resp stockDayResponse
			if err := json.Unmarshal([]byte(body), &resp); err != nil {
				// Parse failure is not retried: same bytes, same result.
				c.logger.WithError(err).WithField("code", code).Warn("TWSE response is not valid JSON")
				return nil, nil
			}

			if resp.Stat == "OK" {
				return c.parseRows(resp.Fields, resp.Data), nil
			}

			lastErr = fmt.Errorf("twse STOCK_DAY stat %q: %s", resp.Stat, resp.Message)
			c.logger.WithFields(map[string]interface{}{
				"code": code,
				"stat": resp.Stat,
			}).Warn("TWSE API returned non-OK status")
		}

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.requestDelay):
			}
		}
	}

	return nil, lastErr
}

// twseFieldMap maps STOCK_DAY header names to canonical fields.
var twseFieldMap = map[string]string{
	"日期":   "date",
	"成交股數": "volume",
	"成交金額": "turnover",
	"開盤價":  "open",
	"最高價":  "high",
	"最低價":  "low",
	"收盤價":  "close",
	"漲跌價差": "change",
	"成交筆數": "transactions",
}

// parseRows maps the positional STOCK_DAY table into PricePoints using
// the header row. Rows with an unparseable date or close are dropped,
// never the whole month.
func (c *Client) parseRows(fields []string, data [][]string) []series.PricePoint {
	if len(fields) == 0 || len(data) == 0 {
		return nil
	}

	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		if canonical, ok := twseFieldMap[strings.TrimSpace(f)]; ok {
			idx[canonical] = i
		}
	}
	dateIdx, ok := idx["date"]
	if !ok {
		c.logger.Warn("TWSE response has no date column")
		return nil
	}

	cell := func(row []string, field string) string {
		i, ok := idx[field]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var points []series.PricePoint
	for _, row := range data {
		if dateIdx >= len(row) {
			continue
		}

		date, err := calendar.ParseROC(row[dateIdx])
		if err != nil {
			c.logger.WithField("value", row[dateIdx]).Warn("Dropping row with unparseable date")
			continue
		}

		closePrice, ok := parseDecimal(cell(row, "close"))
		if !ok {
			continue
		}

		open, _ := parseDecimal(cell(row, "open"))
		high, _ := parseDecimal(cell(row, "high"))
		low, _ := parseDecimal(cell(row, "low"))

		points = append(points, series.PricePoint{
			Date:         date,
			Open:         open,
			High:         high,
			Low:          low,
			Close:        closePrice,
			Volume:       parseInteger(cell(row, "volume")),
			Turnover:     parseInteger(cell(row, "turnover")),
			Transactions: parseInteger(cell(row, "transactions")),
		})
	}

	return points
}

// FetchRange retrieves rows covering [start, end] by iterating the
// spanning months, then trimming to the exact boundary dates. start is
// clamped forward to MinQueryDate. A month that fails after retries is
// logged and skipped; the range continues.
func (c *Client) FetchRange(ctx context.Context, code string, start, end time.Time) ([]series.PricePoint, error) {
	start = calendar.Truncate(start)
	end = calendar.Truncate(end)
	if start.Before(MinQueryDate) {
		c.logger.WithField("start", start.Format("2006-01-02")).Info("Clamping range start to TWSE minimum queryable date")
		start = MinQueryDate
	}
	if end.Before(start) {
		return nil, fmt.Errorf("twse: range end %s before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	var all []series.PricePoint
	cur := calendar.Date(start.Year(), start.Month(), 1)
	last := calendar.Date(end.Year(), end.Month(), 1)

	for !cur.After(last) {
		rows, err := c.FetchMonth(ctx, code, cur.Year(), cur.Month())
		if err != nil {
			if ctx.Err() != nil {
				return all, ctx.Err()
			}
			c.logger.WithError(err).WithFields(map[string]interface{}{
				"code":   code,
				"period": cur.Format("2006-01"),
			}).Warn("Skipping failed month in range fetch")
		}
		all = append(all, rows...)
		cur = cur.AddDate(0, 1, 0)
	}

	return series.FilterRange(all, start, end), nil
}

// Probe reports whether the symbol has data for the fixed reference
// period, using a single attempt.
func (c *Client) Probe(ctx context.Context, code string) bool {
	rows, err := c.fetchMonth(ctx, code, probeDate.Year(), probeDate.Month(), 1)
	return err == nil && len(rows) > 0
}

// TestConnection fetches one recent month of 台積電 (2330) as a health
// check.
func (c *Client) TestConnection(ctx context.Context) bool {
	ref := time.Now().UTC().AddDate(0, -1, 0)
	rows, err := c.FetchMonth(ctx, "2330", ref.Year(), ref.Month())
	if err != nil {
		c.logger.WithError(err).Warn("TWSE connection test failed")
		return false
	}
	return len(rows) > 0
}

// parseDecimal normalizes a TWSE numeric cell: thousands separators
// are stripped and the no-trade placeholder "--" becomes 0.
func parseDecimal(s string) (float64, bool) {
	s = normalizeNumeric(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseInteger normalizes an integer cell the same way; fractional
// values are truncated.
func parseInteger(s string) int64 {
	v, ok := parseDecimal(s)
	if !ok {
		return 0
	}
	return int64(v)
}

func normalizeNumeric(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "+")
	if s == "--" || s == "X" {
		s = "0"
	}
	return s
}
