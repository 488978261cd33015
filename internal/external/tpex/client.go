// Package tpex fetches daily prices for OTC (上櫃) symbols from the
// Taipei Exchange tradingStock endpoint. The endpoint has served JSON,
// CSV-ish text and plain HTML over the years, so parsing tries all
// three shapes in that order.
package tpex

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/ycwei/twstock/internal/calendar"
	"github.com/ycwei/twstock/internal/market"
	"github.com/ycwei/twstock/internal/series"
	"github.com/ycwei/twstock/pkg/config"
	"github.com/ycwei/twstock/pkg/httputil"
	"github.com/ycwei/twstock/pkg/logger"
)

// probeDate is the fixed reference period used by Probe.
var probeDate = calendar.Date(2024, time.October, 1)

// maxJitter is added on top of the base request delay so the request
// cadence is not perfectly regular.
const maxJitter = 500 * time.Millisecond

// Client handles communication with the TPEX tradingStock API
// ⭐ SSOT: TPEX API 呼叫只在這個客戶端
type Client struct {
	httpClient   *httputil.Client
	logger       *logger.Logger
	baseURL      string
	requestDelay time.Duration
	maxRetries   int
	limiter      *rate.Limiter
	jitter       func() time.Duration
}

// NewClient creates a new TPEX client. Per-period retry lives here, so
// the underlying HTTP client's own retry is off.
func NewClient(cfg config.SourceConfig, log *logger.Logger) *Client {
	httpClient := httputil.New(log, cfg.Timeout).
		DisableRetry().
		WithHeader("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36").
		WithHeader("Accept", "application/json, text/plain, */*").
		WithHeader("Referer", "https://www.tpex.org.tw/")

	return &Client{
		httpClient:   httpClient,
		logger:       log.WithField("source", "tpex"),
		baseURL:      cfg.BaseURL,
		requestDelay: cfg.RequestDelay,
		maxRetries:   cfg.MaxRetries,
		limiter:      rate.NewLimiter(rate.Every(cfg.RequestDelay), 1),
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(maxJitter)))
		},
	}
}

// Market returns the market this source serves.
func (c *Client) Market() market.Market {
	return market.TPEX
}

// tradingStockResponse covers both JSON envelopes the endpoint has
// used: a flat fields/data pair and a tables wrapper.
type tradingStockResponse struct {
	Stat   string     `json:"stat"`
	Fields []string   `json:"fields"`
	Data   [][]string `json:"data"`
	Tables []struct {
		Fields []string   `json:"fields"`
		Data   [][]string `json:"data"`
	} `json:"tables"`
}

// FetchMonth retrieves one calendar month of daily rows for one
// symbol. HTTP failures and unrecognizable response shapes are retried
// up to the configured bound; a recognizable response with zero rows
// means the symbol has no data that month and yields (nil, nil).
func (c *Client) FetchMonth(ctx context.Context, code string, year int, month time.Month) ([]series.PricePoint, error) {
	return c.fetchMonth(ctx, code, year, month, c.maxRetries)
}

// fetchMonth is FetchMonth with an explicit attempt bound. The client
// is shared across goroutines, so callers that want fewer attempts
// pass the bound here instead of touching client state.
func (c *Client) fetchMonth(ctx context.Context, code string, year int, month time.Month, attempts int) ([]series.PricePoint, error) {
	reqURL := fmt.Sprintf("%s/www/zh-tw/afterTrading/tradingStock?%s", c.baseURL, url.Values{
		"code":     {code},
		"date":     {fmt.Sprintf("%04d/%02d/01", year, int(month))},
		"id":       {""},
		"response": {"utf-8"},
	}.Encode())

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if d := c.jitter(); d > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d):
			}
		}

		c.logger.WithFields(map[string]interface{}{
			"code":    code,
			"period":  fmt.Sprintf("%04d-%02d", year, int(month)),
			"attempt": attempt,
		}).Debug("Fetching TPEX month")

		body, err := c.httpClient.GetString(ctx, reqURL)
		if err != nil {
			lastErr = fmt.Errorf("tpex tradingStock request: %w", err)
		} else {
			rows, ok := c.parseBody(body)
			if ok {
				return rows, nil
			}
			lastErr = fmt.Errorf("tpex tradingStock: unrecognizable response shape")
			c.logger.WithField("code", code).Warn("TPEX response matched no known shape")
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

// parseBody tries the three historical response shapes in order. ok is
// false only when none of them matched.
func (c *Client) parseBody(body string) ([]series.PricePoint, bool) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return nil, false
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if rows, ok := c.parseJSON(trimmed); ok {
			return rows, true
		}
	}
	if strings.HasPrefix(trimmed, "<") {
		if rows, ok := c.parseHTML(trimmed); ok {
			return rows, true
		}
		return nil, false
	}
	if rows, ok := c.parseCSVText(trimmed); ok {
		return rows, true
	}
	return nil, false
}

func (c *Client) parseJSON(body string) ([]series.PricePoint, bool) {
	var resp tradingStockResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, false
	}

	fields, data := resp.Fields, resp.Data
	for _, t := range resp.Tables {
		if len(t.Data) > 0 {
			fields, data = t.Fields, t.Data
			break
		}
	}

	// An empty JSON answer is still a recognized shape: no data that
	// month, not a failure.
	if len(fields) == 0 {
		return nil, len(resp.Tables) > 0 || resp.Stat != "" || resp.Data != nil
	}

	cols, ok := mapColumns(fields)
	if !ok {
		return nil, false
	}
	return c.parseRows(cols, data), true
}

// parseCSVText handles the CSV-ish text shape: preamble lines, then a
// header line carrying the column vocabulary, then quoted data lines.
func (c *Client) parseCSVText(body string) ([]series.PricePoint, bool) {
	lines := strings.Split(body, "\n")

	headerIdx := -1
	var cols columns
	for i, line := range lines {
		fields, err := splitCSVLine(line)
		if err != nil {
			continue
		}
		if m, ok := mapColumns(fields); ok {
			headerIdx, cols = i, m
			break
		}
	}
	if headerIdx < 0 {
		return nil, false
	}

	var data [][]string
	for _, line := range lines[headerIdx+1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields, err := splitCSVLine(line)
		if err != nil || len(fields) < 2 {
			continue
		}
		data = append(data, fields)
	}

	return c.parseRows(cols, data), true
}

func splitCSVLine(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(strings.TrimSpace(line)))
	r.TrimLeadingSpace = true
	return r.Read()
}

// parseHTML handles the plain HTML table shape via goquery: the first
// table whose header row carries the column vocabulary.
func (c *Client) parseHTML(body string) ([]series.PricePoint, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, false
	}

	var points []series.PricePoint
	matched := false
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		var header []string
		table.Find("tr").First().Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			header = append(header, strings.TrimSpace(cell.Text()))
		})

		cols, ok := mapColumns(header)
		if !ok {
			return true
		}
		matched = true

		var data [][]string
		table.Find("tr").Each(func(i int, row *goquery.Selection) {
			if i == 0 {
				return
			}
			var cells []string
			row.Find("td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, strings.TrimSpace(cell.Text()))
			})
			if len(cells) > 0 {
				data = append(data, cells)
			}
		})

		points = c.parseRows(cols, data)
		return false
	})

	return points, matched
}

// columns is the resolved header layout: positional index per field
// plus the unit multipliers the header vocabulary implies.
type columns struct {
	idx              map[string]int
	volumeMultiplier int64
	turnoverScale    int64
}

// headerAliases maps every header spelling the endpoint has used to a
// canonical field. thousand marks the spellings that report in
// thousand-share (仟股/張) or thousand-NTD (仟元) units; those columns
// are scaled to shares/NTD on parse.
var headerAliases = map[string]struct {
	field    string
	thousand bool
}{
	"日期":   {field: "date"},
	"日 期":  {field: "date"},
	"成交仟股": {field: "volume", thousand: true},
	"成交張數": {field: "volume", thousand: true},
	"成交股數": {field: "volume"},
	"成交仟元": {field: "turnover", thousand: true},
	"成交金額": {field: "turnover"},
	"開盤":   {field: "open"},
	"開盤價":  {field: "open"},
	"最高":   {field: "high"},
	"最高價":  {field: "high"},
	"最低":   {field: "low"},
	"最低價":  {field: "low"},
	"收盤":   {field: "close"},
	"收盤價":  {field: "close"},
	"漲跌":   {field: "change"},
	"漲跌價差": {field: "change"},
	"筆數":   {field: "transactions"},
	"成交筆數": {field: "transactions"},
	"交易筆數": {field: "transactions"},
}

// mapColumns resolves a header row against the alias vocabulary. A
// header qualifies only if it names at least a date and a close column.
func mapColumns(fields []string) (columns, bool) {
	cols := columns{
		idx:              make(map[string]int),
		volumeMultiplier: 1,
		turnoverScale:    1,
	}
	for i, f := range fields {
		alias, ok := headerAliases[strings.TrimSpace(f)]
		if !ok {
			continue
		}
		if _, seen := cols.idx[alias.field]; seen {
			continue
		}
		cols.idx[alias.field] = i
		if alias.thousand {
			switch alias.field {
			case "volume":
				cols.volumeMultiplier = 1000
			case "turnover":
				cols.turnoverScale = 1000
			}
		}
	}

	_, hasDate := cols.idx["date"]
	_, hasClose := cols.idx["close"]
	return cols, hasDate && hasClose
}

// parseRows maps positional rows into PricePoints. Rows with an
// unparseable date or close are dropped, never the whole month.
func (c *Client) parseRows(cols columns, data [][]string) []series.PricePoint {
	cell := func(row []string, field string) string {
		i, ok := cols.idx[field]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var points []series.PricePoint
	for _, row := range data {
		dateStr := cell(row, "date")
		if dateStr == "" {
			continue
		}
		date, err := calendar.ParseROC(dateStr)
		if err != nil {
			// Footer and summary lines land here too, so drop quietly.
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
			Volume:       parseInteger(cell(row, "volume")) * cols.volumeMultiplier,
			Turnover:     parseInteger(cell(row, "turnover")) * cols.turnoverScale,
			Transactions: parseInteger(cell(row, "transactions")),
		})
	}

	return points
}

// FetchRange retrieves rows covering [start, end] by iterating the
// spanning months, then trimming to the exact boundary dates. A month
// that fails after retries is logged and skipped; the range continues.
func (c *Client) FetchRange(ctx context.Context, code string, start, end time.Time) ([]series.PricePoint, error) {
	start = calendar.Truncate(start)
	end = calendar.Truncate(end)
	if end.Before(start) {
		return nil, fmt.Errorf("tpex: range end %s before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
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

// TestConnection fetches one recent month of 中美晶 (5483) as a health
// check.
func (c *Client) TestConnection(ctx context.Context) bool {
	ref := time.Now().UTC().AddDate(0, -1, 0)
	rows, err := c.FetchMonth(ctx, "5483", ref.Year(), ref.Month())
	if err != nil {
		c.logger.WithError(err).Warn("TPEX connection test failed")
		return false
	}
	return len(rows) > 0
}

// parseDecimal normalizes a TPEX numeric cell: thousands separators
// stripped, no-trade placeholders become 0.
func parseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "+")
	if s == "--" || s == "---" || s == "X" {
		s = "0"
	}
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseInteger(s string) int64 {
	v, ok := parseDecimal(s)
	if !ok {
		return 0
	}
	return int64(v)
}
