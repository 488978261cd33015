package twse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ycwei/twstock/internal/calendar"
	"github.com/ycwei/twstock/pkg/config"
	"github.com/ycwei/twstock/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&config.Config{Env: "test", LogLevel: "error", LogFormat: "json"})
}

func testClient(baseURL string) *Client {
	return NewClient(config.SourceConfig{
		BaseURL:      baseURL,
		Timeout:      5 * time.Second,
		RequestDelay: 10 * time.Millisecond,
		MaxRetries:   3,
	}, testLogger())
}

var stockDayFields = []string{"日期", "成交股數", "成交金額", "開盤價", "最高價", "最低價", "收盤價", "漲跌價差", "成交筆數"}

func stockDayOK(data [][]string) string {
	b, _ := json.Marshal(stockDayResponse{
		Stat:   "OK",
		Fields: stockDayFields,
		Data:   data,
	})
	return string(b)
}

func TestFetchMonth_ParsesRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exchangeReport/STOCK_DAY", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("response"))
		assert.Equal(t, "20241101", r.URL.Query().Get("date"))
		assert.Equal(t, "2330", r.URL.Query().Get("stockNo"))

		w.Write([]byte(stockDayOK([][]string{
			{"113/11/01", "25,761,559", "26,571,147,959", "1,025.00", "1,040.00", "1,020.00", "1,035.00", "+10.00", "28,560"},
			{"113/11/04", "31,397,097", "31,912,690,661", "1,020.00", "1,025.00", "1,010.00", "1,015.00", "-20.00", "35,402"},
		})))
	}))
	defer server.Close()

	rows, err := testClient(server.URL).FetchMonth(context.Background(), "2330", 2024, time.November)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, calendar.Date(2024, time.November, 1), rows[0].Date)
	assert.Equal(t, 1025.00, rows[0].Open)
	assert.Equal(t, 1035.00, rows[0].Close)
	assert.Equal(t, int64(25761559), rows[0].Volume)
	assert.Equal(t, int64(26571147959), rows[0].Turnover)
	assert.Equal(t, int64(28560), rows[0].Transactions)
	assert.Equal(t, calendar.Date(2024, time.November, 4), rows[1].Date)
}

func TestFetchMonth_NoTradePlaceholders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(stockDayOK([][]string{
			{"113/11/05", "0", "0", "--", "--", "--", "50.00", "X", "0"},
		})))
	}))
	defer server.Close()

	rows, err := testClient(server.URL).FetchMonth(context.Background(), "9999", 2024, time.November)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, 0.0, rows[0].Open)
	assert.Equal(t, 0.0, rows[0].High)
	assert.Equal(t, 50.0, rows[0].Close)
	assert.Equal(t, int64(0), rows[0].Volume)
}

func TestFetchMonth_RetriesOnNonOKStat(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.Write([]byte(`{"stat":"很抱歉，沒有符合條件的資料!"}`))
			return
		}
		w.Write([]byte(stockDayOK([][]string{
			{"113/11/01", "100", "5000", "50.00", "51.00", "49.50", "50.50", "+0.50", "10"},
		})))
	}))
	defer server.Close()

	rows, err := testClient(server.URL).FetchMonth(context.Background(), "2330", 2024, time.November)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, rows, 1)
}

func TestFetchMonth_ExhaustsRetries(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	rows, err := testClient(server.URL).FetchMonth(context.Background(), "2330", 2024, time.November)
	assert.Error(t, err)
	assert.Nil(t, rows)
	assert.Equal(t, 3, calls)
}

func TestFetchMonth_MalformedJSONNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	rows, err := testClient(server.URL).FetchMonth(context.Background(), "2330", 2024, time.November)
	require.NoError(t, err)
	assert.Nil(t, rows)
	assert.Equal(t, 1, calls)
}

func TestFetchRange_IteratesMonthsAndTrims(t *testing.T) {
	var requested []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		requested = append(requested, date)

		var data [][]string
		switch date {
		case "20241001":
			data = [][]string{
				{"113/10/14", "100", "5000", "50.00", "51.00", "49.50", "50.50", "+0.50", "10"},
				{"113/10/31", "100", "5000", "50.50", "51.00", "49.50", "50.80", "+0.30", "10"},
			}
		case "20241101":
			data = [][]string{
				{"113/11/01", "100", "5000", "50.80", "51.00", "49.50", "50.20", "-0.60", "10"},
				{"113/11/20", "100", "5000", "50.20", "51.00", "49.50", "50.00", "-0.20", "10"},
			}
		}
		w.Write([]byte(stockDayOK(data)))
	}))
	defer server.Close()

	rows, err := testClient(server.URL).FetchRange(context.Background(),
		"2330",
		calendar.Date(2024, time.October, 15),
		calendar.Date(2024, time.November, 10),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"20241001", "20241101"}, requested)
	// 10/14 and 11/20 fall outside the requested boundaries.
	require.Len(t, rows, 2)
	assert.Equal(t, calendar.Date(2024, time.October, 31), rows[0].Date)
	assert.Equal(t, calendar.Date(2024, time.November, 1), rows[1].Date)
}

func TestFetchRange_ClampsToMinQueryDate(t *testing.T) {
	var first string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if first == "" {
			first = r.URL.Query().Get("date")
		}
		w.Write([]byte(stockDayOK(nil)))
	}))
	defer server.Close()

	_, err := testClient(server.URL).FetchRange(context.Background(),
		"2330",
		calendar.Date(2005, time.June, 1),
		calendar.Date(2010, time.February, 10),
	)
	require.NoError(t, err)
	assert.Equal(t, "20100101", first)
}

func TestFetchRange_EndBeforeStart(t *testing.T) {
	_, err := testClient("http://unused.invalid").FetchRange(context.Background(),
		"2330",
		calendar.Date(2024, time.June, 1),
		calendar.Date(2024, time.May, 1),
	)
	assert.Error(t, err)
}

func TestProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20241001", r.URL.Query().Get("date"))
		if r.URL.Query().Get("stockNo") == "2330" {
			w.Write([]byte(stockDayOK([][]string{
				{"113/10/01", "100", "5000", "50.00", "51.00", "49.50", "50.50", "+0.50", "10"},
			})))
			return
		}
		w.Write([]byte(`{"stat":"很抱歉，沒有符合條件的資料!"}`))
	}))
	defer server.Close()

	c := testClient(server.URL)
	assert.True(t, c.Probe(context.Background(), "2330"))
	assert.False(t, c.Probe(context.Background(), "6446"))
}

func TestProbe_SingleAttemptLeavesRetriesIntact(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := testClient(server.URL)

	assert.False(t, c.Probe(context.Background(), "2330"))
	assert.Equal(t, 1, calls)

	_, err := c.FetchMonth(context.Background(), "2330", 2024, time.November)
	assert.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestNormalizeNumeric(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1,234,567", "1234567"},
		{"--", "0"},
		{"X", "0"},
		{"+10.00", "10.00"},
		{"-3.50", "-3.50"},
		{" 42 ", "42"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeNumeric(tt.in), "input %q", tt.in)
	}
}
