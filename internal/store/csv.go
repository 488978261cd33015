// Package store persists one CSV file per symbol under the data
// directory, in the canonical output format: ROC dates, Chinese header
// vocabulary, sign-prefixed day-over-day change.
package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ycwei/twstock/internal/calendar"
	"github.com/ycwei/twstock/internal/series"
	"github.com/ycwei/twstock/pkg/logger"
)

// ErrNoData is returned when a symbol has no stored series yet.
var ErrNoData = errors.New("store: no data for symbol")

// canonicalHeader is the column vocabulary every written file carries.
var canonicalHeader = []string{
	"交易日期", "成交股數", "成交金額", "開盤價", "最高價", "最低價", "收盤價", "漲跌價差", "成交筆數",
}

// englishHeader is the source-native vocabulary; files written by
// earlier tooling used it and must still load.
var englishHeader = []string{
	"date", "volume", "turnover", "open", "high", "low", "close", "change", "transactions",
}

// noChange marks a row without a previous close to diff against.
const noChange = "X"

// Store reads and writes per-symbol CSV series
// ⭐ SSOT: 檔案格式只在這個套件定義
type Store struct {
	dir    string
	logger *logger.Logger
}

// New creates a store rooted at dataDir. The directory is created on
// first write, not here.
func New(dataDir string, log *logger.Logger) *Store {
	return &Store{
		dir:    dataDir,
		logger: log.WithField("module", "store"),
	}
}

// ForRange returns a store rooted at the dedicated subdirectory for an
// explicit date-range fetch, so range extracts never collide with the
// rolling per-symbol history.
func (s *Store) ForRange(start, end time.Time) *Store {
	sub := fmt.Sprintf("date_range_%s_%s", start.Format("20060102"), end.Format("20060102"))
	return &Store{
		dir:    filepath.Join(s.dir, sub),
		logger: s.logger,
	}
}

// Dir returns the directory this store writes into.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the CSV path for one symbol.
func (s *Store) Path(code string) string {
	return filepath.Join(s.dir, code+".csv")
}

// Load reads the stored series for one symbol. A missing file yields
// ErrNoData; a file whose header matches neither the canonical nor the
// source-native vocabulary is an error, not silently empty.
func (s *Store) Load(code string) ([]series.PricePoint, error) {
	f, err := os.Open(s.Path(code))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoData, code)
		}
		return nil, fmt.Errorf("open series for %s: %w", code, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read series header for %s: %w", code, err)
	}
	if !headerMatches(header, canonicalHeader) && !headerMatches(header, englishHeader) {
		return nil, fmt.Errorf("series file for %s has unrecognized header %v", code, header)
	}

	var points []series.PricePoint
	line := 1
	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		line++
		if len(record) < len(canonicalHeader) {
			s.logger.WithFields(map[string]interface{}{
				"code": code,
				"line": line,
			}).Warn("Skipping short series row")
			continue
		}

		date, err := calendar.ParseROC(record[0])
		if err != nil {
			s.logger.WithFields(map[string]interface{}{
				"code":  code,
				"line":  line,
				"value": record[0],
			}).Warn("Skipping series row with bad date")
			continue
		}

		p := series.PricePoint{
			Date:         date,
			Volume:       parseInt(record[1]),
			Turnover:     parseInt(record[2]),
			Open:         parseFloat(record[3]),
			High:         parseFloat(record[4]),
			Low:          parseFloat(record[5]),
			Close:        parseFloat(record[6]),
			Transactions: parseInt(record[8]),
		}
		if change := strings.TrimSpace(record[7]); change != noChange && change != "" {
			p.Change = parseFloat(change)
			p.HasChange = true
		}
		points = append(points, p)
	}

	return points, nil
}

// Write replaces the stored series for one symbol. Rows are sorted
// ascending by Gregorian date before writing, and the file lands via a
// temp file plus rename so readers never observe a half-written file.
func (s *Store) Write(code string, points []series.PricePoint) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	sorted := make([]series.PricePoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	tmp, err := os.CreateTemp(s.dir, code+".csv.tmp-*")
	if err != nil {
		return fmt.Errorf("create temp series file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := csv.NewWriter(tmp)
	if err := w.Write(canonicalHeader); err != nil {
		tmp.Close()
		return fmt.Errorf("write series header: %w", err)
	}
	for _, p := range sorted {
		record := []string{
			calendar.FormatROC(p.Date),
			strconv.FormatInt(p.Volume, 10),
			strconv.FormatInt(p.Turnover, 10),
			formatPrice(p.Open),
			formatPrice(p.High),
			formatPrice(p.Low),
			formatPrice(p.Close),
			formatChange(p),
			strconv.FormatInt(p.Transactions, 10),
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			return fmt.Errorf("write series row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush series file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp series file: %w", err)
	}

	if err := os.Rename(tmpName, s.Path(code)); err != nil {
		return fmt.Errorf("replace series file for %s: %w", code, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"code": code,
		"rows": len(sorted),
		"path": s.Path(code),
	}).Debug("Wrote series file")
	return nil
}

// Exists reports whether a stored series file is present for code.
func (s *Store) Exists(code string) bool {
	_, err := os.Stat(s.Path(code))
	return err == nil
}

func headerMatches(got, want []string) bool {
	if len(got) < len(want) {
		return false
	}
	for i, w := range want {
		if strings.TrimSpace(got[i]) != w {
			return false
		}
	}
	return true
}

// formatPrice renders prices with two decimals, matching the exchange
// display convention.
func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// formatChange renders the day-over-day delta sign-prefixed, with the
// X sentinel for the first row of a series.
func formatChange(p series.PricePoint) string {
	if !p.HasChange {
		return noChange
	}
	if p.Change >= 0 {
		return "+" + strconv.FormatFloat(p.Change, 'f', 2, 64)
	}
	return strconv.FormatFloat(p.Change, 'f', 2, 64)
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	s = strings.TrimPrefix(s, "+")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(s string) int64 {
	return int64(parseFloat(s))
}
