// Package stocklist loads the line-oriented stock configuration file.
// Each non-comment line is "code,name,market,target"; the loader
// derives the ordered active symbol list and the immutable
// code->market map consumed by the classifier.
package stocklist

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/ycwei/twstock/internal/market"
	"github.com/ycwei/twstock/pkg/logger"
)

// Stock is one configured symbol.
type Stock struct {
	Code   string
	Name   string
	Market market.Market
	Target bool // 是否為追蹤標的
}

// List is the parsed stock configuration. Read-only after Load.
type List struct {
	stocks []Stock
	byCode map[string]Stock
}

// Load parses the configuration file. A missing file is not an error:
// it yields an empty list, matching first-run behavior.
func Load(path string, log *logger.Logger) (*List, error) {
	l := &List{byCode: make(map[string]Stock)}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("path", path).Warn("Stock config file not found, starting with empty list")
			return l, nil
		}
		return nil, fmt.Errorf("open stock config: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		// Skip comments and blank lines
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) < 3 {
			log.WithFields(map[string]interface{}{
				"line":    lineNo,
				"content": line,
			}).Warn("Skipping malformed stock config line")
			continue
		}

		code := strings.TrimSpace(parts[0])
		name := strings.TrimSpace(parts[1])
		tag := strings.ToUpper(strings.TrimSpace(parts[2]))

		m, known := market.ParseMarket(tag)
		if !known {
			log.WithFields(map[string]interface{}{
				"code":   code,
				"market": tag,
			}).Warn("Unknown market tag, defaulting to TSE")
		}

		target := true
		if len(parts) >= 4 {
			target = strings.ToUpper(strings.TrimSpace(parts[3])) == "Y"
		}

		s := Stock{Code: code, Name: name, Market: m, Target: target}
		if _, dup := l.byCode[code]; dup {
			log.WithField("code", code).Warn("Duplicate stock entry, keeping first")
			continue
		}
		l.stocks = append(l.stocks, s)
		l.byCode[code] = s
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stock config: %w", err)
	}

	return l, nil
}

// Append adds a symbol to the configuration file and the in-memory
// list. Used by the add-stock utility, not by the fetch pipeline.
func (l *List) Append(path string, s Stock) error {
	if _, exists := l.byCode[s.Code]; exists {
		return fmt.Errorf("stock %s already configured", s.Code)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open stock config for append: %w", err)
	}
	defer f.Close()

	target := "N"
	if s.Target {
		target = "Y"
	}
	if _, err := fmt.Fprintf(f, "%s,%s,%s,%s\n", s.Code, s.Name, s.Market, target); err != nil {
		return fmt.Errorf("append stock config: %w", err)
	}

	l.stocks = append(l.stocks, s)
	l.byCode[s.Code] = s
	return nil
}

// Codes returns all configured symbol codes in file order.
func (l *List) Codes() []string {
	codes := make([]string, 0, len(l.stocks))
	for _, s := range l.stocks {
		codes = append(codes, s.Code)
	}
	return codes
}

// ActiveCodes returns the target symbols in file order.
func (l *List) ActiveCodes() []string {
	codes := make([]string, 0, len(l.stocks))
	for _, s := range l.stocks {
		if s.Target {
			codes = append(codes, s.Code)
		}
	}
	return codes
}

// MarketMap returns the immutable code->market mapping built at load.
func (l *List) MarketMap() map[string]market.Market {
	m := make(map[string]market.Market, len(l.byCode))
	for code, s := range l.byCode {
		m[code] = s.Market
	}
	return m
}

// Get looks up a configured stock by code.
func (l *List) Get(code string) (Stock, bool) {
	s, ok := l.byCode[code]
	return s, ok
}

// Len returns the number of configured stocks.
func (l *List) Len() int {
	return len(l.stocks)
}

// CountByMarket returns how many configured stocks belong to m.
func (l *List) CountByMarket(m market.Market) int {
	n := 0
	for _, s := range l.stocks {
		if s.Market == m {
			n++
		}
	}
	return n
}

// All returns a copy of the configured stocks in file order.
func (l *List) All() []Stock {
	out := make([]Stock, len(l.stocks))
	copy(out, l.stocks)
	return out
}
