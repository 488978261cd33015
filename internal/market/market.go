// Package market defines which upstream source owns a symbol and the
// uniform capability every source adapter exposes.
package market

import (
	"context"
	"time"

	"github.com/ycwei/twstock/internal/series"
)

// Market identifies the exchange a symbol trades on.
type Market string

const (
	TSE     Market = "TSE"  // 上市 (Taiwan Stock Exchange)
	TPEX    Market = "TPEX" // 上櫃 (Taipei Exchange)
	Unknown Market = "UNKNOWN"
)

// ParseMarket normalizes a configured market tag. Unrecognized tags
// default to TSE; the caller decides whether to log a warning.
func ParseMarket(tag string) (Market, bool) {
	switch Market(tag) {
	case TSE:
		return TSE, true
	case TPEX:
		return TPEX, true
	default:
		return TSE, false
	}
}

// Source is the uniform fetch capability of one upstream data source.
// Implementations own their HTTP client, pacing and per-period retry;
// a month with no data yields an empty slice and a nil error, so
// callers treat "no rows" and "no data this period" identically.
type Source interface {
	// Market returns the market this source serves.
	Market() Market

	// FetchMonth retrieves all trading days of one calendar month for
	// one symbol. Rows are normalized to the canonical unit basis.
	FetchMonth(ctx context.Context, code string, year int, month time.Month) ([]series.PricePoint, error)

	// FetchRange retrieves rows covering [start, end], iterating the
	// spanning calendar months and trimming to the exact boundaries.
	FetchRange(ctx context.Context, code string, start, end time.Time) ([]series.PricePoint, error)

	// Probe performs a single lightweight fetch for a fixed recent
	// reference period and reports whether the symbol has data there.
	Probe(ctx context.Context, code string) bool

	// TestConnection performs a single lightweight health check.
	TestConnection(ctx context.Context) bool
}
