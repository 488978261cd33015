package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ycwei/twstock/internal/calendar"
	"github.com/ycwei/twstock/internal/collector"
	"github.com/ycwei/twstock/internal/store"
	"github.com/ycwei/twstock/pkg/logger"
)

// DataHandler handles price-data API endpoints
// ⭐ SSOT: 資料 API 處理只在這個結構
type DataHandler struct {
	collector *collector.Collector
	logger    *logger.Logger
}

// NewDataHandler creates a new data handler
func NewDataHandler(col *collector.Collector, log *logger.Logger) *DataHandler {
	return &DataHandler{
		collector: col,
		logger:    log,
	}
}

// GetStatus returns per-source connectivity and configured symbol counts
// GET /api/status
func (h *DataHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	connections := h.collector.TestConnections(ctx)
	stocks := h.collector.Stocks()

	markets := make(map[string]interface{}, len(connections))
	for m, ok := range connections {
		markets[string(m)] = map[string]interface{}{
			"connected": ok,
			"symbols":   stocks.CountByMarket(m),
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"markets":       markets,
		"total_symbols": stocks.Len(),
	})
}

// stockInfo is one entry of the stock list response.
type stockInfo struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Market string `json:"market"`
	Target bool   `json:"target"`
}

// GetStocks returns the configured stock list
// GET /api/stocks
func (h *DataHandler) GetStocks(w http.ResponseWriter, r *http.Request) {
	all := h.collector.Stocks().All()
	out := make([]stockInfo, 0, len(all))
	for _, s := range all {
		out = append(out, stockInfo{
			Code:   s.Code,
			Name:   s.Name,
			Market: string(s.Market),
			Target: s.Target,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// pricePoint is one daily row of the prices response. Change is null
// on the first row of a series.
type pricePoint struct {
	Date         string   `json:"date"`
	DateROC      string   `json:"date_roc"`
	Open         float64  `json:"open"`
	High         float64  `json:"high"`
	Low          float64  `json:"low"`
	Close        float64  `json:"close"`
	Volume       int64    `json:"volume"`
	Turnover     int64    `json:"turnover"`
	Transactions int64    `json:"transactions"`
	Change       *float64 `json:"change"`
}

// GetPrices returns the stored series for one symbol
// GET /api/stocks/{code}/prices
func (h *DataHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	points, err := h.collector.Load(code)
	if err != nil {
		if errors.Is(err, store.ErrNoData) {
			respondError(w, http.StatusNotFound, "No data for symbol "+code)
			return
		}
		h.logger.WithError(err).WithField("code", code).Error("Failed to load series")
		respondError(w, http.StatusInternalServerError, "Failed to load series")
		return
	}

	out := make([]pricePoint, 0, len(points))
	for _, p := range points {
		row := pricePoint{
			Date:         p.Date.Format("2006-01-02"),
			DateROC:      calendar.FormatROC(p.Date),
			Open:         p.Open,
			High:         p.High,
			Low:          p.Low,
			Close:        p.Close,
			Volume:       p.Volume,
			Turnover:     p.Turnover,
			Transactions: p.Transactions,
		}
		if p.HasChange {
			change := p.Change
			row.Change = &change
		}
		out = append(out, row)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"code":   code,
		"rows":   len(out),
		"prices": out,
	})
}

// CollectRequest represents a collection trigger
type CollectRequest struct {
	Type string `json:"type"` // "all", "stale", "symbol", "range"
	Code string `json:"code"` // for "symbol"
	From string `json:"from"` // for "range" (YYYY-MM-DD)
	To   string `json:"to"`   // for "range" (YYYY-MM-DD)
}

// CollectResponse represents a collection result
type CollectResponse struct {
	Status   string      `json:"status"`
	Type     string      `json:"type"`
	Updated  int         `json:"updated"`
	UpToDate int         `json:"up_to_date"`
	Failed   int         `json:"failed"`
	Skipped  int         `json:"skipped"`
	Outcomes interface{} `json:"outcomes,omitempty"`
}

// Collect triggers a collection run
// POST /api/collect
func (h *DataHandler) Collect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CollectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Type == "" {
		req.Type = "all"
	}

	h.logger.WithField("type", req.Type).Info("Collection triggered via API")

	var summary collector.Summary
	switch req.Type {
	case "all":
		summary = h.collector.FetchAll(ctx)

	case "stale":
		summary = h.collector.UpdateStale(ctx)

	case "symbol":
		if req.Code == "" {
			respondError(w, http.StatusBadRequest, "'code' is required for type=symbol")
			return
		}
		summary.Add(h.collector.FetchSymbol(ctx, req.Code))

	case "range":
		from, err := time.Parse("2006-01-02", req.From)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid 'from' date format (expected YYYY-MM-DD)")
			return
		}
		to, err := time.Parse("2006-01-02", req.To)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid 'to' date format (expected YYYY-MM-DD)")
			return
		}
		summary = h.collector.FetchAllByRange(ctx, from, to)

	default:
		respondError(w, http.StatusBadRequest, "Invalid collection type (valid: all, stale, symbol, range)")
		return
	}

	respondJSON(w, http.StatusOK, CollectResponse{
		Status:   "success",
		Type:     req.Type,
		Updated:  summary.Updated,
		UpToDate: summary.UpToDate,
		Failed:   summary.Failed,
		Skipped:  summary.Skipped,
		Outcomes: outcomeViews(summary.Outcomes),
	})
}

// outcomeView is the JSON shape of one per-symbol outcome.
type outcomeView struct {
	Code   string `json:"code"`
	Market string `json:"market"`
	Status string `json:"status"`
	Rows   int    `json:"rows"`
	Error  string `json:"error,omitempty"`
}

func outcomeViews(outcomes []collector.Outcome) []outcomeView {
	out := make([]outcomeView, 0, len(outcomes))
	for _, o := range outcomes {
		v := outcomeView{
			Code:   o.Code,
			Market: string(o.Market),
			Status: string(o.Status),
			Rows:   o.Rows,
		}
		if o.Err != nil {
			v.Error = o.Err.Error()
		}
		out = append(out, v)
	}
	return out
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
