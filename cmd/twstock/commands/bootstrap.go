package commands

import (
	"fmt"

	"github.com/ycwei/twstock/internal/collector"
	"github.com/ycwei/twstock/internal/external/tpex"
	"github.com/ycwei/twstock/internal/external/twse"
	"github.com/ycwei/twstock/internal/market"
	"github.com/ycwei/twstock/internal/planner"
	"github.com/ycwei/twstock/internal/stocklist"
	"github.com/ycwei/twstock/internal/store"
	"github.com/ycwei/twstock/pkg/config"
	"github.com/ycwei/twstock/pkg/logger"
)

// app bundles the wired components every command starts from.
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	stocks    *stocklist.List
	collector *collector.Collector
}

// bootstrap loads config and wires the full pipeline
// ⭐ SSOT: 元件組裝只在這個函式
func bootstrap() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	log := logger.New(cfg)

	tseClient := twse.NewClient(cfg.TWSE, log)
	tpexClient := tpex.NewClient(cfg.TPEX, log)

	stocks, err := stocklist.Load(cfg.StocksFile, log)
	if err != nil {
		return nil, fmt.Errorf("load stock list: %w", err)
	}

	classifier := market.NewClassifier(stocks.MarketMap(), tseClient, tpexClient, log)
	plan := planner.New(cfg.LookbackDays, log)
	st := store.New(cfg.DataDir, log)

	col := collector.New(stocks, classifier, plan, st, tseClient, tpexClient, log)

	return &app{
		cfg:       cfg,
		log:       log,
		stocks:    stocks,
		collector: col,
	}, nil
}
