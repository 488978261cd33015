package market

import (
	"context"
	"errors"

	"github.com/ycwei/twstock/pkg/logger"
)

// ErrUnclassified is returned when a symbol matches no configured
// market and neither source's probe finds data for it.
var ErrUnclassified = errors.New("market: symbol matches no known or probeable market")

// Classifier resolves the owning market of a symbol. The static map
// built from configuration is authoritative; unconfigured symbols fall
// back to a live dual-probe, TSE first.
// ⭐ SSOT: 市場歸屬判斷只在這裡
type Classifier struct {
	static map[string]Market
	tse    Source
	tpex   Source
	logger *logger.Logger
}

// NewClassifier creates a classifier over an immutable code->market
// map. The map is built once at startup by the stock list loader.
func NewClassifier(static map[string]Market, tse, tpex Source, log *logger.Logger) *Classifier {
	return &Classifier{
		static: static,
		tse:    tse,
		tpex:   tpex,
		logger: log.WithField("module", "classifier"),
	}
}

// Classify returns the market owning code. Configured symbols never
// hit the network. Unconfigured symbols are probed against TSE then
// TPEX; Unknown means neither probe found data.
func (c *Classifier) Classify(ctx context.Context, code string) Market {
	if m, ok := c.static[code]; ok {
		return m
	}

	c.logger.WithField("code", code).Info("Symbol not configured, probing markets")

	if c.tse != nil && c.tse.Probe(ctx, code) {
		c.logger.WithField("code", code).Info("Probe classified symbol as TSE")
		return TSE
	}
	if c.tpex != nil && c.tpex.Probe(ctx, code) {
		c.logger.WithField("code", code).Info("Probe classified symbol as TPEX")
		return TPEX
	}

	c.logger.WithField("code", code).Warn("Probes found no market for symbol")
	return Unknown
}
